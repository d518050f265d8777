package client

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-marquee/internal/recommend"
)

// FlightClient asks a remote marquee server for recommendations via Apache Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client: client,
		conn:   conn,
	}, nil
}

// DoGet fetches the recommendations for title. The ticket is the raw title.
func (c *FlightClient) DoGet(ctx context.Context, title string) ([]recommend.Recommendation, error) {
	stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(title)})
	if err != nil {
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	recs := []recommend.Recommendation{}
	for reader.Next() {
		batch, err := ReadRecommendations(reader.Record())
		if err != nil {
			return nil, err
		}
		recs = append(recs, batch...)
	}
	return recs, reader.Err()
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
