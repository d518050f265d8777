package client

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-marquee/internal/recommend"
)

type mockFlightServer struct {
	flight.BaseFlightServer
	recs    map[string][]recommend.Recommendation
	mu      sync.Mutex
	tickets []string
}

func (s *mockFlightServer) DoGet(tkt *flight.Ticket, fs flight.FlightService_DoGetServer) error {
	s.mu.Lock()
	s.tickets = append(s.tickets, string(tkt.GetTicket()))
	s.mu.Unlock()
	rec, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(s.recs[string(tkt.GetTicket())])
	if err != nil {
		return err
	}
	defer rec.Release()

	w := flight.NewRecordWriter(fs, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		return err
	}
	return w.Close()
}

func TestFlightClient_DoGet(t *testing.T) {
	mockServer := &mockFlightServer{recs: map[string][]recommend.Recommendation{
		"A": {
			{Rank: 1, Title: "B", Score: 0.9, PosterURL: "https://posters.example/B"},
			{Rank: 2, Title: "D", Score: 0.8, PosterURL: "https://posters.example/D"},
		},
	}}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mockServer)

	err := server.Init("localhost:0")
	require.NoError(t, err)
	addr := server.Addr().String()

	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	recs, err := client.DoGet(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, mockServer.recs["A"], recs)

	recs, err = client.DoGet(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, recs)
	mockServer.mu.Lock()
	defer mockServer.mu.Unlock()
	assert.Equal(t, []string{"A", "unknown"}, mockServer.tickets)
}
