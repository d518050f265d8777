package main

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-marquee/internal/client"
)

// MarqueeFlightServer answers DoGet tickets holding a movie title with the
// recommendation list as a single record batch.
type MarqueeFlightServer struct {
	flight.BaseFlightServer
	engine  RecommenderInterface
	builder *client.RecordBatchBuilder
}

func NewMarqueeFlightServer(engine RecommenderInterface) *MarqueeFlightServer {
	return &MarqueeFlightServer{
		engine:  engine,
		builder: client.NewRecordBatchBuilder(memory.NewGoAllocator()),
	}
}

func (s *MarqueeFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx, span := tracer.Start(stream.Context(), "DoGet")
	defer span.End()

	title := string(tkt.GetTicket())
	if title == "" {
		return status.Error(codes.InvalidArgument, "ticket must hold a movie title")
	}

	recs, found := s.engine.Recommendations(ctx, title)
	log.Debug().Str("title", title).Bool("found", found).Int("count", len(recs)).Msg("DoGet")

	rec, err := s.builder.BuildRecordBatch(recs)
	if err != nil {
		return err
	}
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func startFlightServer(ctx context.Context, addr string, engine RecommenderInterface) error {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewMarqueeFlightServer(engine))

	if err := server.Init(addr); err != nil {
		return fmt.Errorf("init flight server: %w", err)
	}

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Str("addr", server.Addr().String()).Msg("Starting Marquee Flight Server")
	if err := server.Serve(); err != nil {
		return fmt.Errorf("flight server: %w", err)
	}
	return nil
}
