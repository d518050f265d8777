package main

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-marquee/internal/client"
	"github.com/23skdu/longbow-marquee/internal/recommend"
)

func TestFlightServer_DoGet(t *testing.T) {
	me := &mockEngine{}
	me.On("Recommendations", mock.Anything, "Inception").Return(inceptionRecs, true)
	me.On("Recommendations", mock.Anything, "Nope").Return([]recommend.Recommendation{}, false)

	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewMarqueeFlightServer(me))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	recs, err := fc.DoGet(context.Background(), "Inception")
	require.NoError(t, err)
	assert.Equal(t, inceptionRecs, recs)

	recs, err = fc.DoGet(context.Background(), "Nope")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = fc.DoGet(context.Background(), "")
	assert.Error(t, err)

	me.AssertExpectations(t)
}
