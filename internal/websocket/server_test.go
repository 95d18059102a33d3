package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-labs/skyward/internal/tracker"
	"github.com/skyward-labs/skyward/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	srv := NewServer(logger.NewNop())
	go srv.Run()

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnection))
	t.Cleanup(ts.Close)

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitForClients(t *testing.T, srv *Server, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, have %d", want, srv.ClientCount())
}

func TestClientConnectBroadcastDisconnect(t *testing.T) {
	t.Parallel()

	srv, url := newTestServer(t)

	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	waitForClients(t, srv, 1)

	srv.BroadcastPositions(&tracker.FrameResponse{
		Timestamp: time.Now().UTC(),
		Count:     1,
		Positions: []tracker.RenderedPosition{
			{ID: "c0ffee", Lon: -79.6, Lat: 43.7, Heading: 270, Opacity: 1.0},
		},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypePositionUpdate, msg.Type)
	assert.EqualValues(t, 1, msg.Data["count"])

	// Dropping the connection must unwind the client through the
	// unregister path
	require.NoError(t, conn.Close())
	waitForClients(t, srv, 0)
}

func TestBroadcastPositionsSkipsWithNoClients(t *testing.T) {
	t.Parallel()

	srv := NewServer(logger.NewNop())

	// No Run loop is draining the broadcast channel; this returns
	// without blocking only because the empty hub short-circuits
	srv.BroadcastPositions(&tracker.FrameResponse{Count: 3})
	assert.Equal(t, 0, srv.ClientCount())
}
