package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexygent/flexygent/pkg/interaction"
)

func TestBroadcaster_SequencesFrames(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", conn: serverConn})

	broadcaster := NewBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast(interaction.Event{
		Kind:    interaction.EventToolCall,
		RunID:   "run-1",
		Payload: map[string]any{"tool": "system.echo"},
		At:      time.Now(),
	})
	broadcaster.Broadcast(interaction.Event{
		Kind:    interaction.EventToolResult,
		RunID:   "run-1",
		Payload: map[string]any{"tool": "system.echo", "ok": true},
		At:      time.Now(),
	})

	var first EventMessage
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&first))

	var second EventMessage
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&second))

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "tool.call", first.Event)
	assert.Equal(t, "run-1", first.RunID)
	assert.NotZero(t, first.Seq)
	assert.NotZero(t, first.Timestamp)

	assert.Equal(t, "event", second.Type)
	assert.Equal(t, "tool.result", second.Event)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestBroadcaster_BroadcastMessageFillsDefaults(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", conn: serverConn})

	broadcaster := NewBroadcaster(registry, zerolog.Nop())
	broadcaster.BroadcastMessage(EventMessage{
		Event: "run.archived",
		RunID: "run-9",
		Data:  map[string]any{"finish_reason": "completed"},
	})

	var event EventMessage
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&event))

	assert.Equal(t, "event", event.Type)
	assert.Equal(t, "run.archived", event.Event)
	assert.Equal(t, "run-9", event.RunID)
	assert.NotZero(t, event.Seq)
	assert.NotZero(t, event.Timestamp)
}

func TestBroadcaster_DropsFailedClients(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	registry := NewClientRegistry()
	registry.Add(&Client{ID: "client-1", conn: serverConn})
	require.Equal(t, 1, registry.Count())

	// A closed connection fails the next write and evicts the client.
	require.NoError(t, serverConn.Close())
	_ = clientConn.Close()

	broadcaster := NewBroadcaster(registry, zerolog.Nop())
	broadcaster.Broadcast(interaction.Event{Kind: interaction.EventStep, RunID: "run-1"})

	assert.Equal(t, 0, registry.Count())
}

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}

	return serverConn, clientConn, cleanup
}
