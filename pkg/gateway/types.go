package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventMessage is one server-to-client frame on the event stream.
type EventMessage struct {
	Type      string `json:"type"`
	Seq       uint64 `json:"seq"`
	Event     string `json:"event"`
	RunID     string `json:"run_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client frame types accepted after authentication.
const (
	FrameConfirm = "confirm"
	FrameAnswer  = "answer"
)

// ClientFrame is one client-to-server frame. Confirm frames carry Approved,
// answer frames carry Answer; both name the pending request by ID.
type ClientFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Approved bool   `json:"approved,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// authFrame must be the first frame a client sends on /v1/events.
type authFrame struct {
	Secret string `json:"secret"`
}

// authResult acknowledges or rejects the auth frame.
type authResult struct {
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
	Task         string         `json:"task"`
	Tools        []string       `json:"tools,omitempty"`
	Session      string         `json:"session,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// CreateRunResponse acknowledges an accepted run.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeTimeout bounds a single frame write; a client that cannot keep up
// within it is dropped.
const writeTimeout = 10 * time.Second

// Client is one authenticated event-stream consumer.
type Client struct {
	ID          string
	IP          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Write sends one text frame. Gorilla connections allow a single writer at a
// time and broadcasts arrive from any run's goroutine, hence the lock.
func (c *Client) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON marshals v and sends it as one frame.
func (c *Client) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(data)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
