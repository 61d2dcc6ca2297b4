package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/flexygent/flexygent/pkg/interaction"
)

// Broadcaster fans event frames out to every connected client. Frames carry
// a monotonically increasing sequence number so clients can detect gaps.
type Broadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Uint64
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast delivers a run event to every client.
func (b *Broadcaster) Broadcast(ev interaction.Event) {
	msg := EventMessage{
		Event: string(ev.Kind),
		RunID: ev.RunID,
		Data:  ev.Payload,
	}
	if !ev.At.IsZero() {
		msg.Timestamp = ev.At.UnixMilli()
	}
	b.BroadcastMessage(msg)
}

// BroadcastMessage delivers a raw frame, filling in Type, Seq and Timestamp.
// Clients whose connection stalls or fails are dropped from the registry.
func (b *Broadcaster) BroadcastMessage(msg EventMessage) {
	msg.Type = "event"
	msg.Seq = b.seq.Add(1)
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Uint64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	for _, client := range b.clients.All() {
		if err := client.Write(data); err != nil {
			b.clients.Remove(client.ID)
			_ = client.Close()
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Uint64("seq", msg.Seq).
				Msg("Dropping slow client")
		}
	}
}
