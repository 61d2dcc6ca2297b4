package audit

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event is one structured entry in the policy audit trail.
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Action    string                 `json:"action"` // e.g. "execute:web.fetch", "deny:fs.write_file"
	Status    string                 `json:"status"` // "success", "failure", "denied", "approved"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// Logger records policy-relevant events to an append-only JSON log.
type Logger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	instMu sync.Mutex
	inst   *Logger
)

// Get returns the global audit logger. Before Init it writes to stderr.
func Get() *Logger {
	instMu.Lock()
	defer instMu.Unlock()
	if inst == nil {
		inst = &Logger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	}
	return inst
}

// Init points the global audit logger at an append-only file. A previously
// initialized file is closed.
func Init(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	instMu.Lock()
	previous := inst
	inst = &Logger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	instMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Record writes the event, attaching the active trace if the context has one.
func (l *Logger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
		))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.logger.Log().
		Str("type", event.Type).
		Str("run_id", event.RunID).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ToolExecuted records a completed tool execution.
func ToolExecuted(ctx context.Context, runID, tool, status string, metadata map[string]interface{}) {
	Get().Record(ctx, Event{
		Type:     "tool",
		RunID:    runID,
		Action:   "execute:" + tool,
		Status:   status,
		Metadata: metadata,
	})
}

// ToolDenied records a policy denial.
func ToolDenied(ctx context.Context, runID, tool, reason string) {
	Get().Record(ctx, Event{
		Type:     "policy",
		RunID:    runID,
		Action:   "deny:" + tool,
		Status:   "denied",
		Metadata: map[string]interface{}{"reason": reason},
	})
}

// Confirmation records a human confirmation decision for a tool call.
func Confirmation(ctx context.Context, runID, tool string, approved bool) {
	status := "denied"
	if approved {
		status = "approved"
	}
	Get().Record(ctx, Event{
		Type:   "policy",
		RunID:  runID,
		Action: "confirm:" + tool,
		Status: status,
	})
}
