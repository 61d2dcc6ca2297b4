package interaction

import (
	"context"
	"time"
)

// EventKind identifies a run lifecycle event.
type EventKind string

const (
	EventRunStarted       EventKind = "run.started"
	EventStep             EventKind = "step"
	EventAssistantMessage EventKind = "assistant.message"
	EventToolCall         EventKind = "tool.call"
	EventToolResult       EventKind = "tool.result"
	EventToolDenied       EventKind = "tool.denied"
	EventAsk              EventKind = "ask"
	EventConfirmRequest   EventKind = "confirm.request"
	EventConfirmResolved  EventKind = "confirm.resolved"
	EventRunFinished      EventKind = "run.finished"
)

// Event is a progress notification emitted during a run.
type Event struct {
	Kind    EventKind      `json:"kind"`
	RunID   string         `json:"run_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// ConfirmRequest asks the user to approve a pending tool call.
type ConfirmRequest struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// AskRequest carries a question the model wants answered by the user.
type AskRequest struct {
	Question      string   `json:"question"`
	Options       []string `json:"options,omitempty"`
	AllowFreeText bool     `json:"allow_free_text"`
}

// AskResponse is the user's answer. SelectedOption is set when the answer
// matched one of the offered options.
type AskResponse struct {
	Answer         string `json:"answer"`
	SelectedOption string `json:"selected_option,omitempty"`
}

// Port is the surface between a run and whoever is watching it. Confirm and
// Ask block until the user responds or ctx ends; Emit never blocks the run.
type Port interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
	Ask(ctx context.Context, req AskRequest) (AskResponse, error)
	Emit(ev Event)
}

// NoopPort approves every confirmation, answers every question with an
// empty string, and drops events. It is the default for unattended runs.
type NoopPort struct{}

func (NoopPort) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	return true, nil
}

func (NoopPort) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	return AskResponse{}, nil
}

func (NoopPort) Emit(ev Event) {}

// Tee fans events out to every port while routing Confirm and Ask to the
// first one. An empty Tee behaves like NoopPort.
type Tee []Port

// NewTee builds a Tee from the given ports.
func NewTee(ports ...Port) Tee {
	return Tee(ports)
}

func (t Tee) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	if len(t) == 0 {
		return NoopPort{}.Confirm(ctx, req)
	}
	return t[0].Confirm(ctx, req)
}

func (t Tee) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if len(t) == 0 {
		return NoopPort{}.Ask(ctx, req)
	}
	return t[0].Ask(ctx, req)
}

func (t Tee) Emit(ev Event) {
	for _, p := range t {
		p.Emit(ev)
	}
}
