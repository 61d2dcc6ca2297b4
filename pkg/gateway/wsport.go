package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/flexygent/flexygent/internal/tracing"
	"github.com/flexygent/flexygent/pkg/interaction"
)

// DefaultConfirmTimeout is how long a confirmation or question waits for a
// client frame before giving up.
const DefaultConfirmTimeout = 60 * time.Second

// WSPort routes confirmations and questions through the event stream. Any
// connected client may answer; the first frame naming the pending ID wins.
type WSPort struct {
	broadcaster *Broadcaster
	timeout     time.Duration

	mu              sync.RWMutex
	pendingConfirms map[string]chan bool
	pendingAsks     map[string]chan string
}

// NewWSPort creates a port publishing through the given broadcaster. A zero
// timeout means DefaultConfirmTimeout.
func NewWSPort(broadcaster *Broadcaster, timeout time.Duration) *WSPort {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &WSPort{
		broadcaster:     broadcaster,
		timeout:         timeout,
		pendingConfirms: make(map[string]chan bool),
		pendingAsks:     make(map[string]chan string),
	}
}

// Confirm broadcasts the pending tool call and waits for a confirm frame.
// No answer within the timeout counts as a denial.
func (p *WSPort) Confirm(ctx context.Context, req interaction.ConfirmRequest) (bool, error) {
	id, err := gonanoid.New()
	if err != nil {
		return false, fmt.Errorf("failed to generate confirmation id: %w", err)
	}

	responseCh := make(chan bool, 1)

	p.mu.Lock()
	p.pendingConfirms[id] = responseCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pendingConfirms, id)
		p.mu.Unlock()
	}()

	p.broadcaster.Broadcast(interaction.Event{
		Kind:  interaction.EventConfirmRequest,
		RunID: tracing.GetRunID(ctx),
		Payload: map[string]any{
			"id":         id,
			"tool":       req.Tool,
			"args":       req.Args,
			"reason":     req.Reason,
			"timeout_ms": p.timeout.Milliseconds(),
		},
		At: time.Now(),
	})

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case approved := <-responseCh:
		return approved, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Ask broadcasts the question and waits for an answer frame. Unlike Confirm
// there is no safe default, so running out of time is an error.
func (p *WSPort) Ask(ctx context.Context, req interaction.AskRequest) (interaction.AskResponse, error) {
	id, err := gonanoid.New()
	if err != nil {
		return interaction.AskResponse{}, fmt.Errorf("failed to generate question id: %w", err)
	}

	replyCh := make(chan string, 1)

	p.mu.Lock()
	p.pendingAsks[id] = replyCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pendingAsks, id)
		p.mu.Unlock()
	}()

	p.broadcaster.Broadcast(interaction.Event{
		Kind:  interaction.EventAsk,
		RunID: tracing.GetRunID(ctx),
		Payload: map[string]any{
			"id":              id,
			"question":        req.Question,
			"options":         req.Options,
			"allow_free_text": req.AllowFreeText,
			"timeout_ms":      p.timeout.Milliseconds(),
		},
		At: time.Now(),
	})

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case answer := <-replyCh:
		return resolveAnswer(req, answer), nil
	case <-timer.C:
		return interaction.AskResponse{}, fmt.Errorf("question timed out after %s", p.timeout)
	case <-ctx.Done():
		return interaction.AskResponse{}, ctx.Err()
	}
}

// Emit streams run progress to connected clients. Confirm and ask requests
// are skipped: the loop announces them before calling Confirm or Ask, and
// this port broadcasts its own frames carrying the resolvable pending ID.
func (p *WSPort) Emit(ev interaction.Event) {
	if ev.Kind == interaction.EventConfirmRequest || ev.Kind == interaction.EventAsk {
		return
	}
	p.broadcaster.Broadcast(ev)
}

// Resolve routes a client frame to the matching pending request.
func (p *WSPort) Resolve(frame ClientFrame) error {
	switch frame.Type {
	case FrameConfirm:
		return p.ResolveConfirm(frame.ID, frame.Approved)
	case FrameAnswer:
		return p.ResolveAnswer(frame.ID, frame.Answer)
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
}

// ResolveConfirm answers a pending confirmation by ID.
func (p *WSPort) ResolveConfirm(id string, approved bool) error {
	p.mu.RLock()
	responseCh, exists := p.pendingConfirms[id]
	p.mu.RUnlock()

	if !exists {
		return fmt.Errorf("confirmation %s not found", id)
	}

	select {
	case responseCh <- approved:
		return nil
	default:
		return fmt.Errorf("confirmation %s already resolved", id)
	}
}

// ResolveAnswer answers a pending question by ID.
func (p *WSPort) ResolveAnswer(id, answer string) error {
	p.mu.RLock()
	replyCh, exists := p.pendingAsks[id]
	p.mu.RUnlock()

	if !exists {
		return fmt.Errorf("question %s not found", id)
	}

	select {
	case replyCh <- answer:
		return nil
	default:
		return fmt.Errorf("question %s already resolved", id)
	}
}

func resolveAnswer(req interaction.AskRequest, answer string) interaction.AskResponse {
	answer = strings.TrimSpace(answer)
	for i, opt := range req.Options {
		if strings.EqualFold(opt, answer) || answer == fmt.Sprintf("%d", i+1) {
			return interaction.AskResponse{Answer: opt, SelectedOption: opt}
		}
	}
	return interaction.AskResponse{Answer: answer}
}
