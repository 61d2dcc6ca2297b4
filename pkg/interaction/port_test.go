package interaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderPort struct {
	mu       sync.Mutex
	events   []Event
	confirms int
	asks     int
	approve  bool
	answer   string
}

func (r *recorderPort) Confirm(ctx context.Context, req ConfirmRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirms++
	return r.approve, nil
}

func (r *recorderPort) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asks++
	return AskResponse{Answer: r.answer}, nil
}

func (r *recorderPort) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorderPort) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNoopPort(t *testing.T) {
	port := NoopPort{}

	approved, err := port.Confirm(context.Background(), ConfirmRequest{Tool: "system.echo"})
	require.NoError(t, err)
	assert.True(t, approved)

	resp, err := port.Ask(context.Background(), AskRequest{Question: "Which one?"})
	require.NoError(t, err)
	assert.Empty(t, resp.Answer)
	assert.Empty(t, resp.SelectedOption)

	// Must not panic.
	port.Emit(Event{Kind: EventStep, At: time.Now()})
}

func TestTee_EmitFansOut(t *testing.T) {
	first := &recorderPort{approve: true}
	second := &recorderPort{}
	tee := NewTee(first, second)

	tee.Emit(Event{Kind: EventStep})
	tee.Emit(Event{Kind: EventRunFinished})

	assert.Equal(t, 2, first.eventCount())
	assert.Equal(t, 2, second.eventCount())
}

func TestTee_ConfirmAndAskUseFirstPort(t *testing.T) {
	first := &recorderPort{approve: true, answer: "blue"}
	second := &recorderPort{}
	tee := NewTee(first, second)

	approved, err := tee.Confirm(context.Background(), ConfirmRequest{Tool: "web.fetch"})
	require.NoError(t, err)
	assert.True(t, approved)

	resp, err := tee.Ask(context.Background(), AskRequest{Question: "Color?"})
	require.NoError(t, err)
	assert.Equal(t, "blue", resp.Answer)

	assert.Equal(t, 1, first.confirms)
	assert.Equal(t, 1, first.asks)
	assert.Zero(t, second.confirms)
	assert.Zero(t, second.asks)
}

func TestTee_EmptyBehavesLikeNoop(t *testing.T) {
	tee := NewTee()

	approved, err := tee.Confirm(context.Background(), ConfirmRequest{Tool: "system.echo"})
	require.NoError(t, err)
	assert.True(t, approved)

	resp, err := tee.Ask(context.Background(), AskRequest{Question: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Answer)

	tee.Emit(Event{Kind: EventStep})
}
