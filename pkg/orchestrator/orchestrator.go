package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flexygent/flexygent/internal/metrics"
	"github.com/flexygent/flexygent/internal/tracing"
	"github.com/flexygent/flexygent/pkg/interaction"
	"github.com/flexygent/flexygent/pkg/tool"
)

const tracerName = "flexygent.orchestrator"

// Orchestrator drives the model/tool-calling loop for one configuration.
// It is safe for concurrent runs; per-tool concurrency is bounded by the
// catalog's semaphores, which all runs share.
type Orchestrator struct {
	client       ModelClient
	catalog      *tool.Catalog
	policy       Policy
	port         interaction.Port
	model        string
	systemPrompt string
	askTool      string
	logger       zerolog.Logger
}

// Config assembles an orchestrator. Client, Catalog and Model are
// required; everything else has a working default.
type Config struct {
	Client       ModelClient
	Catalog      *tool.Catalog
	Policy       Policy
	Port         interaction.Port
	Model        string
	SystemPrompt string
	AskTool      string
	Logger       zerolog.Logger
}

// New validates the configuration and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	metrics.EnsureRegistered()

	if cfg.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("tool catalog is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	port := cfg.Port
	if port == nil {
		port = interaction.NoopPort{}
	}
	askTool := cfg.AskTool
	if askTool == "" {
		askTool = DefaultAskTool
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &Orchestrator{
		client:       cfg.Client,
		catalog:      cfg.Catalog,
		policy:       cfg.Policy.normalized(),
		port:         port,
		model:        cfg.Model,
		systemPrompt: systemPrompt,
		askTool:      askTool,
		logger:       cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Policy returns the orchestrator's normalized policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// runState tracks one run's progress. pendingFinish is the only field
// touched from dispatch goroutines, so it sits behind its own mutex.
type runState struct {
	runID   string
	started time.Time
	subset  map[string]bool
	askable bool
	meta    map[string]any

	steps     int
	toolCalls int
	usage     Usage

	mu            sync.Mutex
	pendingFinish FinishReason
}

func (st *runState) markFinish(reason FinishReason) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pendingFinish == "" {
		st.pendingFinish = reason
	}
}

func (st *runState) finishMark() FinishReason {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pendingFinish
}

// Run executes the tool-calling loop until the model produces a final
// answer or a budget ends it. The returned result always carries the
// transcript and a finish reason, even when err is non-nil (provider
// failure or cancellation).
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"orchestrator.run",
		attribute.String("provider", o.client.Name()),
		attribute.String("model", o.model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, o.logger)

	// Unregistered names are a programming error, caught before any model
	// call is made.
	for _, name := range req.Tools {
		if !o.catalog.Has(name) {
			err := fmt.Errorf("%w: %s", tool.ErrNotFound, name)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	stop := metrics.RunStarted()
	defer stop()

	subset := o.policy.FilterTools(req.Tools)
	st := &runState{
		runID:   tracing.GetRunID(ctx),
		started: time.Now(),
		subset:  make(map[string]bool, len(subset)),
		askable: o.policy.Autonomy != AutonomyNever,
		meta:    req.Metadata,
	}
	for _, name := range subset {
		st.subset[name] = true
	}

	specs, err := o.buildSpecs(subset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = o.systemPrompt
	}

	messages := []Message{
		SystemMessage(systemPrompt),
		UserMessage(req.Task),
	}

	logger.Info().
		Str("model", o.model).
		Int("tools", len(specs)).
		Str("autonomy", string(o.policy.Autonomy)).
		Msg("Run started")
	o.emit(st.runID, interaction.EventRunStarted, map[string]any{
		"task":  req.Task,
		"tools": subset,
	})

	for st.steps < o.policy.MaxSteps {
		if ctx.Err() != nil {
			return o.finish(ctx, logger, st, messages, "", FinishAborted), ctx.Err()
		}

		o.emit(st.runID, interaction.EventStep, map[string]any{"step": st.steps + 1})

		resp, chatErr := o.chat(ctx, systemPrompt, messages, specs, req)
		st.steps++

		if chatErr != nil {
			if ctx.Err() != nil {
				return o.finish(ctx, logger, st, messages, "", FinishAborted), ctx.Err()
			}
			perr := &ProviderError{Provider: o.client.Name(), Err: chatErr}
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())
			logger.Error().Err(chatErr).Int("step", st.steps).Msg("Provider call failed")
			return o.finish(ctx, logger, st, messages, "", FinishError), perr
		}

		st.usage.Add(resp.Usage)

		if resp.Content != "" {
			o.emit(st.runID, interaction.EventAssistantMessage, map[string]any{"content": resp.Content})
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				messages = append(messages, AssistantMessage(resp.Content, nil))
				return o.finish(ctx, logger, st, messages, resp.Content, FinishCompleted), nil
			}
			// Neither content nor tool calls; nothing more to do.
			break
		}

		messages = append(messages, AssistantMessage(resp.Content, resp.ToolCalls))

		results := o.dispatchToolCalls(ctx, st, resp.ToolCalls)
		for _, res := range results {
			messages = append(messages, ToolMessage(res.ToolCallID, toolMessageContent(res)))
		}
		st.toolCalls += len(results)

		if ctx.Err() != nil {
			return o.finish(ctx, logger, st, messages, "", FinishAborted), ctx.Err()
		}
		if st.finishMark() != "" {
			break
		}
		if o.policy.MaxWallTime > 0 && time.Since(st.started) >= o.policy.MaxWallTime {
			st.markFinish(FinishTimeLimit)
			break
		}
	}

	reason := st.finishMark()
	if reason == "" {
		reason = FinishStepLimit
	}
	return o.finish(ctx, logger, st, messages, FallbackFinalText, reason), nil
}

// buildSpecs projects the run subset into provider specs, appending the
// virtual ask tool when the catalog carries it.
func (o *Orchestrator) buildSpecs(subset []string) ([]tool.Spec, error) {
	names := make([]string, len(subset))
	copy(names, subset)

	if o.policy.Autonomy != AutonomyNever && o.catalog.Has(o.askTool) && !contains(names, o.askTool) {
		names = append(names, o.askTool)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return o.catalog.Specs(names...)
}

func (o *Orchestrator) chat(ctx context.Context, systemPrompt string, messages []Message, specs []tool.Spec, req RunRequest) (*ChatResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "model.chat",
		attribute.String("provider", o.client.Name()),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()

	resp, err := o.client.Chat(ctx, ChatRequest{
		Model:        o.model,
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        specs,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (o *Orchestrator) finish(ctx context.Context, logger zerolog.Logger, st *runState, messages []Message, finalText string, reason FinishReason) *RunResult {
	duration := time.Since(st.started)

	metrics.RecordRun(o.client.Name(), string(reason), st.steps, duration)

	logger.Info().
		Str("finish_reason", string(reason)).
		Int("steps", st.steps).
		Int("tool_calls", st.toolCalls).
		Dur("duration", duration).
		Msg("Run finished")

	o.emit(st.runID, interaction.EventRunFinished, map[string]any{
		"finish_reason": string(reason),
		"steps":         st.steps,
		"tool_calls":    st.toolCalls,
	})

	return &RunResult{
		FinalText:    finalText,
		Messages:     messages,
		Steps:        st.steps,
		ToolCalls:    st.toolCalls,
		FinishReason: reason,
		Usage:        st.usage,
	}
}

// emit forwards an event to the port. A panicking port must never take
// the run down with it.
func (o *Orchestrator) emit(runID string, kind interaction.EventKind, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Str("kind", string(kind)).Msg("Event sink panicked")
		}
	}()

	o.port.Emit(interaction.Event{
		Kind:    kind,
		RunID:   runID,
		Payload: payload,
		At:      time.Now(),
	})
}
