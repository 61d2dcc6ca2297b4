package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flexygent/flexygent/internal/audit"
	"github.com/flexygent/flexygent/internal/metrics"
	"github.com/flexygent/flexygent/internal/tracing"
	"github.com/flexygent/flexygent/pkg/interaction"
	"github.com/flexygent/flexygent/pkg/tool"
)

const resultPreviewLimit = 400

// dispatchToolCalls resolves one assistant turn's tool calls into
// results, indexed to match the request order. Membership and budget
// verdicts are decided serially up front so they stay deterministic;
// the surviving calls then run concurrently when the policy allows it.
// Ask calls go to the human and are handled serially, after the
// concurrent group in parallel mode.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, st *runState, calls []ToolCallRequest) []ToolResult {
	results := make([]ToolResult, len(calls))
	settled := make([]bool, len(calls))

	var pending []int
	var asks []int
	for i, call := range calls {
		o.emit(st.runID, interaction.EventToolCall, map[string]any{
			"id":        call.ID,
			"tool":      call.Name,
			"arguments": call.RawArguments,
		})

		isAsk := st.askable && call.Name == o.askTool
		if !isAsk && !st.subset[call.Name] {
			msg := fmt.Sprintf("Tool '%s' is not allowed by policy.", call.Name)
			results[i] = o.deniedResult(ctx, st, call, "allowlist", msg)
			settled[i] = true
			continue
		}
		if isAsk {
			asks = append(asks, i)
			continue
		}
		pending = append(pending, i)
	}

	if o.policy.ParallelToolCalls && len(calls) > 1 {
		var wg sync.WaitGroup
		for _, i := range pending {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = o.runToolCall(ctx, st, calls[i], i)
			}(i)
		}
		wg.Wait()
		for _, i := range asks {
			results[i] = o.runAsk(ctx, st, calls[i], i)
		}
		return results
	}

	for i := range calls {
		if settled[i] {
			continue
		}
		if st.askable && calls[i].Name == o.askTool {
			results[i] = o.runAsk(ctx, st, calls[i], i)
			continue
		}
		results[i] = o.runToolCall(ctx, st, calls[i], i)
	}
	return results
}

// budgetDenial applies the wall-clock and call-count budgets at the
// moment a call is dispatched. A violation denies the call and marks
// the run to end after this turn. Call slots are counted by request
// position so the verdict does not depend on goroutine timing.
func (o *Orchestrator) budgetDenial(ctx context.Context, st *runState, call ToolCallRequest, idx int) (ToolResult, bool) {
	if o.policy.MaxWallTime > 0 && time.Since(st.started) >= o.policy.MaxWallTime {
		st.markFinish(FinishTimeLimit)
		msg := "Time limit reached; provide the best answer without more tools."
		return o.deniedResult(ctx, st, call, "budget", msg), true
	}
	if o.policy.MaxToolCalls > 0 && st.toolCalls+idx >= o.policy.MaxToolCalls {
		st.markFinish(FinishToolCallLimit)
		msg := "Tool call limit reached; provide the best answer without more tools."
		return o.deniedResult(ctx, st, call, "budget", msg), true
	}
	return ToolResult{}, false
}

// runToolCall takes one call through budgets, validation, policy,
// confirmation and execution. Every outcome becomes a result the model
// can read.
func (o *Orchestrator) runToolCall(ctx context.Context, st *runState, call ToolCallRequest, idx int) ToolResult {
	if res, denied := o.budgetDenial(ctx, st, call, idx); denied {
		return res
	}

	args, vErr := o.parseAndValidate(call)
	if vErr != nil {
		return o.invalidResult(ctx, st, call, vErr)
	}

	decision := o.policy.Decide(call.Name)
	switch decision.Action {
	case ActionDeny:
		return o.deniedResult(ctx, st, call, "policy", decision.Reason)
	case ActionAllowWithConfirmation:
		approved := o.confirm(ctx, st, call, args, decision.Reason)
		if !approved {
			return o.deniedResult(ctx, st, call, "confirmation", "User denied tool call.")
		}
	}

	return o.execute(ctx, st, call, args)
}

func (o *Orchestrator) confirm(ctx context.Context, st *runState, call ToolCallRequest, args map[string]any, reason string) bool {
	o.emit(st.runID, interaction.EventConfirmRequest, map[string]any{
		"id":     call.ID,
		"tool":   call.Name,
		"reason": reason,
	})

	approved, err := o.port.Confirm(ctx, interaction.ConfirmRequest{
		Tool:   call.Name,
		Args:   args,
		Reason: reason,
	})
	if err != nil {
		approved = false
	}

	o.emit(st.runID, interaction.EventConfirmResolved, map[string]any{
		"id":       call.ID,
		"tool":     call.Name,
		"approved": approved,
	})

	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	metrics.RecordConfirmation(outcome)
	audit.Confirmation(ctx, st.runID, call.Name, approved)
	return approved
}

func (o *Orchestrator) execute(ctx context.Context, st *runState, call ToolCallRequest, args map[string]any) ToolResult {
	execCtx, span := tracing.StartSpan(ctx, tracerName, "tool.execute",
		attribute.String("tool", call.Name),
	)
	defer span.End()

	if st.meta != nil {
		execCtx = tool.WithMeta(execCtx, st.meta)
	}

	start := time.Now()
	out, err := o.catalog.Execute(execCtx, call.Name, args)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordToolExecution(call.Name, duration, false)
		audit.ToolExecuted(ctx, st.runID, call.Name, "error", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})

		info := &ErrorInfo{Kind: execErrorKind(err), Message: err.Error()}
		o.emit(st.runID, interaction.EventToolResult, map[string]any{
			"id":      call.ID,
			"tool":    call.Name,
			"ok":      false,
			"preview": preview(err.Error()),
		})
		return ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Error:      info,
			Duration:   duration,
		}
	}

	metrics.RecordToolExecution(call.Name, duration, true)
	audit.ToolExecuted(ctx, st.runID, call.Name, "success", map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})

	output, truncated := o.truncateOutput(serializeOutput(out))
	o.emit(st.runID, interaction.EventToolResult, map[string]any{
		"id":      call.ID,
		"tool":    call.Name,
		"ok":      true,
		"preview": preview(output),
	})
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		OK:         true,
		Output:     output,
		Truncated:  truncated,
		Duration:   duration,
	}
}

// runAsk routes the virtual ask tool to the human instead of the
// catalog. The answer comes back to the model as a tool result.
func (o *Orchestrator) runAsk(ctx context.Context, st *runState, call ToolCallRequest, idx int) ToolResult {
	if res, denied := o.budgetDenial(ctx, st, call, idx); denied {
		return res
	}

	args, vErr := o.parseAndValidate(call)
	if vErr != nil {
		return o.invalidResult(ctx, st, call, vErr)
	}

	question, _ := args["question"].(string)
	options := stringSlice(args["options"])
	allowFreeText := true
	if v, ok := args["allow_free_text"].(bool); ok {
		allowFreeText = v
	}

	o.emit(st.runID, interaction.EventAsk, map[string]any{
		"id":       call.ID,
		"question": question,
		"options":  options,
	})

	start := time.Now()
	resp, err := o.port.Ask(ctx, interaction.AskRequest{
		Question:      question,
		Options:       options,
		AllowFreeText: allowFreeText,
	})
	duration := time.Since(start)

	if err != nil {
		return ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Error: &ErrorInfo{
				Kind:    ErrorKindInteraction,
				Message: fmt.Sprintf("ask failed: %v", err),
			},
			Duration: duration,
		}
	}

	payload := map[string]string{"answer": resp.Answer}
	if resp.SelectedOption != "" {
		payload["selected_option"] = resp.SelectedOption
	}
	encoded, mErr := json.Marshal(payload)
	if mErr != nil {
		encoded = []byte(fmt.Sprintf(`{"answer":%q}`, resp.Answer))
	}
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		OK:         true,
		Output:     string(encoded),
		Duration:   duration,
	}
}

// parseAndValidate turns raw model-provided arguments into a validated
// map. Empty arguments mean no arguments.
func (o *Orchestrator) parseAndValidate(call ToolCallRequest) (map[string]any, *ErrorInfo) {
	raw := strings.TrimSpace(call.RawArguments)
	if raw == "" {
		raw = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ErrorInfo{
			Kind:    ErrorKindValidation,
			Message: fmt.Sprintf("Invalid JSON arguments: %v", err),
		}
	}

	if o.catalog.Has(call.Name) {
		validated, err := o.catalog.ValidateInput(call.Name, []byte(raw))
		if err != nil {
			return nil, &ErrorInfo{Kind: ErrorKindValidation, Message: err.Error()}
		}
		return validated, nil
	}
	return args, nil
}

func (o *Orchestrator) deniedResult(ctx context.Context, st *runState, call ToolCallRequest, reasonCode, msg string) ToolResult {
	metrics.RecordToolDenied(call.Name, reasonCode)
	audit.ToolDenied(ctx, st.runID, call.Name, msg)
	o.emit(st.runID, interaction.EventToolDenied, map[string]any{
		"id":     call.ID,
		"tool":   call.Name,
		"reason": msg,
	})
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Error:      &ErrorInfo{Kind: ErrorKindDenied, Message: msg},
	}
}

func (o *Orchestrator) invalidResult(ctx context.Context, st *runState, call ToolCallRequest, info *ErrorInfo) ToolResult {
	metrics.RecordToolDenied(call.Name, "validation")
	audit.ToolDenied(ctx, st.runID, call.Name, info.Message)
	o.emit(st.runID, interaction.EventToolDenied, map[string]any{
		"id":     call.ID,
		"tool":   call.Name,
		"reason": info.Message,
	})
	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Error:      info,
	}
}

func execErrorKind(err error) ErrorKind {
	var timeoutErr *tool.TimeoutError
	if errors.As(err, &timeoutErr) {
		return ErrorKindTimeout
	}
	var validationErr *tool.ValidationError
	if errors.As(err, &validationErr) {
		return ErrorKindValidation
	}
	return ErrorKindExecution
}

// toolMessageContent renders a result as the tool-role message body the
// model reads back: raw output on success, a small JSON error object on
// failure.
func toolMessageContent(res ToolResult) string {
	if res.OK {
		return res.Output
	}
	msg := ""
	if res.Error != nil {
		msg = res.Error.Message
	}
	encoded, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, msg)
	}
	return string(encoded)
}

// serializeOutput renders a tool's return value for the transcript.
// Strings pass through untouched; everything else becomes JSON.
func serializeOutput(out any) string {
	if s, ok := out.(string); ok {
		return s
	}
	if out == nil {
		return "null"
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(encoded)
}

// truncateOutput clips oversized tool output to the policy's byte
// limit. A non-positive limit disables clipping.
func (o *Orchestrator) truncateOutput(s string) (string, bool) {
	limit := o.policy.TruncateBytes
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	return s[:limit], true
}

func preview(s string) string {
	if len(s) <= resultPreviewLimit {
		return s
	}
	return s[:resultPreviewLimit]
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
