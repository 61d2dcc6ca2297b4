package orchestrator

import (
	"fmt"
	"time"
)

// Autonomy sets how much freedom the model has to run tools.
type Autonomy string

const (
	// AutonomyAuto runs tools without user confirmation.
	AutonomyAuto Autonomy = "auto"
	// AutonomyConfirm asks for confirmation, for all tools or per tool.
	AutonomyConfirm Autonomy = "confirm"
	// AutonomyNever exposes no tools to the model at all.
	AutonomyNever Autonomy = "never"
)

// Action is the outcome of a policy decision.
type Action string

const (
	ActionAllow                 Action = "allow"
	ActionAllowWithConfirmation Action = "allowWithConfirmation"
	ActionDeny                  Action = "deny"
)

// Decision is a policy verdict for one requested tool call.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Policy guards tool use for a run. Name lists operate on tool names; a nil
// AllowTools permits every registered tool while an empty non-nil list
// permits none.
type Policy struct {
	Autonomy     Autonomy `json:"autonomy"`
	AllowTools   []string `json:"allow_tools,omitempty"`
	DenyTools    []string `json:"deny_tools,omitempty"`
	ConfirmTools []string `json:"confirm_tools,omitempty"`

	// Limits. MaxToolCalls and MaxWallTime are unlimited at zero;
	// TruncateBytes disables truncation at zero.
	MaxSteps          int           `json:"max_steps"`
	MaxToolCalls      int           `json:"max_tool_calls,omitempty"`
	ParallelToolCalls bool          `json:"parallel_tool_calls"`
	TruncateBytes     int           `json:"truncate_bytes"`
	MaxWallTime       time.Duration `json:"max_wall_time,omitempty"`
}

// DefaultPolicy mirrors the framework defaults: full autonomy, eight steps,
// parallel dispatch, 8000-byte tool results.
func DefaultPolicy() Policy {
	return Policy{
		Autonomy:          AutonomyAuto,
		MaxSteps:          8,
		ParallelToolCalls: true,
		TruncateBytes:     8000,
	}
}

// Validate rejects policies no run could honor.
func (p Policy) Validate() error {
	switch p.Autonomy {
	case AutonomyAuto, AutonomyConfirm, AutonomyNever, "":
	default:
		return fmt.Errorf("unknown autonomy level: %s", p.Autonomy)
	}
	if p.MaxSteps < 0 {
		return fmt.Errorf("max steps cannot be negative")
	}
	if p.MaxToolCalls < 0 {
		return fmt.Errorf("max tool calls cannot be negative")
	}
	if p.TruncateBytes < 0 {
		return fmt.Errorf("truncate bytes cannot be negative")
	}
	if p.MaxWallTime < 0 {
		return fmt.Errorf("max wall time cannot be negative")
	}
	return nil
}

// normalized fills unset knobs with defaults so the loop never divides by
// zero budgets.
func (p Policy) normalized() Policy {
	if p.Autonomy == "" {
		p.Autonomy = AutonomyAuto
	}
	if p.MaxSteps == 0 {
		p.MaxSteps = DefaultPolicy().MaxSteps
	}
	return p
}

// Decide evaluates the policy for one tool name. It is pure: first match
// wins, and a deny always beats an allow.
func (p Policy) Decide(name string) Decision {
	if p.Autonomy == AutonomyNever {
		return Decision{Action: ActionDeny, Reason: "autonomy is never"}
	}
	if contains(p.DenyTools, name) {
		return Decision{Action: ActionDeny, Reason: "Tool is denied by policy."}
	}
	if p.AllowTools != nil && !contains(p.AllowTools, name) {
		return Decision{Action: ActionDeny, Reason: fmt.Sprintf("Tool '%s' is not allowed by policy.", name)}
	}
	if p.Autonomy == AutonomyConfirm && (len(p.ConfirmTools) == 0 || contains(p.ConfirmTools, name)) {
		return Decision{Action: ActionAllowWithConfirmation, Reason: "policy_confirmation"}
	}
	return Decision{Action: ActionAllow, Reason: "allowed"}
}

// FilterTools narrows the run's tool subset to what the policy exposes to
// the model. Never-autonomy exposes nothing; an allowlist drops everything
// outside it.
func (p Policy) FilterTools(names []string) []string {
	if p.Autonomy == AutonomyNever {
		return nil
	}
	if p.AllowTools == nil {
		out := make([]string, len(names))
		copy(out, names)
		return out
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if contains(p.AllowTools, name) {
			out = append(out, name)
		}
	}
	return out
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
