package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode is the default posture applied when no explicit rule matches.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAuto Mode = "auto"
	ModeAsk  Mode = "ask"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlan:
		return ModePlan, nil
	case ModeAuto:
		return ModeAuto, nil
	case ModeAsk:
		return ModeAsk, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q (want plan, auto or ask)", s)
	}
}

// Outcome is the vocabulary of rule results.
type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeDeny    Outcome = "deny"
	OutcomeConfirm Outcome = "confirm"
)

func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeAllow:
		return OutcomeAllow, nil
	case OutcomeDeny:
		return OutcomeDeny, nil
	case OutcomeConfirm:
		return OutcomeConfirm, nil
	default:
		return "", fmt.Errorf("unknown outcome %q (want allow, deny or confirm)", s)
	}
}

// Scope separates workspace-local rules from global ones. Workspace rules
// resolve first.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeWorkspace Scope = "workspace"
)

// Rule is one immutable policy entry. Pattern is either an exact tool name or
// a glob; exact matches beat globs at equal priority.
type Rule struct {
	ID       string
	Pattern  string
	Outcome  Outcome
	Priority int
	Scope    Scope
}

// IsGlob reports whether the rule pattern uses glob metacharacters.
func (r Rule) IsGlob() bool {
	return strings.ContainsAny(r.Pattern, "*?[")
}

// ToolCallRequest is one tool invocation awaiting arbitration. It is passed
// by value and never mutated by the engine.
type ToolCallRequest struct {
	Tool   string
	Input  json.RawMessage
	TurnID string
}

// DecisionState is the finite outcome vocabulary of an evaluation.
type DecisionState string

const (
	DecisionAllow          DecisionState = "ALLOW"
	DecisionDeny           DecisionState = "DENY"
	DecisionConfirmPending DecisionState = "CONFIRM_PENDING"
	DecisionConfirmed      DecisionState = "CONFIRMED"
	DecisionRejected       DecisionState = "REJECTED"
	DecisionTimedOut       DecisionState = "TIMED_OUT"
)

// Decision is the engine's answer for one tool call. A DENY is a normal
// decision, not an error.
type Decision struct {
	State  DecisionState
	Reason string
	RuleID string // empty when a mode default decided
}

// Permitted reports whether the orchestrator may execute the tool.
func (d Decision) Permitted() bool {
	return d.State == DecisionAllow || d.State == DecisionConfirmed
}

// DecisionRecord is the auditable trace of one evaluation, consumed by the
// session log.
type DecisionRecord struct {
	Timestamp time.Time       `json:"ts"`
	TraceID   string          `json:"trace_id,omitempty"`
	TurnID    string          `json:"turn_id,omitempty"`
	Tool      string          `json:"tool"`
	Mode      Mode            `json:"mode"`
	State     DecisionState   `json:"state"`
	RuleID    string          `json:"rule_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}
