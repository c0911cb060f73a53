package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	kadoErrors "github.com/kadohq/kado/internal/errors"
	"github.com/kadohq/kado/internal/logger"
)

// readOnlyTools never mutate state and are safe without confirmation in the
// ask and plan mode defaults.
var readOnlyTools = map[string]struct{}{
	"ls":                {},
	"list_dir":          {},
	"cat":               {},
	"read_file":         {},
	"view_file":         {},
	"view_file_outline": {},
	"grep":              {},
	"grep_search":       {},
	"find":              {},
	"find_by_name":      {},
	"read_url_content":  {},
}

// Engine arbitrates tool calls against the loaded rule set, delegating
// ambiguous calls to the confirmation broker.
type Engine struct {
	mode   Mode
	store  atomic.Pointer[Store]
	broker *Broker
	audit  *DecisionLogger
}

func NewEngine(mode Mode, store *Store, broker *Broker, audit *DecisionLogger) *Engine {
	e := &Engine{
		mode:   mode,
		broker: broker,
		audit:  audit,
	}
	if store == nil {
		store = NewStore(nil)
	}
	e.store.Store(store)
	return e
}

func (e *Engine) Mode() Mode {
	return e.mode
}

// Reload atomically replaces the whole rule set. In-flight evaluations keep
// the set they started with.
func (e *Engine) Reload(store *Store) {
	if store == nil {
		store = NewStore(nil)
	}
	e.store.Store(store)
	slog.Info("Policy rules reloaded", "rules", len(store.rules))
}

// Resolve applies rule matching and mode defaults without consulting the
// broker. A confirm result comes back as CONFIRM_PENDING; Evaluate is the
// blocking variant that settles it.
func (e *Engine) Resolve(req ToolCallRequest) (Decision, error) {
	tool := strings.TrimSpace(req.Tool)
	if tool == "" {
		return Decision{}, kadoErrors.InvalidInput("tool name is required")
	}

	matches := e.store.Load().Match(tool)

	// An explicit DENY rule wins no matter where it sits in the order;
	// mode never overrides it.
	for _, rule := range matches {
		if rule.Outcome == OutcomeDeny {
			return Decision{
				State:  DecisionDeny,
				Reason: fmt.Sprintf("denied by %s rule %s", rule.Scope, rule.Pattern),
				RuleID: rule.ID,
			}, nil
		}
	}

	_, readOnly := readOnlyTools[tool]

	for _, rule := range matches {
		// A wildcard confirm never escalates a read-only tool; only an
		// exact-name rule expresses that intent.
		if rule.Outcome == OutcomeConfirm && rule.IsGlob() && readOnly {
			continue
		}
		switch rule.Outcome {
		case OutcomeAllow:
			return Decision{
				State:  DecisionAllow,
				Reason: fmt.Sprintf("allowed by %s rule %s", rule.Scope, rule.Pattern),
				RuleID: rule.ID,
			}, nil
		case OutcomeConfirm:
			return Decision{
				State:  DecisionConfirmPending,
				Reason: fmt.Sprintf("confirmation required by %s rule %s", rule.Scope, rule.Pattern),
				RuleID: rule.ID,
			}, nil
		}
	}

	return e.modeDefault(tool), nil
}

func (e *Engine) modeDefault(tool string) Decision {
	_, readOnly := readOnlyTools[tool]

	switch e.mode {
	case ModeAuto:
		return Decision{State: DecisionAllow, Reason: "auto-approval mode"}
	case ModePlan:
		if readOnly {
			return Decision{State: DecisionAllow, Reason: "read-only operation"}
		}
		return Decision{State: DecisionConfirmPending, Reason: fmt.Sprintf("planned execution of %s", tool)}
	default: // ask
		if readOnly {
			return Decision{State: DecisionAllow, Reason: "read-only operation"}
		}
		return Decision{State: DecisionConfirmPending, Reason: fmt.Sprintf("sensitive tool call: %s", tool)}
	}
}

// Evaluate arbitrates one tool call end to end. When the resolved outcome is
// confirm, the calling turn blocks until the broker settles it; rejection and
// timeout are deny-equivalent and the conversation continues.
func (e *Engine) Evaluate(ctx context.Context, req ToolCallRequest) (Decision, error) {
	decision, err := e.Resolve(req)
	if err != nil {
		return Decision{}, err
	}

	if decision.State != DecisionConfirmPending {
		e.record(ctx, req, decision)
		return decision, nil
	}

	e.record(ctx, req, decision)

	state, err := e.broker.Await(ctx, req, decision.Reason)
	if err != nil {
		return Decision{}, err
	}

	final := Decision{State: state, RuleID: decision.RuleID}
	switch state {
	case DecisionConfirmed:
		final.Reason = "confirmed by user"
	case DecisionRejected:
		final.Reason = "rejected by user"
	case DecisionTimedOut:
		final.Reason = fmt.Sprintf("no confirmation before deadline for %s", req.Tool)
	}

	e.record(ctx, req, final)
	return final, nil
}

// record emits the auditable decision trace. Audit failures are logged, not
// allowed to veto a decision already made.
func (e *Engine) record(ctx context.Context, req ToolCallRequest, decision Decision) {
	if e.audit == nil {
		return
	}

	err := e.audit.Log(ctx, &DecisionRecord{
		Timestamp: time.Now().UTC(),
		TraceID:   logger.GetTraceID(ctx),
		TurnID:    req.TurnID,
		Tool:      req.Tool,
		Mode:      e.mode,
		State:     decision.State,
		RuleID:    decision.RuleID,
		Reason:    decision.Reason,
		Input:     req.Input,
	})
	if err != nil {
		slog.Error("Failed to write decision record", "tool", req.Tool, "error", err)
	}
}
