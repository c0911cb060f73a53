package policy

import (
	"context"
	"testing"
	"time"

	kadoErrors "github.com/kadohq/kado/internal/errors"
)

func newTestEngine(mode Mode, rules []Rule) *Engine {
	return NewEngine(mode, NewStore(rules), NewBroker(time.Second), nil)
}

func TestResolveRulePrecedence(t *testing.T) {
	rules := []Rule{
		{ID: "g#0:bash", Pattern: "bash", Outcome: OutcomeDeny, Priority: 10, Scope: ScopeGlobal},
		{ID: "g#1:*", Pattern: "*", Outcome: OutcomeConfirm, Priority: 0, Scope: ScopeGlobal},
	}
	e := newTestEngine(ModeAsk, rules)

	cases := []struct {
		tool string
		want DecisionState
	}{
		{"bash", DecisionDeny},
		{"write_file", DecisionConfirmPending},
		{"read_file", DecisionAllow}, // wildcard confirm does not escalate a read-only tool
	}
	for _, tc := range cases {
		d, err := e.Resolve(ToolCallRequest{Tool: tc.tool, TurnID: "t1"})
		if err != nil {
			t.Fatalf("%s: %v", tc.tool, err)
		}
		if d.State != tc.want {
			t.Errorf("%s: state = %s, want %s", tc.tool, d.State, tc.want)
		}
	}
}

func TestResolveExactConfirmBindsReadOnlyTool(t *testing.T) {
	rules := []Rule{
		{ID: "g#0:cat", Pattern: "cat", Outcome: OutcomeConfirm, Scope: ScopeGlobal},
	}
	e := newTestEngine(ModeAsk, rules)

	d, err := e.Resolve(ToolCallRequest{Tool: "cat", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionConfirmPending {
		t.Errorf("state = %s, want CONFIRM_PENDING from exact rule", d.State)
	}
}

func TestResolveDenyAlwaysWins(t *testing.T) {
	// A low-priority global deny still beats a high-priority workspace allow.
	rules := []Rule{
		{ID: "w#0:bash", Pattern: "bash", Outcome: OutcomeAllow, Priority: 100, Scope: ScopeWorkspace},
		{ID: "g#0:ba*", Pattern: "ba*", Outcome: OutcomeDeny, Priority: 0, Scope: ScopeGlobal},
	}
	e := newTestEngine(ModeAuto, rules)

	d, err := e.Resolve(ToolCallRequest{Tool: "bash", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionDeny {
		t.Errorf("state = %s, want DENY", d.State)
	}
	if d.RuleID != "g#0:ba*" {
		t.Errorf("rule id = %s, want the deny rule", d.RuleID)
	}
}

func TestResolveWorkspaceBeforeGlobal(t *testing.T) {
	rules := []Rule{
		{ID: "g#0:bash", Pattern: "bash", Outcome: OutcomeConfirm, Priority: 50, Scope: ScopeGlobal},
		{ID: "w#0:bash", Pattern: "bash", Outcome: OutcomeAllow, Priority: 0, Scope: ScopeWorkspace},
	}
	e := newTestEngine(ModeAsk, rules)

	d, err := e.Resolve(ToolCallRequest{Tool: "bash", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionAllow {
		t.Errorf("state = %s, want ALLOW from workspace rule", d.State)
	}
	if d.RuleID != "w#0:bash" {
		t.Errorf("rule id = %s, want workspace rule", d.RuleID)
	}
}

func TestResolveExactBeatsGlobAtEqualPriority(t *testing.T) {
	rules := []Rule{
		{ID: "g#0:*", Pattern: "*", Outcome: OutcomeDeny, Priority: 5, Scope: ScopeGlobal},
		{ID: "g#1:cat", Pattern: "cat", Outcome: OutcomeAllow, Priority: 5, Scope: ScopeGlobal},
	}
	e := newTestEngine(ModeAsk, rules)

	// Deny still wins outright even when the exact rule sorts first.
	d, err := e.Resolve(ToolCallRequest{Tool: "cat", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionDeny {
		t.Errorf("state = %s, want DENY", d.State)
	}

	// Without the deny, the exact rule decides.
	rules[0].Outcome = OutcomeConfirm
	e = newTestEngine(ModeAsk, rules)
	d, err = e.Resolve(ToolCallRequest{Tool: "cat", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionAllow || d.RuleID != "g#1:cat" {
		t.Errorf("decision = %+v, want ALLOW from exact rule", d)
	}
}

func TestModeDefaults(t *testing.T) {
	cases := []struct {
		mode Mode
		tool string
		want DecisionState
	}{
		{ModeAuto, "bash", DecisionAllow},
		{ModeAuto, "cat", DecisionAllow},
		{ModePlan, "grep", DecisionAllow},
		{ModePlan, "write_file", DecisionConfirmPending},
		{ModeAsk, "ls", DecisionAllow},
		{ModeAsk, "read_url_content", DecisionAllow},
		{ModeAsk, "bash", DecisionConfirmPending},
	}
	for _, tc := range cases {
		e := newTestEngine(tc.mode, nil)
		d, err := e.Resolve(ToolCallRequest{Tool: tc.tool, TurnID: "t1"})
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.mode, tc.tool, err)
		}
		if d.State != tc.want {
			t.Errorf("%s/%s: state = %s, want %s", tc.mode, tc.tool, d.State, tc.want)
		}
		if d.RuleID != "" {
			t.Errorf("%s/%s: mode default should carry no rule id, got %s", tc.mode, tc.tool, d.RuleID)
		}
	}
}

func TestResolveEmptyTool(t *testing.T) {
	e := newTestEngine(ModeAuto, nil)
	_, err := e.Resolve(ToolCallRequest{Tool: "  ", TurnID: "t1"})
	if !kadoErrors.IsCategory(err, kadoErrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEvaluateNonBlockingOutcomes(t *testing.T) {
	rules := []Rule{
		{ID: "g#0:bash", Pattern: "bash", Outcome: OutcomeDeny, Scope: ScopeGlobal},
		{ID: "g#1:cat", Pattern: "cat", Outcome: OutcomeAllow, Scope: ScopeGlobal},
	}
	e := newTestEngine(ModeAsk, rules)

	d, err := e.Evaluate(context.Background(), ToolCallRequest{Tool: "bash", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionDeny || d.Permitted() {
		t.Errorf("deny decision = %+v", d)
	}

	d, err = e.Evaluate(context.Background(), ToolCallRequest{Tool: "cat", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionAllow || !d.Permitted() {
		t.Errorf("allow decision = %+v", d)
	}
}

func TestEvaluateConfirmFlow(t *testing.T) {
	broker := NewBroker(2 * time.Second)
	e := NewEngine(ModeAsk, NewStore(nil), broker, nil)

	go func() {
		// Approve as soon as the confirmation surfaces.
		for i := 0; i < 100; i++ {
			pending := broker.Pending()
			if len(pending) == 1 {
				broker.Resolve(pending[0].ID, true)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	d, err := e.Evaluate(context.Background(), ToolCallRequest{Tool: "write_file", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionConfirmed {
		t.Errorf("state = %s, want CONFIRMED", d.State)
	}
	if !d.Permitted() {
		t.Error("confirmed decision should be permitted")
	}
}

func TestEvaluateRejection(t *testing.T) {
	broker := NewBroker(2 * time.Second)
	e := NewEngine(ModeAsk, NewStore(nil), broker, nil)

	go func() {
		for i := 0; i < 100; i++ {
			pending := broker.Pending()
			if len(pending) == 1 {
				broker.Resolve(pending[0].ID, false)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	d, err := e.Evaluate(context.Background(), ToolCallRequest{Tool: "write_file", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionRejected {
		t.Errorf("state = %s, want REJECTED", d.State)
	}
	if d.Permitted() {
		t.Error("rejected decision must not be permitted")
	}
}

func TestEvaluateTimeout(t *testing.T) {
	broker := NewBroker(50 * time.Millisecond)
	e := NewEngine(ModeAsk, NewStore(nil), broker, nil)

	d, err := e.Evaluate(context.Background(), ToolCallRequest{Tool: "write_file", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionTimedOut {
		t.Errorf("state = %s, want TIMED_OUT", d.State)
	}
	if d.Permitted() {
		t.Error("timed-out decision must not be permitted")
	}
}

func TestReloadSwapsRules(t *testing.T) {
	e := newTestEngine(ModeAuto, nil)

	d, err := e.Resolve(ToolCallRequest{Tool: "bash", TurnID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionAllow {
		t.Fatalf("before reload: state = %s", d.State)
	}

	e.Reload(NewStore([]Rule{
		{ID: "g#0:bash", Pattern: "bash", Outcome: OutcomeDeny, Scope: ScopeGlobal},
	}))

	d, err = e.Resolve(ToolCallRequest{Tool: "bash", TurnID: "t2"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != DecisionDeny {
		t.Errorf("after reload: state = %s, want DENY", d.State)
	}
}
