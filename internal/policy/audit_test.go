package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kadohq/kado/internal/logger"
	"github.com/kadohq/kado/internal/store"
)

func newTestDecisionLogger(t *testing.T, redact []string) (*DecisionLogger, string) {
	t.Helper()
	root := t.TempDir()
	dl, err := NewDecisionLogger(root, true, redact)
	if err != nil {
		t.Fatal(err)
	}
	return dl, root
}

func TestLogAndQuery(t *testing.T) {
	dl, _ := newTestDecisionLogger(t, nil)
	ctx := context.Background()

	records := []*DecisionRecord{
		{Tool: "bash", Mode: ModeAsk, State: DecisionDeny},
		{Tool: "cat", Mode: ModeAsk, State: DecisionAllow},
		{Tool: "bash", Mode: ModeAsk, State: DecisionConfirmed},
	}
	for _, r := range records {
		if err := dl.Log(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := dl.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}

	byTool, err := dl.Query(ctx, &DecisionFilter{Tool: "bash"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTool) != 2 {
		t.Errorf("tool filter: got %d, want 2", len(byTool))
	}

	byState, err := dl.Query(ctx, &DecisionFilter{State: DecisionAllow})
	if err != nil {
		t.Fatal(err)
	}
	if len(byState) != 1 || byState[0].Tool != "cat" {
		t.Errorf("state filter: got %+v", byState)
	}
}

func TestLogTakesTraceIDFromContext(t *testing.T) {
	dl, _ := newTestDecisionLogger(t, nil)
	ctx := logger.WithTraceID(context.Background(), "tr-9")

	if err := dl.Log(ctx, &DecisionRecord{Tool: "bash", State: DecisionAllow}); err != nil {
		t.Fatal(err)
	}

	records, err := dl.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].TraceID != "tr-9" {
		t.Errorf("trace ID not propagated: %+v", records)
	}
}

func TestQueryTimeWindow(t *testing.T) {
	dl, _ := newTestDecisionLogger(t, nil)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).UTC()
	recent := time.Now().UTC()
	dl.Log(ctx, &DecisionRecord{Tool: "bash", State: DecisionDeny, Timestamp: old})
	dl.Log(ctx, &DecisionRecord{Tool: "bash", State: DecisionDeny, Timestamp: recent})

	got, err := dl.Query(ctx, &DecisionFilter{Since: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("since filter: got %d, want 1", len(got))
	}

	got, err = dl.Query(ctx, &DecisionFilter{Until: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("until filter: got %d, want 1", len(got))
	}
}

func TestRedaction(t *testing.T) {
	dl, root := newTestDecisionLogger(t, []string{`sk-[a-z0-9]+`})
	ctx := context.Background()

	input := json.RawMessage(`{"cmd":"curl -H 'Authorization: sk-abc123'"}`)
	if err := dl.Log(ctx, &DecisionRecord{Tool: "bash", State: DecisionAllow, Input: input}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(store.AuditDir(root), decisionLogName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-abc123") {
		t.Error("secret survived redaction")
	}
	if !strings.Contains(string(raw), "[REDACTED]") {
		t.Error("redaction placeholder missing")
	}
}

func TestDisabledLoggerDropsRecords(t *testing.T) {
	dl, err := NewDecisionLogger(t.TempDir(), false, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := dl.Log(context.Background(), &DecisionRecord{Tool: "bash", State: DecisionAllow}); err != nil {
		t.Fatal(err)
	}
	got, err := dl.Query(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("disabled logger kept %d records", len(got))
	}
}

func TestQuerySkipsCorruptLines(t *testing.T) {
	dl, root := newTestDecisionLogger(t, nil)
	ctx := context.Background()

	dl.Log(ctx, &DecisionRecord{Tool: "bash", State: DecisionAllow})

	path := filepath.Join(store.AuditDir(root), decisionLogName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	dl.Log(ctx, &DecisionRecord{Tool: "cat", State: DecisionAllow})

	got, err := dl.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2 around the corrupt line", len(got))
	}
}
