package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kadohq/kado/internal/logger"
	"github.com/kadohq/kado/internal/store"
)

const decisionLogName = "decisions.jsonl"

// DecisionLogger appends every arbitration outcome to a JSONL file under the
// storage root. A disabled logger accepts and drops records.
type DecisionLogger struct {
	mu             sync.RWMutex
	logPath        string
	enabled        bool
	redactPatterns []string
}

// DecisionFilter narrows a Query. Zero-value fields match everything.
type DecisionFilter struct {
	Tool  string
	State DecisionState
	Since time.Time
	Until time.Time
}

func NewDecisionLogger(root string, enabled bool, redactPatterns []string) (*DecisionLogger, error) {
	if !enabled {
		return &DecisionLogger{enabled: false}, nil
	}

	dir := store.AuditDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &DecisionLogger{
		logPath:        filepath.Join(dir, decisionLogName),
		enabled:        true,
		redactPatterns: redactPatterns,
	}, nil
}

func (dl *DecisionLogger) Log(ctx context.Context, record *DecisionRecord) error {
	if !dl.enabled {
		return nil
	}
	if record == nil {
		return fmt.Errorf("decision record cannot be nil")
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.TraceID == "" {
		record.TraceID = logger.GetTraceID(ctx)
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	redacted := dl.redact(record)
	line, err := json.Marshal(redacted)
	if err != nil {
		slog.Error("Failed to marshal decision record", "error", err)
		return err
	}

	f, err := os.OpenFile(dl.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open decision log", "error", err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("Failed to write decision record", "error", err)
		return err
	}

	slog.Debug("Decision recorded", "trace_id", record.TraceID, "tool", record.Tool, "state", record.State)
	return nil
}

func (dl *DecisionLogger) Query(ctx context.Context, filter *DecisionFilter) ([]*DecisionRecord, error) {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	file, err := os.Open(dl.logPath)
	if os.IsNotExist(err) {
		return []*DecisionRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []*DecisionRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record DecisionRecord
		if err := json.Unmarshal(line, &record); err != nil {
			slog.Warn("Failed to parse decision record", "line", string(line), "error", err)
			continue
		}

		records = append(records, &record)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if filter == nil {
		return records, nil
	}

	var filtered []*DecisionRecord
	for _, record := range records {
		if !matchesFilter(record, filter) {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered, nil
}

func matchesFilter(record *DecisionRecord, filter *DecisionFilter) bool {
	if filter.Tool != "" && record.Tool != filter.Tool {
		return false
	}
	if filter.State != "" && record.State != filter.State {
		return false
	}
	if !filter.Since.IsZero() && record.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && record.Timestamp.After(filter.Until) {
		return false
	}
	return true
}

func (dl *DecisionLogger) redact(record *DecisionRecord) *DecisionRecord {
	redacted := *record
	for _, pattern := range dl.redactPatterns {
		redacted.Input = redactRaw(redacted.Input, pattern)
		redacted.Reason = redactString(redacted.Reason, pattern)
	}
	return &redacted
}

func redactRaw(data json.RawMessage, pattern string) json.RawMessage {
	if len(data) == 0 || pattern == "" {
		return data
	}
	return json.RawMessage(redactString(string(data), pattern))
}

func redactString(s, pattern string) string {
	if s == "" || pattern == "" {
		return s
	}
	if re, err := regexp.Compile(pattern); err == nil {
		return re.ReplaceAllString(s, "[REDACTED]")
	}
	return strings.ReplaceAll(s, pattern, "[REDACTED]")
}
