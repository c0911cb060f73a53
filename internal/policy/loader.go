package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kadoErrors "github.com/kadohq/kado/internal/errors"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type ruleSpec struct {
	Pattern  string `koanf:"pattern"`
	Outcome  string `koanf:"outcome"`
	Priority int    `koanf:"priority"`
}

type policyFile struct {
	Rules []ruleSpec `koanf:"rules"`
}

// Store is the loaded, immutable rule set. Reloading builds a fresh Store
// and swaps it into the engine atomically.
type Store struct {
	rules []Rule // pre-sorted in resolution order
}

// NewStore builds a Store from already-validated rules, sorting them into
// resolution order: workspace before global, priority descending, exact
// patterns before globs.
func NewStore(rules []Rule) *Store {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Scope != b.Scope {
			return a.Scope == ScopeWorkspace
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return !a.IsGlob() && b.IsGlob()
	})

	return &Store{rules: sorted}
}

// LoadStore reads the global and workspace rule files. A missing file
// contributes no rules; a malformed rule fails the whole load.
func LoadStore(globalPath, workspacePath string) (*Store, error) {
	var rules []Rule

	workspaceRules, err := loadRules(workspacePath, ScopeWorkspace)
	if err != nil {
		return nil, err
	}
	rules = append(rules, workspaceRules...)

	globalRules, err := loadRules(globalPath, ScopeGlobal)
	if err != nil {
		return nil, err
	}
	rules = append(rules, globalRules...)

	return NewStore(rules), nil
}

func loadRules(path string, scope Scope) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load policy file %s: %v: %w", path, err, kadoErrors.ErrConfig)
	}

	var pf policyFile
	if err := k.Unmarshal("", &pf); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %v: %w", path, err, kadoErrors.ErrConfig)
	}

	rules := make([]Rule, 0, len(pf.Rules))
	for i, spec := range pf.Rules {
		rule, err := buildRule(spec, scope, i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// buildRule validates one rule entry. Invalid rules are load-time errors,
// never silently skipped.
func buildRule(spec ruleSpec, scope Scope, index int) (Rule, error) {
	pattern := strings.TrimSpace(spec.Pattern)
	if pattern == "" {
		return Rule{}, fmt.Errorf("rule %d: empty pattern: %w", index, kadoErrors.ErrConfig)
	}
	if _, err := filepath.Match(pattern, "x"); err != nil {
		return Rule{}, fmt.Errorf("rule %d: invalid pattern %q: %v: %w", index, pattern, err, kadoErrors.ErrConfig)
	}

	outcome, err := ParseOutcome(spec.Outcome)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %d: %v: %w", index, err, kadoErrors.ErrConfig)
	}

	return Rule{
		ID:       fmt.Sprintf("%s#%d:%s", scope, index, pattern),
		Pattern:  pattern,
		Outcome:  outcome,
		Priority: spec.Priority,
		Scope:    scope,
	}, nil
}

// Rules returns the rule set in resolution order.
func (s *Store) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Match returns every rule matching the tool name, in resolution order.
func (s *Store) Match(tool string) []Rule {
	var matches []Rule
	for _, rule := range s.rules {
		if rule.Matches(tool) {
			matches = append(matches, rule)
		}
	}
	return matches
}

// Matches reports whether the rule applies to a tool name.
func (r Rule) Matches(tool string) bool {
	if !r.IsGlob() {
		return r.Pattern == tool
	}
	ok, err := filepath.Match(r.Pattern, tool)
	return err == nil && ok
}
