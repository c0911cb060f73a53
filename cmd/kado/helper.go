package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kadohq/kado/internal/config"
	"github.com/kadohq/kado/internal/pathutil"
	"github.com/kadohq/kado/internal/policy"
	"github.com/kadohq/kado/internal/store"
)

// components bundles the storage-backed pieces a command needs. Close must be
// called when the command is done.
type components struct {
	root     string
	registry *store.Registry
	sessions *store.SessionStore
	locks    *store.LockManager
}

func (c *components) Close() {
	if c.sessions != nil {
		c.sessions.Close()
	}
}

func openComponents() (*components, error) {
	root, err := store.ResolveRoot(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := store.EnsureRoot(root); err != nil {
		return nil, fmt.Errorf("failed to prepare storage root: %w", err)
	}

	acquireTimeout, err := config.DurationOrDefault(cfg.Lock.AcquireTimeout, config.DefaultLockAcquireTimeout)
	if err != nil {
		return nil, err
	}
	retryInterval, err := config.DurationOrDefault(cfg.Lock.RetryInterval, config.DefaultLockRetryInterval)
	if err != nil {
		return nil, err
	}
	guardTimeout, err := config.DurationOrDefault(cfg.Lock.GuardTimeout, config.DefaultLockGuardTimeout)
	if err != nil {
		return nil, err
	}

	sessions, err := store.OpenSessionStore(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	return &components{
		root: root,
		registry: store.NewRegistry(root, &store.RegistryConfig{
			LockTimeout:   acquireTimeout,
			RetryInterval: retryInterval,
		}),
		sessions: sessions,
		locks: store.NewLockManager(root, &store.LockManagerConfig{
			GuardTimeout:  guardTimeout,
			RetryInterval: retryInterval,
		}),
	}, nil
}

// openEngine builds a policy engine against the rule files visible from the
// current working directory.
func openEngine(root string) (*policy.Engine, error) {
	mode, err := policy.ParseMode(cfg.Policy.Mode)
	if err != nil {
		return nil, err
	}

	workspacePolicy := ""
	if wd, err := os.Getwd(); err == nil {
		if projectRoot, ok := findProjectRoot(wd); ok {
			workspacePolicy = store.WorkspacePolicyPath(projectRoot)
		}
	}

	rules, err := policy.LoadStore(store.GlobalPolicyPath(root), workspacePolicy)
	if err != nil {
		return nil, err
	}

	confirmTimeout, err := config.DurationOrDefault(cfg.Policy.ConfirmTimeout, config.DefaultPolicyConfirmWait)
	if err != nil {
		return nil, err
	}

	audit, err := policy.NewDecisionLogger(root, cfg.Policy.AuditEnabled, cfg.Policy.RedactPatterns)
	if err != nil {
		return nil, err
	}

	return policy.NewEngine(mode, rules, policy.NewBroker(confirmTimeout), audit), nil
}

// rootMarkers identify a project root. A version-control marker outranks
// build-tool markers, so the walk runs in two passes.
var rootMarkers = [][]string{
	{".git"},
	{"go.mod", "package.json", "pyproject.toml", "setup.py"},
}

// findProjectRoot walks upward from start looking for a project root marker.
func findProjectRoot(start string) (string, bool) {
	canonical, err := pathutil.Canonicalize(start)
	if err != nil {
		return "", false
	}

	for _, markers := range rootMarkers {
		dir := canonical
		for {
			for _, marker := range markers {
				if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
					return dir, true
				}
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return "", false
}

// currentProjectID resolves the project containing the working directory,
// registering it on first sight.
func currentProjectID(c *components) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	projectRoot, ok := findProjectRoot(wd)
	if !ok {
		projectRoot = wd
	}
	return c.registry.Resolve(projectRoot)
}
