package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/kadohq/kado/internal/config"
	kadoErrors "github.com/kadohq/kado/internal/errors"
	"github.com/kadohq/kado/internal/pathutil"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const shortIDLength = 6

// Project maps a canonical workspace path to its stable short identifier.
type Project struct {
	ShortID        string    `json:"short_id"`
	WorkspaceKey   string    `json:"workspace_key"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type registryFile struct {
	Projects map[string]Project `json:"projects"` // keyed by WorkspaceKey
}

// Registry is the durable workspace-path to short-ID mapping. Every mutation
// runs as a single read-modify-write under a cross-process file lock so that
// concurrent first-time resolutions of one path converge on one ID.
type Registry struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	lockRetry   time.Duration
}

type RegistryConfig struct {
	LockTimeout   time.Duration
	RetryInterval time.Duration
}

func DefaultRegistryConfig() *RegistryConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultLockGuardTimeout, config.DefaultLockGuardTimeout)
	retry, _ := config.DurationOrDefault(config.DefaultLockRetryInterval, config.DefaultLockRetryInterval)

	return &RegistryConfig{
		LockTimeout:   lockTimeout,
		RetryInterval: retry,
	}
}

func NewRegistry(root string, cfg *RegistryConfig) *Registry {
	if cfg == nil {
		cfg = DefaultRegistryConfig()
	}

	return &Registry{
		path:        RegistryPath(root),
		lockPath:    RegistryLockPath(root),
		lockTimeout: cfg.LockTimeout,
		lockRetry:   cfg.RetryInterval,
	}
}

// Resolve canonicalizes path and returns the short ID registered for it,
// creating a new entry on first encounter.
func (r *Registry) Resolve(path string) (string, error) {
	key, err := pathutil.Canonicalize(path)
	if err != nil {
		return "", kadoErrors.Wrap(err, "canonicalize workspace path")
	}

	var shortID string
	err = r.withLock(func(reg *registryFile) (bool, error) {
		now := time.Now().UTC()

		if existing, ok := reg.Projects[key]; ok {
			existing.LastAccessedAt = now
			reg.Projects[key] = existing
			shortID = existing.ShortID
			return true, nil
		}

		shortID = newShortID(key, reg)
		reg.Projects[key] = Project{
			ShortID:        shortID,
			WorkspaceKey:   key,
			CreatedAt:      now,
			LastAccessedAt: now,
		}
		slog.Info("Registered new project", "short_id", shortID, "workspace", key)
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return shortID, nil
}

// Lookup returns the project registered under a short ID.
func (r *Registry) Lookup(shortID string) (*Project, error) {
	reg, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, project := range reg.Projects {
		if project.ShortID == shortID {
			p := project
			return &p, nil
		}
	}
	return nil, kadoErrors.NotFound(fmt.Sprintf("project %s", shortID))
}

// List returns all registered projects, most recently accessed first.
func (r *Registry) List() ([]Project, error) {
	reg, err := r.load()
	if err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(reg.Projects))
	for _, p := range reg.Projects {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastAccessedAt.After(projects[j].LastAccessedAt)
	})
	return projects, nil
}

// Delete removes the mapping for a short ID. Session data is untouched; the
// caller orchestrates session deletion separately.
func (r *Registry) Delete(shortID string) error {
	found := false
	err := r.withLock(func(reg *registryFile) (bool, error) {
		for key, project := range reg.Projects {
			if project.ShortID == shortID {
				delete(reg.Projects, key)
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return kadoErrors.NotFound(fmt.Sprintf("project %s", shortID))
	}
	return nil
}

// withLock serializes a read-modify-write cycle against the registry file
// across processes. The mutation reports whether the file must be rewritten.
func (r *Registry) withLock(mutate func(reg *registryFile) (bool, error)) error {
	fileLock := flock.New(r.lockPath)
	if err := r.acquireWithRetry(fileLock); err != nil {
		return err
	}
	defer fileLock.Unlock()

	reg, err := r.load()
	if err != nil {
		return err
	}

	dirty, err := mutate(reg)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return r.save(reg)
}

func (r *Registry) acquireWithRetry(fileLock *flock.Flock) error {
	deadline := time.Now().Add(r.lockTimeout)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return kadoErrors.StoreIO(err, "lock registry")
		}
		if locked {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("registry locked by another process (timeout after %v): %w",
				r.lockTimeout, kadoErrors.ErrLockBusy)
		}
		time.Sleep(r.lockRetry)
	}
}

func (r *Registry) load() (*registryFile, error) {
	reg := &registryFile{Projects: make(map[string]Project)}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, kadoErrors.StoreIO(err, "read registry")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return reg, nil
	}

	if err := json.Unmarshal(data, reg); err != nil {
		// Never reinitialize over an unparseable registry, losing the
		// path-to-ID mapping must be an explicit administrative act.
		return nil, fmt.Errorf("parse %s: %v: %w", r.path, err, kadoErrors.ErrRegistryCorrupt)
	}
	if reg.Projects == nil {
		reg.Projects = make(map[string]Project)
	}
	return reg, nil
}

func (r *Registry) save(reg *registryFile) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return kadoErrors.StoreIO(err, "write registry")
	}
	return nil
}

// newShortID derives a compact ID from the workspace key, rehashing until it
// is distinct from every registered ID.
func newShortID(key string, reg *registryFile) string {
	taken := make(map[string]struct{}, len(reg.Projects))
	for _, p := range reg.Projects {
		taken[p.ShortID] = struct{}{}
	}

	id := hashPrefix(key)
	for {
		if _, exists := taken[id]; !exists {
			return id
		}
		id = hashPrefix(key + id)
	}
}

func hashPrefix(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:shortIDLength]
}
