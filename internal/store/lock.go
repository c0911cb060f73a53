package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kadohq/kado/internal/config"
	kadoErrors "github.com/kadohq/kado/internal/errors"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

// LockHandle is the on-disk marker proving exclusive ownership of a session.
type LockHandle struct {
	SessionID  string    `json:"session_id"`
	HolderPID  int       `json:"holder_pid"`
	AcquiredAt time.Time `json:"acquired_at"`

	path     string
	released bool
	mu       sync.Mutex
}

// LockManager hands out at most one valid LockHandle per session ID
// system-wide. Markers left by dead processes are reclaimed, with a shared
// flock guard making every reclaim race single-winner.
type LockManager struct {
	dir          string
	guardPath    string
	guardTimeout time.Duration
	retry        time.Duration
}

type LockManagerConfig struct {
	GuardTimeout  time.Duration
	RetryInterval time.Duration
}

func DefaultLockManagerConfig() *LockManagerConfig {
	guardTimeout, _ := config.DurationOrDefault(config.DefaultLockGuardTimeout, config.DefaultLockGuardTimeout)
	retry, _ := config.DurationOrDefault(config.DefaultLockRetryInterval, config.DefaultLockRetryInterval)

	return &LockManagerConfig{
		GuardTimeout:  guardTimeout,
		RetryInterval: retry,
	}
}

func NewLockManager(root string, cfg *LockManagerConfig) *LockManager {
	if cfg == nil {
		cfg = DefaultLockManagerConfig()
	}

	dir := LocksDir(root)
	return &LockManager{
		dir:          dir,
		guardPath:    filepath.Join(dir, ".guard"),
		guardTimeout: cfg.GuardTimeout,
		retry:        cfg.RetryInterval,
	}
}

// Acquire takes the exclusive lock for a session, waiting up to timeout for a
// live holder to release it. A marker whose recorded PID is no longer alive is
// reclaimed immediately.
func (m *LockManager) Acquire(sessionID string, timeout time.Duration) (*LockHandle, error) {
	if sessionID == "" {
		return nil, kadoErrors.InvalidInput("session ID is required")
	}

	deadline := time.Now().Add(timeout)
	for {
		handle, holder, err := m.tryAcquire(sessionID)
		if err != nil {
			return nil, err
		}
		if handle != nil {
			return handle, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("session %s locked by pid %d (timeout after %v): %w",
				sessionID, holder, timeout, kadoErrors.ErrLockBusy)
		}
		time.Sleep(m.retry)
	}
}

// tryAcquire performs one guarded attempt. It returns (nil, holderPID, nil)
// when a live holder owns the lock.
func (m *LockManager) tryAcquire(sessionID string) (*LockHandle, int, error) {
	guard, err := m.lockGuard()
	if err != nil {
		return nil, 0, err
	}
	defer guard.Unlock()

	markerPath := m.markerPath(sessionID)
	existing, err := readMarker(markerPath)
	if err != nil {
		return nil, 0, err
	}

	if existing != nil {
		if pidAlive(existing.HolderPID) {
			return nil, existing.HolderPID, nil
		}
		slog.Warn("Reclaiming stale session lock",
			"session", sessionID,
			"stale_pid", existing.HolderPID,
			"acquired_at", existing.AcquiredAt.Format(time.RFC3339),
		)
	}

	handle := &LockHandle{
		SessionID:  sessionID,
		HolderPID:  os.Getpid(),
		AcquiredAt: time.Now().UTC(),
		path:       markerPath,
	}
	if err := writeMarker(markerPath, handle); err != nil {
		return nil, 0, err
	}

	slog.Debug("Session lock acquired", "session", sessionID, "pid", handle.HolderPID)
	return handle, 0, nil
}

// Release removes the marker. Releasing an already-released or foreign handle
// is a no-op so crash-then-cleanup paths stay safe.
func (m *LockManager) Release(handle *LockHandle) error {
	if handle == nil {
		return nil
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.released {
		return nil
	}
	handle.released = true

	guard, err := m.lockGuard()
	if err != nil {
		return err
	}
	defer guard.Unlock()

	current, err := readMarker(handle.path)
	if err != nil || current == nil {
		return nil
	}
	if current.HolderPID != handle.HolderPID || current.SessionID != handle.SessionID {
		return nil // reclaimed by someone else, not ours to remove
	}

	if err := os.Remove(handle.path); err != nil && !os.IsNotExist(err) {
		return kadoErrors.StoreIO(err, "remove lock marker")
	}
	slog.Debug("Session lock released", "session", handle.SessionID)
	return nil
}

// IsHeld reports whether a live process currently holds the session lock.
func (m *LockManager) IsHeld(sessionID string) bool {
	marker, err := readMarker(m.markerPath(sessionID))
	if err != nil || marker == nil {
		return false
	}
	return pidAlive(marker.HolderPID)
}

func (m *LockManager) markerPath(sessionID string) string {
	return filepath.Join(m.dir, sessionID+".lock")
}

func (m *LockManager) lockGuard() (*flock.Flock, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, kadoErrors.StoreIO(err, "create locks dir")
	}

	guard := flock.New(m.guardPath)
	deadline := time.Now().Add(m.guardTimeout)
	for {
		locked, err := guard.TryLock()
		if err != nil {
			return nil, kadoErrors.StoreIO(err, "lock guard")
		}
		if locked {
			return guard, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock guard busy (timeout after %v): %w",
				m.guardTimeout, kadoErrors.ErrLockBusy)
		}
		time.Sleep(m.retry)
	}
}

func readMarker(path string) (*LockHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kadoErrors.StoreIO(err, "read lock marker")
	}

	var marker LockHandle
	if err := json.Unmarshal(data, &marker); err != nil {
		// Markers are written atomically, an unparseable one is debris from
		// a dead writer and counts as stale.
		slog.Warn("Discarding unparseable lock marker", "path", path, "error", err)
		return nil, nil
	}
	marker.path = path
	return &marker, nil
}

func writeMarker(path string, handle *LockHandle) error {
	data, err := json.MarshalIndent(handle, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return kadoErrors.StoreIO(err, "write lock marker")
	}
	return nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
