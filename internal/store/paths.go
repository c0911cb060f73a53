package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadohq/kado/internal/pathutil"
)

// EnvRootOverride overrides the storage root for every component.
const EnvRootOverride = "KADO_HOME"

const rootDirName = ".kado"

// ResolveRoot resolves the storage root directory. Precedence: explicit
// configuration, KADO_HOME, then ~/.kado.
func ResolveRoot(configured string) (string, error) {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	if override := strings.TrimSpace(os.Getenv(EnvRootOverride)); override != "" {
		return pathutil.Expand(override)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, rootDirName), nil
}

// EnsureRoot creates the storage root and its fixed subdirectories.
func EnsureRoot(root string) error {
	for _, dir := range []string{root, LocksDir(root), AuditDir(root)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return nil
}

// RegistryPath returns the project registry file inside the root.
func RegistryPath(root string) string {
	return filepath.Join(root, "projects.json")
}

// RegistryLockPath returns the flock guarding registry mutations.
func RegistryLockPath(root string) string {
	return filepath.Join(root, "projects.lock")
}

// SessionDBPath returns the embedded session database file.
func SessionDBPath(root string) string {
	return filepath.Join(root, "sessions.db")
}

// LocksDir returns the directory holding per-session lock markers.
func LocksDir(root string) string {
	return filepath.Join(root, "locks")
}

// AuditDir returns the directory holding policy decision logs.
func AuditDir(root string) string {
	return filepath.Join(root, "audit")
}

// GlobalPolicyPath returns the global policy rule file.
func GlobalPolicyPath(root string) string {
	return filepath.Join(root, "policy.yaml")
}

// WorkspacePolicyPath returns the workspace-local policy rule file for a
// workspace root directory.
func WorkspacePolicyPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, rootDirName, "policy.yaml")
}
