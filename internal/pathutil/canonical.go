package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// Canonicalize resolves a filesystem path to its canonical identity: env and
// home expansion, absolute, symlinks resolved, no trailing separators. Two
// paths naming the same directory always canonicalize to the same string.
// The path must exist.
func Canonicalize(path string) (string, error) {
	expanded, err := Expand(path)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("path is empty")
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks for %s: %w", abs, err)
	}

	return filepath.Clean(resolved), nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
