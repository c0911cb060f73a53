package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRootPrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvRootOverride, "")

	root, err := ResolveRoot("")
	if err != nil {
		t.Fatal(err)
	}
	if root != filepath.Join(home, ".kado") {
		t.Errorf("default root = %q, want %q", root, filepath.Join(home, ".kado"))
	}

	override := t.TempDir()
	t.Setenv(EnvRootOverride, override)
	root, err = ResolveRoot("")
	if err != nil {
		t.Fatal(err)
	}
	if root != override {
		t.Errorf("env root = %q, want %q", root, override)
	}

	configured := t.TempDir()
	root, err = ResolveRoot(configured)
	if err != nil {
		t.Fatal(err)
	}
	if root != configured {
		t.Errorf("configured root = %q, want %q", root, configured)
	}
}

func TestEnsureRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "kado-root")

	if err := EnsureRoot(root); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{root, LocksDir(root), AuditDir(root)} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("missing %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
