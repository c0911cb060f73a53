package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalizeTrailingSeparator(t *testing.T) {
	dir := t.TempDir()

	// t.TempDir may itself sit behind a symlink (macOS /tmp), canonicalize once.
	want, err := Canonicalize(dir)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Canonicalize(dir + string(os.PathSeparator))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("trailing separator changed identity: %q vs %q", got, want)
	}
}

func TestCanonicalizeSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "workspace")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	viaTarget, err := Canonicalize(target)
	if err != nil {
		t.Fatal(err)
	}
	viaLink, err := Canonicalize(link)
	if err != nil {
		t.Fatal(err)
	}
	if viaTarget != viaLink {
		t.Errorf("symlink and target disagree: %q vs %q", viaLink, viaTarget)
	}
}

func TestCanonicalizeRelative(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "proj")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(oldWD)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	abs, err := Canonicalize(sub)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := Canonicalize("proj")
	if err != nil {
		t.Fatal(err)
	}
	if rel != abs {
		t.Errorf("relative path resolved to %q, want %q", rel, abs)
	}
}

func TestCanonicalizeMissing(t *testing.T) {
	if _, err := Canonicalize(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing path")
	}
	if _, err := Canonicalize("  "); err == nil {
		t.Error("expected error for blank path")
	}
}
