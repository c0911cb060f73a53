package errors

import (
	"fmt"
	"testing"
)

func TestCategory(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrRegistryCorrupt, "ErrRegistryCorrupt"},
		{fmt.Errorf("parse projects.json: %w", ErrRegistryCorrupt), "ErrRegistryCorrupt"},
		{ErrLockBusy, "ErrLockBusy"},
		{ErrConfirmationPending, "ErrConfirmationPending"},
		{StoreIO(fmt.Errorf("disk full"), "append turn"), "ErrStoreIO"},
		{fmt.Errorf("plain"), "Unknown"},
	}

	for _, tc := range cases {
		if got := Category(tc.err); got != tc.want {
			t.Errorf("Category(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestIsOperational(t *testing.T) {
	if !IsOperational(StoreIO(fmt.Errorf("permission denied"), "write registry")) {
		t.Error("StoreIO should be operational")
	}
	if !IsOperational(ErrRegistryCorrupt) {
		t.Error("RegistryCorrupt should be operational")
	}
	if IsOperational(ErrLockBusy) {
		t.Error("LockBusy is recoverable, not operational")
	}
	if IsOperational(ErrNotFound) {
		t.Error("NotFound is not operational")
	}
	if IsOperational(nil) {
		t.Error("nil is not operational")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if StoreIO(nil, "ctx") != nil {
		t.Error("StoreIO(nil) should be nil")
	}
}
