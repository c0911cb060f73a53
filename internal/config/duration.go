package config

import (
	"fmt"
	"strings"
	"time"

	kadoErrors "github.com/kadohq/kado/internal/errors"
)

// DurationOrDefault parses a duration setting, substituting defaultValue when
// the setting is unset. An unparseable value is a configuration error, never
// a silent fallback.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, kadoErrors.Config("duration setting is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %v: %w", candidate, err, kadoErrors.ErrConfig)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q: %w", candidate, kadoErrors.ErrConfig)
	}
	return d, nil
}
