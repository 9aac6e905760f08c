package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration parses a duration-valued config field ("10s", "2m30s"). Fields are
// kept as plain strings so YAML and JSON configs read identically. An empty or
// zero value yields def; negatives are rejected since every duration in this
// config is a timeout or interval. path names the field in error messages.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
