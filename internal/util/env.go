// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfiguration marks a configuration value that is present but unusable.
var ErrConfiguration = errors.New("invalid configuration")

// StringEnv returns the trimmed value of key, or defaultValue when unset or blank.
func StringEnv(key, defaultValue string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultValue
}

// ParseBoolEnv parses a boolean environment variable with a default value.
// Accepts: true/1/yes/on and false/0/no/off (case-insensitive). Invalid values return default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}

// ParseIntEnv parses a positive integer environment variable. An unset variable yields
// defaultValue; a malformed or non-positive one is an ErrConfiguration.
func ParseIntEnv(key string, defaultValue int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrConfiguration, key, val)
	}
	return n, nil
}

// ParseDurationEnv parses a duration environment variable such as "30s" or "5m".
// Zero is allowed; negative values are an ErrConfiguration.
func ParseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative duration, got %q", ErrConfiguration, key, val)
	}
	return d, nil
}

// ParseFloatEnv parses a float environment variable within [min, max].
func ParseFloatEnv(key string, defaultValue, min, max float64) (float64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < min || f > max {
		return 0, fmt.Errorf("%w: %s must be a number in [%g, %g], got %q", ErrConfiguration, key, min, max, val)
	}
	return f, nil
}
