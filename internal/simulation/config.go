package simulation

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	intervalEnvKey   = "SIMULATION_INTERVAL"
	enabledEnvKey    = "SIMULATION_ENABLED"
	irrigationEnvKey = "IRRIGATION_POLL_INTERVAL"
	defaultPollEvery = 30 * time.Second
)

// Config controls the simulator and the irrigation coordinator.
type Config struct {
	Interval     time.Duration
	Enabled      bool
	PollInterval time.Duration
}

// FromEnv reads SIMULATION_INTERVAL, SIMULATION_ENABLED and
// IRRIGATION_POLL_INTERVAL. Bad values log and fall back to defaults.
func FromEnv() Config {
	return Config{
		Interval:     IntervalFromString(os.Getenv(intervalEnvKey)),
		Enabled:      boolFromString(enabledEnvKey, os.Getenv(enabledEnvKey), true),
		PollInterval: durationFromString(irrigationEnvKey, os.Getenv(irrigationEnvKey), defaultPollEvery),
	}
}

// IntervalFromString parses a duration string with sensible fallback.
func IntervalFromString(raw string) time.Duration {
	return durationFromString(intervalEnvKey, raw, defaultInterval)
}

func durationFromString(key, raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		zap.L().Warn("invalid duration, using default",
			zap.String("key", key), zap.String("value", raw), zap.Duration("default", fallback), zap.Error(err))
		return fallback
	}
	if dur <= 0 {
		zap.L().Warn("non-positive duration, using default",
			zap.String("key", key), zap.String("value", raw), zap.Duration("default", fallback))
		return fallback
	}
	return dur
}

func boolFromString(key, raw string, fallback bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		zap.L().Warn("invalid boolean, using default", zap.String("key", key), zap.String("value", raw), zap.Bool("default", fallback))
		return fallback
	}
	return v
}
