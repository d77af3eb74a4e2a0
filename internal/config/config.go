package config

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of the environment variable or the fallback
// if it is unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvInt returns the environment variable parsed as an int, or the
// fallback if unset or unparseable.
func GetEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvBool returns the environment variable parsed as a bool, or the
// fallback if unset or unparseable.
func GetEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

// GetEnvDuration returns the environment variable parsed as a
// time.Duration ("30s", "1h"), or the fallback if unset or unparseable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
