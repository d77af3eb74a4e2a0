package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	require.Equal(t, "value", GetEnv("TEST_STR", "fallback"))
	require.Equal(t, "fallback", GetEnv("TEST_STR_MISSING", "fallback"))

	t.Setenv("TEST_STR_EMPTY", "")
	require.Equal(t, "fallback", GetEnv("TEST_STR_EMPTY", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	require.Equal(t, 42, GetEnvInt("TEST_INT", 7))
	require.Equal(t, 7, GetEnvInt("TEST_INT_MISSING", 7))

	t.Setenv("TEST_INT_BAD", "not a number")
	require.Equal(t, 7, GetEnvInt("TEST_INT_BAD", 7))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	require.True(t, GetEnvBool("TEST_BOOL", false))
	require.False(t, GetEnvBool("TEST_BOOL_MISSING", false))

	t.Setenv("TEST_BOOL_BAD", "yep")
	require.True(t, GetEnvBool("TEST_BOOL_BAD", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	require.Equal(t, 90*time.Second, GetEnvDuration("TEST_DUR", time.Minute))
	require.Equal(t, time.Minute, GetEnvDuration("TEST_DUR_MISSING", time.Minute))

	t.Setenv("TEST_DUR_BAD", "ninety")
	require.Equal(t, time.Minute, GetEnvDuration("TEST_DUR_BAD", time.Minute))
}
