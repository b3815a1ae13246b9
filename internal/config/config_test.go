package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonosstream/internal/apperrors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HOST", "PORT", "NODE_ENV", "MANAGEMENT_AUTH_SECRET", "STREAM_SERVICES",
		"SUBSCRIPTION_TIMEOUT_SEC", "RENEWAL_BUFFER_SEC", "BACKOFF_BASE_SEC",
		"BACKOFF_CAP_SEC", "MAX_ATTEMPTS", "CALLBACK_PORT_LO", "CALLBACK_PORT_HI",
		"BUFFER_SIZE", "CONFIG_FILE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.CallbackPortLo)
	assert.ElementsMatch(t, cfg.ServiceTypes(), cfg.ServiceTypes())
}

func TestLoad_RejectsCallbackPortBelow1024(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLBACK_PORT_LO", "80")
	t.Setenv("CALLBACK_PORT_HI", "90")
	_, err := Load()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorCodeValidationError, appErr.Code)
}

func TestLoad_RejectsSubscriptionTimeoutOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBSCRIPTION_TIMEOUT_SEC", "10")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsMaxAttemptsOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_ATTEMPTS", "11")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_YAMLOverlayWinsOverEnvDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: "127.0.0.1"
buffer_size: 512
services:
  - avtransport
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 512, cfg.BufferSize)
	require.Len(t, cfg.ServiceTypes(), 1)
}

func TestLoad_UnreadableOverlayReturnsValidationError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorCodeValidationError, appErr.Code)
}

func TestLoad_MalformedOverlayReturnsValidationError(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
}

func TestServiceTypes_DefaultsToAllWhenUnset(t *testing.T) {
	cfg := Config{}
	assert.Len(t, cfg.ServiceTypes(), 3)
}
