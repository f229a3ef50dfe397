package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/pitch-gateway/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}

func TestSetupLogging_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	setupLogging(config.LogConfig{Level: "info", Format: "json"}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Str("k", "v").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestLoadEnvFiles_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	extra := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(extra, []byte("PITCH_TEST_A=from-file\nPITCH_TEST_B=from-file\n"), 0o600))

	t.Setenv("PITCH_TEST_A", "from-env")
	t.Setenv("PITCH_TEST_B", "")
	os.Unsetenv("PITCH_TEST_B")

	loadEnvFiles(extra)
	assert.Equal(t, "from-env", os.Getenv("PITCH_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("PITCH_TEST_B"))
}
