package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestInitializeWithFileAppendsJSON(t *testing.T) {
	previous, std, level := Logger, log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		Logger, log.Logger = previous, std
		zerolog.SetGlobalLevel(level)
	})

	path := filepath.Join(t.TempDir(), "lpo.log")
	require.NoError(t, InitializeWithFile("info", path))
	componentLogger := GetForComponent("test")
	componentLogger.Info().Str("instance", "mainnet-abc").Msg("cycle complete")
	componentLogger.Debug().Msg("filtered out")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"message":"cycle complete"`)
	assert.NotContains(t, string(data), "filtered out")

	assert.Error(t, InitializeWithFile("info", filepath.Join(t.TempDir(), "missing", "lpo.log")))
}
