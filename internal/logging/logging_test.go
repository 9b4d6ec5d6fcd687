package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, WriteToStderr: false})
	require.NoError(t, err)

	logger.Info("search completed", slog.Int("results", 3))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"search completed"`)
	assert.Contains(t, string(data), `"results":3`)
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	// Force a tiny max size so a couple of writes trigger rotation.
	w.maxSize = 64

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}
