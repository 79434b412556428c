package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.Level = "loud"

	_, err := New(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewWritesJSONToRotatedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "pms.log")
	config := DefaultConfig()
	config.Encoding = "json"
	config.OutputPath = path
	config.Level = "debug"

	logger, err := New(config)
	require.NoError(t, err)

	WithComponent(logger, "backup").Info("snapshot created")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "snapshot created", entry["msg"])
	assert.Equal(t, "backup", entry["logger"])
	assert.Equal(t, "backup", entry["component"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pms.log")
	config := DefaultConfig()
	config.Encoding = "json"
	config.OutputPath = path
	config.Level = "warn"
	config.DisableCaller = true

	logger, err := New(config)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), `"caller"`)
}
