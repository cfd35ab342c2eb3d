package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirozbir/erp-sentinel/internal/config"
)

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.log")

	logger, err := New(config.LoggingConfig{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("cycle finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle finished")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
