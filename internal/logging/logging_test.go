// ABOUTME: Tests for logger construction
// ABOUTME: Verifies level parsing and file output
package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talker.log")

	logger, closer, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Debug("peer added")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "peer added")
}

func TestNewFiltersByLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talker.log")

	logger, closer, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "chatty", Console: true})
	assert.Error(t, err)
}

func TestNewWithoutSinks(t *testing.T) {
	logger, closer, err := New(Options{})
	require.NoError(t, err)
	logger.Info("nowhere")
	assert.NoError(t, closer())
}
