package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	l, err := New(&Config{
		Level:    LevelInfo,
		Format:   "text",
		Output:   "file",
		FilePath: path,
	})
	require.NoError(t, err)
	defer l.Close()

	l.Info("hello", "domain", "example.com")
	l.Debug("dropped below level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "example.com")
	assert.NotContains(t, string(data), "dropped below level")
}

func TestWithComponent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	l, err := New(&Config{Output: "file", FilePath: path, Format: "json"})
	require.NoError(t, err)
	defer l.Close()

	l.WithComponent("tracker").Info("event")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"tracker"`)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestRotatorRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.log")

	r, err := NewRotator(path, 1, 2)
	require.NoError(t, err)
	defer r.Close()

	// Force rotation by shrinking the cap after open.
	r.maxBytes = 64

	line := strings.Repeat("x", 48) + "\n"
	for i := 0; i < 4; i++ {
		_, err := r.Write([]byte(line))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "rot-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "rotated backups should exist")
}
