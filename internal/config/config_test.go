package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "mi2", cfg.MIInterpreter)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "11.0", cfg.MinBackendVersion)
	assert.Empty(t, cfg.DebuggerPath)
	assert.Equal(t, 4, cfg.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cuda-dap.yaml")
	content := `debugger_path: /opt/cuda/bin/cuda-gdb
search_paths:
  - /opt/cuda-12.4/bin
  - /opt/cuda-12.2/bin
log_level: debug
listen: 127.0.0.1:4711
max_sessions: 2
session_timeout: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/cuda/bin/cuda-gdb", cfg.DebuggerPath)
	assert.Equal(t, []string{"/opt/cuda-12.4/bin", "/opt/cuda-12.2/bin"}, cfg.SearchPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:4711", cfg.Listen)
	assert.Equal(t, 2, cfg.MaxSessions)
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, "mi2", cfg.MIInterpreter)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CUDA_DAP_DEBUGGER_PATH", "/env/cuda-gdb")
	t.Setenv("CUDA_DAP_QNX_DEBUGGER_PATH", "/env/cuda-qnx-gdb")
	t.Setenv("CUDA_DAP_SEARCH_PATHS", "/a/bin"+string(os.PathListSeparator)+"/b/bin")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/env/cuda-gdb", cfg.DebuggerOverride(false))
	assert.Equal(t, "/env/cuda-qnx-gdb", cfg.DebuggerOverride(true))
	assert.Equal(t, []string{"/a/bin", "/b/bin"}, cfg.SearchPaths)
}
