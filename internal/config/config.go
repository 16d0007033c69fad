// Package config provides configuration management for the CUDA debug adapter.
//
// Configuration controls:
//   - Debugger resolution: explicit paths for cuda-gdb and cuda-qnx-gdb, and
//     extra directories searched before the CUDA toolkit defaults
//   - Logging: level and encoding of the adapter log
//   - Serving: the TCP address to listen on instead of stdio
//   - Backend checks: the oldest cuda-gdb release accepted without a warning
//   - MCP bridge: how many sessions may be open and how long an idle one lives
//
// Values come from, in increasing precedence: built-in defaults, a
// cuda-dap.yaml file in /etc/cuda-dap, the user config directory or the
// working directory, and CUDA_DAP_* environment variables. Launch arguments
// sent by the front end override these per session.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by the adapter.
const EnvPrefix = "CUDA_DAP"

// Config holds the adapter configuration
type Config struct {
	// Debugger resolution
	DebuggerPath    string   `mapstructure:"debugger_path"`
	QNXDebuggerPath string   `mapstructure:"qnx_debugger_path"`
	SearchPaths     []string `mapstructure:"search_paths"`
	MIInterpreter   string   `mapstructure:"mi_interpreter"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // auto, console or json

	// Serving
	Listen string `mapstructure:"listen"`

	// Backend checks
	MinBackendVersion string `mapstructure:"min_backend_version"`

	// MCP bridge
	MaxSessions    int           `mapstructure:"max_sessions"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MIInterpreter:     "mi2",
		LogLevel:          "info",
		LogFormat:         "auto",
		MinBackendVersion: "11.0",
		MaxSessions:       4,
		SessionTimeout:    30 * time.Minute,
	}
}

// New returns a viper instance with defaults, config file locations and
// environment bindings registered. Callers may bind command-line flags to it
// before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetConfigName("cuda-dap")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/cuda-dap/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "cuda-dap"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	v.SetDefault("debugger_path", cfg.DebuggerPath)
	v.SetDefault("qnx_debugger_path", cfg.QNXDebuggerPath)
	v.SetDefault("search_paths", cfg.SearchPaths)
	v.SetDefault("mi_interpreter", cfg.MIInterpreter)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("min_backend_version", cfg.MinBackendVersion)
	v.SetDefault("max_sessions", cfg.MaxSessions)
	v.SetDefault("session_timeout", cfg.SessionTimeout)

	return v
}

// Load reads the optional config file and unmarshals everything into a Config.
// A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return unmarshal(v)
}

// LoadConfig loads configuration from a specific YAML file. An empty path
// yields the defaults merged with the environment.
func LoadConfig(path string) (*Config, error) {
	v := New()
	if path == "" {
		return Load(v)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	// CUDA_DAP_SEARCH_PATHS arrives as a single PATH-style string.
	if len(cfg.SearchPaths) == 1 && strings.Contains(cfg.SearchPaths[0], string(os.PathListSeparator)) {
		cfg.SearchPaths = filepath.SplitList(cfg.SearchPaths[0])
	}
	return cfg, nil
}

// DebuggerOverride returns the configured debugger path for the target flavour.
func (c *Config) DebuggerOverride(qnx bool) string {
	if qnx {
		return c.QNXDebuggerPath
	}
	return c.DebuggerPath
}
