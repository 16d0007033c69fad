// Package logging builds the zap loggers used by the adapter and its sessions.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// Format is "console", "json" or "auto" (console when Output is a terminal).
	Format string
	// Output receives log lines; defaults to stderr. stdout is reserved for
	// the DAP stream in stdio mode.
	Output io.Writer
}

// New builds the process-wide logger.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(encoder(opts.Format, out), zapcore.AddSync(out), level)
	return zap.New(core), nil
}

func encoder(format string, out io.Writer) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		return zapcore.NewConsoleEncoder(cfg)
	}

	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// SessionLogger derives a per-session logger. A non-empty logFile appends
// plain-text lines to that file at debug level when verbose is set and at
// info level otherwise; the process-wide output keeps its own threshold.
// The returned close function releases the file.
func SessionLogger(base *zap.Logger, verbose bool, logFile string) (*zap.Logger, func() error, error) {
	noop := func() error { return nil }

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	logger := base
	if logFile == "" {
		return logger, noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return logger, noop, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return logger, noop, err
	}

	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(f),
		level,
	)
	logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return logger, f.Close, nil
}
