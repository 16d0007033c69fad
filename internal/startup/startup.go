// Package startup runs the user's init and setup commands against a freshly
// started backend, strictly in order.
package startup

import (
	"context"

	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/errors"
)

// Command is one entry to run.
type Command struct {
	Text           string
	Description    string
	IgnoreFailures bool
}

// label is what errors and logs call the command.
func (c Command) label() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Text
}

// Run executes init and then setup, each command only after the previous
// one has been answered. Init commands never ignore failures. The first
// failure that is not ignored stops the sequence and is returned as a
// COMMAND_FAILED error naming the command's position in the combined list.
func Run(ctx context.Context, cmd backend.Commander, init []string, setup []Command, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	all := make([]Command, 0, len(init)+len(setup))
	for _, text := range init {
		all = append(all, Command{Text: text})
	}
	all = append(all, setup...)

	for i, c := range all {
		logger.Debug("startup command", zap.Int("index", i), zap.String("text", c.Text))
		_, err := cmd.Execute(ctx, c.Text)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.IgnoreFailures && !isFatal(err) {
			logger.Warn("ignoring failed setup command",
				zap.String("command", c.label()), zap.Error(err))
			continue
		}
		return errors.CommandFailed(c.label(), c.Text, i, err)
	}
	return nil
}

// isFatal reports errors no ignoreFailures flag can absorb: the backend is
// gone and later commands cannot run either.
func isFatal(err error) bool {
	return errors.Is(err, errors.CodeBackendExited)
}

// FromStrings wraps plain command texts.
func FromStrings(texts []string, ignoreFailures bool) []Command {
	out := make([]Command, len(texts))
	for i, t := range texts {
		out[i] = Command{Text: t, IgnoreFailures: ignoreFailures}
	}
	return out
}
