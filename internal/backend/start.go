package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/errors"
)

// StartOptions describes how to launch the backend.
type StartOptions struct {
	// Path is the resolved debugger executable.
	Path string
	// Interpreter is the MI version, "mi2" unless configured otherwise.
	Interpreter string
	// Dir is the backend's working directory; the inferior inherits it.
	Dir string
	// Env is the complete environment; the inferior inherits it.
	Env []string
}

// Start spawns the backend in MI mode and returns a client speaking to it.
func Start(ctx context.Context, spawner Spawner, opts StartOptions, logger *zap.Logger) (*Client, error) {
	interp := opts.Interpreter
	if interp == "" {
		interp = "mi2"
	}
	conn, err := spawner.Spawn(ctx, SpawnOptions{
		Path: opts.Path,
		Args: []string{"--interpreter=" + interp, "--nx", "-q"},
		Dir:  opts.Dir,
		Env:  opts.Env,
	})
	if err != nil {
		return nil, errors.LaunchFailed(opts.Path, err)
	}
	return NewClient(conn, logger), nil
}

// Banner returns the console output of -gdb-version.
func Banner(ctx context.Context, cmd Commander) (string, error) {
	reply, err := cmd.Execute(ctx, "-gdb-version")
	if err != nil {
		return "", err
	}
	return reply.ConsoleText(), nil
}

// RemoteTarget describes a gdbserver-style stub to connect to.
type RemoteTarget struct {
	// Type is the -target-select transport, "remote" by default.
	Type       string
	Host       string
	Port       string
	Parameters []string
	// ConnectCommands replace the generated -target-select entirely.
	ConnectCommands []string
}

// Commands returns the commands that attach the backend to the stub.
func (t RemoteTarget) Commands() ([]string, error) {
	if len(t.ConnectCommands) > 0 {
		return t.ConnectCommands, nil
	}

	typ := t.Type
	if typ == "" {
		typ = "remote"
	}
	params := strings.Join(t.Parameters, " ")
	if params == "" {
		if t.Port == "" {
			return nil, errors.ConfigInvalid("target.port", "a port or target parameters are required")
		}
		host := t.Host
		if host == "" {
			host = "localhost"
		}
		params = fmt.Sprintf("%s:%s", host, t.Port)
	}
	return []string{fmt.Sprintf("-target-select %s %s", typ, params)}, nil
}
