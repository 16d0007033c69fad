package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Conn is a running backend: Read yields its MI output, Write feeds its
// command input and Close closes the input.
type Conn interface {
	io.ReadWriteCloser

	// Wait blocks until the backend exits. It must only be called after Read
	// has returned an error.
	Wait() ExitEvent

	// Kill terminates the backend and everything it started.
	Kill() error
}

// SpawnOptions describes the backend process to start.
type SpawnOptions struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Spawner starts backend processes. Tests substitute a scripted backend.
type Spawner interface {
	Spawn(ctx context.Context, opts SpawnOptions) (Conn, error)
}

// ExecSpawner starts the backend as a child process.
type ExecSpawner struct {
	Logger *zap.Logger
}

// Spawn starts the process with its own process group, stdin/stdout pipes
// and stderr forwarded to the logger.
func (s *ExecSpawner) Spawn(ctx context.Context, opts SpawnOptions) (Conn, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	//nolint:gosec // G204: debugger path is resolved and validated by Locate
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Path, err)
	}
	logger.Debug("backend started", zap.String("path", opts.Path), zap.Strings("args", opts.Args), zap.Int("pid", cmd.Process.Pid))

	p := &execConn{cmd: cmd, stdin: stdin, stdout: stdout, stderrDone: make(chan struct{})}
	go func() {
		defer close(p.stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warn("backend stderr", zap.String("line", scanner.Text()))
		}
	}()
	return p, nil
}

type execConn struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderrDone chan struct{}

	waitOnce sync.Once
	exit     ExitEvent
}

func (p *execConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *execConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *execConn) Close() error                { return p.stdin.Close() }

func (p *execConn) Wait() ExitEvent {
	p.waitOnce.Do(func() {
		<-p.stderrDone
		p.exit = ClassifyExit(p.cmd.Wait())
	})
	return p.exit
}

func (p *execConn) Kill() error {
	return killProcessGroup(p.cmd)
}

// BuildEnv applies overrides to base. A nil value removes the variable; the
// result is sorted so the child sees a deterministic environment.
func BuildEnv(base []string, overrides map[string]*string) []string {
	env := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			delete(env, k)
			continue
		}
		env[k] = *v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
