package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/errors"
)

// DefaultServerPortPattern matches gdbserver's readiness line.
const DefaultServerPortPattern = `Listening on port ([0-9]+)`

// ServerOptions describes a gdbserver-style stub started by the adapter.
type ServerOptions struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	// PortPattern is matched against each output line; the first capture
	// group, if any, is the port the stub listens on.
	PortPattern string
	// StartupDelay is waited after the readiness line before connecting.
	StartupDelay time.Duration
}

// Server is a running stub.
type Server struct {
	cmd *exec.Cmd
	// Port is the captured port, empty if the pattern has no group.
	Port string
}

// StartServer runs the stub and waits until its output matches the port
// pattern and the startup delay has elapsed.
func StartServer(ctx context.Context, opts ServerOptions, clk clock.Clock, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	pattern := opts.PortPattern
	if pattern == "" {
		pattern = DefaultServerPortPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.ConfigInvalid("serverPortRegExp", err.Error())
	}

	//nolint:gosec // G204: server path comes from the launch configuration
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	setProcAttr(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		return nil, errors.LaunchFailed(opts.Path, err)
	}
	s := &Server{cmd: cmd}

	portCh := make(chan string, 1)
	go func() {
		// Keep draining after readiness so the stub never blocks on output.
		scanner := bufio.NewScanner(pr)
		matched := false
		for scanner.Scan() {
			line := scanner.Text()
			logger.Debug("server output", zap.String("line", line))
			if matched {
				continue
			}
			if m := re.FindStringSubmatch(line); m != nil {
				matched = true
				port := ""
				if len(m) > 1 {
					port = m[1]
				}
				portCh <- port
			}
		}
	}()
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		logger.Debug("server exited", zap.Error(err))
		_ = pw.Close()
		close(exited)
	}()

	select {
	case port := <-portCh:
		s.Port = port
	case <-exited:
		select {
		case port := <-portCh:
			s.Port = port
		default:
			return nil, errors.LaunchFailed(opts.Path, fmt.Errorf("server exited before printing a line matching %q", pattern))
		}
	case <-ctx.Done():
		_ = s.Stop()
		return nil, errors.LaunchFailed(opts.Path, ctx.Err())
	}

	if err := WaitStartupDelay(ctx, clk, opts.StartupDelay); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

// WaitStartupDelay sleeps for d on clk unless ctx ends first.
func WaitStartupDelay(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop kills the stub and its process group.
func (s *Server) Stop() error {
	if s == nil {
		return nil
	}
	return killProcessGroup(s.cmd)
}
