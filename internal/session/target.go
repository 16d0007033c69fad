package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/launchconfig"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/internal/startup"
)

// Target is how a session gets a program under the backend's control:
// locally (launch or attach) or through a gdbserver-style stub.
type Target interface {
	// Name identifies the strategy in logs.
	Name() string
	// StartBackend spawns the backend, and the stub first if there is one.
	StartBackend(ctx context.Context, spawner backend.Spawner, opts backend.StartOptions) (*backend.Client, error)
	// ConfigureLaunch points a started backend at the program.
	ConfigureLaunch(ctx context.Context, cmd backend.Commander) error
	// CheckBreakpoints reports whether breakpoints may change now.
	CheckBreakpoints(running bool) error
	// Run starts or resumes the program once configuration is done.
	Run(ctx context.Context, cmd backend.Commander) error
	// ReportStop maps a backend stop to a protocol reason and description.
	ReportStop(results mi.Tuple, pausePending bool) (reason, description string)
	// Detach reports whether ending the session leaves the program running.
	Detach() bool
	// Close releases what StartBackend acquired besides the backend.
	Close() error
}

// newTarget picks the strategy for a decoded launch or attach request.
func newTarget(kind backend.TargetKind, req launchconfig.Request, args *launchconfig.LaunchArguments, clk clock.Clock, logger *zap.Logger) Target {
	if args.Remote() || kind == backend.TargetQNX {
		return &serverTarget{kind: kind, req: req, args: args, clock: clk, logger: logger}
	}
	return &localTarget{req: req, args: args, logger: logger}
}

// stopReason maps the reason field of a *stopped record.
func stopReason(results mi.Tuple, pausePending bool) (string, string) {
	switch reason := results.String("reason"); reason {
	case "breakpoint-hit":
		return "breakpoint", ""
	case "end-stepping-range", "function-finished", "location-reached":
		return "step", ""
	case "watchpoint-trigger", "read-watchpoint-trigger", "access-watchpoint-trigger":
		return "data breakpoint", ""
	case "signal-received":
		signal := results.String("signal-name")
		if signal == "SIGINT" && pausePending {
			return "pause", ""
		}
		return "exception", strings.TrimSpace(signal + " " + results.String("signal-meaning"))
	case "":
		// Stops without a reason follow -exec-interrupt in all-stop mode
		// on some backends.
		if pausePending {
			return "pause", ""
		}
		return "unknown", ""
	default:
		return reason, ""
	}
}

// localTarget debugs a process on this machine.
type localTarget struct {
	req    launchconfig.Request
	args   *launchconfig.LaunchArguments
	logger *zap.Logger
}

func (t *localTarget) Name() string { return "local " + string(t.req) }

func (t *localTarget) StartBackend(ctx context.Context, spawner backend.Spawner, opts backend.StartOptions) (*backend.Client, error) {
	return backend.Start(ctx, spawner, opts, t.logger)
}

func (t *localTarget) ConfigureLaunch(ctx context.Context, cmd backend.Commander) error {
	if t.req == launchconfig.RequestAttach {
		_, err := cmd.Execute(ctx, fmt.Sprintf("-target-attach %d", t.args.ProcessID))
		if err != nil {
			return errors.LaunchFailed(fmt.Sprintf("process %d", t.args.ProcessID), err)
		}
		return nil
	}

	var cmds []string
	if t.args.Cwd != "" {
		cmds = append(cmds, "-environment-cd "+mi.QuoteIfNeeded(t.args.Cwd))
	}
	cmds = append(cmds, "-file-exec-and-symbols "+mi.QuoteIfNeeded(t.args.Program))
	if len(t.args.Args) > 0 {
		cmds = append(cmds, "-exec-arguments "+t.args.Args.String())
	}
	for _, c := range cmds {
		if _, err := cmd.Execute(ctx, c); err != nil {
			return errors.LaunchFailed(t.args.Program, err)
		}
	}
	return nil
}

func (t *localTarget) CheckBreakpoints(bool) error { return nil }

func (t *localTarget) Run(ctx context.Context, cmd backend.Commander) error {
	if t.req == launchconfig.RequestAttach {
		_, err := cmd.Execute(ctx, "-exec-continue")
		return err
	}
	if err := startup.Run(ctx, cmd, nil, startup.FromStrings(t.args.PreRunCommands, false), t.logger); err != nil {
		return err
	}
	if _, err := cmd.Execute(ctx, "-exec-run"); err != nil {
		return errors.LaunchFailed(t.args.Program, err)
	}
	return nil
}

func (t *localTarget) ReportStop(results mi.Tuple, pausePending bool) (string, string) {
	return stopReason(results, pausePending)
}

func (t *localTarget) Detach() bool { return t.req == launchconfig.RequestAttach }

func (t *localTarget) Close() error { return nil }

// serverTarget debugs through a stub, optionally started by the adapter.
// Generic and QNX stubs differ only in the debugger they need.
type serverTarget struct {
	kind   backend.TargetKind
	req    launchconfig.Request
	args   *launchconfig.LaunchArguments
	clock  clock.Clock
	logger *zap.Logger

	server *backend.Server
	port   string
}

func (t *serverTarget) Name() string { return t.kind.String() + " server" }

func (t *serverTarget) StartBackend(ctx context.Context, spawner backend.Spawner, opts backend.StartOptions) (*backend.Client, error) {
	if path, params := t.args.ServerCommand(); path != "" {
		sopts := backend.ServerOptions{
			Path:         path,
			Args:         params,
			Dir:          opts.Dir,
			Env:          opts.Env,
			StartupDelay: t.args.StartupDelay(),
		}
		if t.args.Target != nil {
			sopts.PortPattern = t.args.Target.ServerPortRegExp
			if t.args.Target.Cwd != "" {
				sopts.Dir = t.args.Target.Cwd
			}
		}
		srv, err := backend.StartServer(ctx, sopts, t.clock, t.logger)
		if err != nil {
			return nil, err
		}
		t.server = srv
		t.port = srv.Port
		t.logger.Info("server started", zap.String("path", path), zap.String("port", srv.Port))
	}

	client, err := backend.Start(ctx, spawner, opts, t.logger)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return client, nil
}

func (t *serverTarget) remote() backend.RemoteTarget {
	rt := backend.RemoteTarget{Port: t.port}
	if tgt := t.args.Target; tgt != nil {
		rt.Type = tgt.Type
		rt.Host = tgt.Host
		rt.Parameters = tgt.Parameters
		rt.ConnectCommands = tgt.ConnectCommands
		if tgt.Port != "" && rt.Port == "" {
			rt.Port = tgt.Port
		}
	}
	return rt
}

func (t *serverTarget) ConfigureLaunch(ctx context.Context, cmd backend.Commander) error {
	var cmds []string
	if t.args.Program != "" {
		cmds = append(cmds, "-file-exec-and-symbols "+mi.QuoteIfNeeded(t.args.Program))
	}
	if img := t.args.ImageAndSymbols; img != nil {
		if img.SymbolFileName != "" {
			c := "symbol-file " + mi.QuoteIfNeeded(img.SymbolFileName)
			if img.SymbolOffset != "" {
				c += " -o " + img.SymbolOffset
			}
			cmds = append(cmds, c)
		}
	}

	connect, err := t.remote().Commands()
	if err != nil {
		return err
	}
	cmds = append(cmds, connect...)

	if img := t.args.ImageAndSymbols; img != nil && img.ImageFileName != "" {
		c := "load " + mi.QuoteIfNeeded(img.ImageFileName)
		if img.ImageOffset != "" {
			c += " " + img.ImageOffset
		}
		cmds = append(cmds, c)
	}

	for _, c := range cmds {
		if _, err := cmd.Execute(ctx, c); err != nil {
			return errors.LaunchFailed(t.Name(), err)
		}
	}
	if err := startup.Run(ctx, cmd, nil, startup.FromStrings(t.args.PreRunCommands, false), t.logger); err != nil {
		return err
	}
	return nil
}

// CheckBreakpoints refuses changes while running: stubs cannot insert
// breakpoints into a running target.
func (t *serverTarget) CheckBreakpoints(running bool) error {
	if running {
		return errors.NotStopped("setting breakpoints on a remote target")
	}
	return nil
}

func (t *serverTarget) Run(ctx context.Context, cmd backend.Commander) error {
	_, err := cmd.Execute(ctx, "-exec-continue")
	return err
}

// ReportStop reports the stub's initial SIGTRAP as the entry stop.
func (t *serverTarget) ReportStop(results mi.Tuple, pausePending bool) (string, string) {
	if results.String("reason") == "signal-received" && results.String("signal-name") == "SIGTRAP" {
		return "entry", ""
	}
	return stopReason(results, pausePending)
}

func (t *serverTarget) Detach() bool { return t.req == launchconfig.RequestAttach }

func (t *serverTarget) Close() error {
	if t.server == nil {
		return nil
	}
	err := t.server.Stop()
	t.server = nil
	return err
}
