// Package session serves one Debug Adapter Protocol connection on top of a
// cuda-gdb backend.
//
// A Session runs two goroutines: one decodes requests from the front end,
// the other owns all session state. The state-owning loop handles requests
// one at a time, drains the backend's asynchronous records between them and
// reacts to the backend exiting, so focus, thread table and variable handles
// never change underneath a request.
package session

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-dap"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/config"
	cdap "github.com/ctagard/cuda-dap/internal/dap"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/launchconfig"
	"github.com/ctagard/cuda-dap/internal/mutation"
	"github.com/ctagard/cuda-dap/internal/resolver"
	"github.com/ctagard/cuda-dap/pkg/types"
)

// shutdownTimeout bounds how long the backend gets to exit after -gdb-exit.
const shutdownTimeout = 5 * time.Second

// Options configures a session.
type Options struct {
	// Config holds adapter-wide defaults; launch arguments override them.
	Config *config.Config
	// Spawner starts the backend; defaults to an ExecSpawner.
	Spawner backend.Spawner
	Logger  *zap.Logger
	// Clock times the server startup delay.
	Clock clock.Clock
	// GOOS is the host platform checked for local launches.
	GOOS string
	// Environ is the environment the backend inherits before overrides.
	Environ []string
}

// Session is one DAP connection.
type Session struct {
	ID string

	opts      Options
	transport *cdap.Transport
	base      *zap.Logger
	logger    *zap.Logger
	closeLog  func() error

	// Set by launch or attach.
	request launchconfig.Request
	args    *launchconfig.LaunchArguments
	target  Target
	client  *backend.Client
	res     *resolver.Resolver
	mutator *mutation.Coordinator
	tracker *focus.Tracker

	backendGone     bool
	configured      bool
	running         bool
	resumeRequested bool
	pausePending    bool
	sysInfoSent     bool
	terminatedSent  bool
	finished        bool

	sourceBreakpoints   map[string][]int
	functionBreakpoints []int

	// after runs once the current response is written.
	after []func(ctx context.Context)

	statusMu sync.Mutex
	status   types.SessionStatus
}

// inbound is one decoded request, or the field error of one that could not
// be decoded.
type inbound struct {
	msg      dap.Message
	fieldErr *dap.DecodeProtocolMessageFieldError
}

// New creates a session for a connection.
func New(conn io.ReadWriteCloser, opts Options) *Session {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Spawner == nil {
		opts.Spawner = &backend.ExecSpawner{Logger: opts.Logger}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}

	id := uuid.New().String()
	logger := opts.Logger.With(zap.String("session", id))
	s := &Session{
		ID:                id,
		opts:              opts,
		transport:         cdap.NewTransport(conn),
		base:              logger,
		logger:            logger,
		closeLog:          func() error { return nil },
		sourceBreakpoints: make(map[string][]int),
		status:            types.SessionStatusInitializing,
	}
	s.tracker = focus.NewTracker(s.sendFocusChanged)
	return s
}

// Status reports the lifecycle state of the debugged program.
func (s *Session) Status() types.SessionStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

func (s *Session) setStatus(status types.SessionStatus) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
}

// Focus returns the committed focus.
func (s *Session) Focus() focus.Focus {
	return s.tracker.Get()
}

// Serve handles the connection until the front end disconnects, the
// connection fails or ctx is cancelled. The backend is shut down before
// Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := make(chan inbound)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(inbox)
		return s.read(gctx, inbox)
	})
	g.Go(func() error {
		defer cancel()
		defer s.transport.Close()
		return s.loop(gctx, inbox)
	})
	return g.Wait()
}

// read decodes requests until the connection ends.
func (s *Session) read(ctx context.Context, inbox chan<- inbound) error {
	for {
		msg, err := s.transport.Receive()
		var in inbound
		switch {
		case err == nil:
			in.msg = msg
		case stderrors.As(err, &in.fieldErr):
			s.logger.Debug("undecodable request", zap.Error(err))
		default:
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			s.logger.Debug("DAP read failed", zap.Error(err))
			return nil
		}
		select {
		case inbox <- in:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) loop(ctx context.Context, inbox <-chan inbound) error {
	defer s.teardown()
	for {
		select {
		case in, ok := <-inbox:
			if !ok {
				s.logger.Debug("front end closed the connection")
				return nil
			}
			s.dispatch(ctx, in)
			if s.finished {
				return nil
			}
		case <-s.backendNotify():
			s.handleRecords(ctx, s.client.Drain())
		case ev := <-s.backendExited():
			s.handleBackendExit(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// backendNotify is nil, and so never ready, without a backend.
func (s *Session) backendNotify() <-chan struct{} {
	if s.client == nil || s.backendGone {
		return nil
	}
	return s.client.Notify()
}

func (s *Session) backendExited() <-chan backend.ExitEvent {
	if s.client == nil || s.backendGone {
		return nil
	}
	return s.client.Exited()
}

// teardown stops the backend and whatever the target started.
func (s *Session) teardown() {
	if err := s.stopBackend(false); err != nil {
		s.logger.Warn("session teardown", zap.Error(err))
	}
	if err := s.closeLog(); err != nil {
		s.base.Debug("closing session log", zap.Error(err))
	}
	s.closeLog = func() error { return nil }
}

// send writes a message, logging instead of failing: a broken connection
// ends the read loop and with it the session.
func (s *Session) send(msg dap.Message) {
	if _, err := s.transport.Send(msg); err != nil {
		s.logger.Debug("failed to send DAP message", zap.Error(err))
	}
}

func (s *Session) sendEvent(ev dap.EventMessage) {
	s.send(ev)
}

func (s *Session) later(fn func(ctx context.Context)) {
	s.after = append(s.after, fn)
}
