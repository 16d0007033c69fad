package mcp

import (
	"context"
	stderrors "errors"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.uber.org/zap"

	cdap "github.com/ctagard/cuda-dap/internal/dap"
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/launchconfig"
	"github.com/ctagard/cuda-dap/internal/session"
	"github.com/ctagard/cuda-dap/pkg/types"
)

// cleanupInterval is how often idle sessions are looked for.
const cleanupInterval = time.Minute

// endTimeout bounds disconnecting one session.
const endTimeout = 10 * time.Second

// Session is a debug session owned by the bridge: an adapter session and
// the protocol client that drives it over an in-memory connection.
type Session struct {
	ID        string
	Request   launchconfig.Request
	Program   string
	CreatedAt time.Time

	adapter *session.Session
	client  *cdap.Client
	served  chan error

	mu       sync.Mutex
	lastUsed time.Time
}

// Status reports the lifecycle state of the debugged program.
func (s *Session) Status() types.SessionStatus {
	return s.adapter.Status()
}

// Client returns the protocol client of the session.
func (s *Session) Client() *cdap.Client {
	return s.client
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Registry manages the bridge's sessions
type Registry struct {
	opts        session.Options
	clock       clock.Clock
	logger      *zap.Logger
	maxSessions int
	timeout     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates a registry whose sessions are configured by opts. Sessions
// unused for longer than timeout are disconnected; a zero timeout keeps them.
func NewRegistry(opts session.Options, maxSessions int, timeout time.Duration) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		opts:        opts,
		clock:       opts.Clock,
		logger:      opts.Logger,
		maxSessions: maxSessions,
		timeout:     timeout,
		sessions:    make(map[string]*Session),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	// Start cleanup goroutine
	go r.cleanupLoop(ctx)

	return r
}

// cleanupLoop periodically disconnects idle sessions
func (r *Registry) cleanupLoop(ctx context.Context) {
	defer close(r.done)
	ticker := r.clock.Ticker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanupIdle()
		}
	}
}

func (r *Registry) cleanupIdle() {
	if r.timeout <= 0 {
		return
	}
	now := r.clock.Now()

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if now.Sub(s.idleSince()) > r.timeout {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.logger.Info("disconnecting idle session", zap.String("session", s.ID))
		if err := r.end(s, true); err != nil {
			r.logger.Warn("idle session cleanup", zap.String("session", s.ID), zap.Error(err))
		}
	}
}

// Create starts a new adapter session and connects a client to it.
func (r *Registry) Create(req launchconfig.Request, program string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, errors.SessionLimitReached(r.maxSessions)
	}

	server, conn := net.Pipe()
	adapter := session.New(server, r.opts)
	now := r.clock.Now()
	s := &Session{
		ID:        adapter.ID,
		Request:   req,
		Program:   program,
		CreatedAt: now,
		adapter:   adapter,
		served:    make(chan error, 1),
		lastUsed:  now,
	}
	go func() {
		s.served <- adapter.Serve(context.Background())
	}()
	s.client = cdap.NewClient(cdap.NewTransport(conn), r.logger.With(zap.String("session", s.ID)))

	r.sessions[s.ID] = s
	r.logger.Debug("session created", zap.String("session", s.ID), zap.String("request", string(req)))
	return s, nil
}

// Get retrieves a session by ID and marks it used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	s.touch(r.clock.Now())
	return s, nil
}

// List returns all sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	sessions := lo.Values(r.sessions)
	r.mu.Unlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sessions
}

// Terminate disconnects a session and removes it.
func (r *Registry) Terminate(id string, terminateDebuggee bool) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return errors.SessionNotFound(id)
	}
	return r.end(s, terminateDebuggee)
}

// end disconnects s and waits for its adapter session to finish.
func (r *Registry) end(s *Session, terminateDebuggee bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()

	var result *multierror.Error
	if err := s.client.Disconnect(ctx, terminateDebuggee); err != nil && !stderrors.Is(err, cdap.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := s.client.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	select {
	case err := <-s.served:
		if err != nil {
			result = multierror.Append(result, err)
		}
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}
	return result.ErrorOrNil()
}

// Close disconnects every session and stops the cleanup loop.
func (r *Registry) Close() error {
	r.cancel()
	<-r.done

	r.mu.Lock()
	sessions := lo.Values(r.sessions)
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := r.end(s, true); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
