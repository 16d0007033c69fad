// Package backend owns the cuda-gdb process: it resolves the executable,
// starts it (locally, or alongside a remote gdbserver), speaks the machine
// interface over its stdio and reports how it exited.
//
// Commands are correlated with their replies by token. Asynchronous records
// (stops, thread notifications, program output) are queued in arrival order
// and consumed by a single session loop. When the process exits every
// outstanding command fails and one ExitEvent is delivered.
package backend

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/mi"
)

// Reply is the result record answering one command, plus the console
// output printed while it ran.
type Reply struct {
	Class   string
	Results mi.Tuple
	Console []string
}

// ConsoleText joins the console output.
func (r *Reply) ConsoleText() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Console, "")
}

// CommandError is returned when the backend answers ^error.
type CommandError struct {
	Command string
	Msg     string
}

func (e *CommandError) Error() string {
	return e.Msg
}

// Commander executes one backend command and waits for its reply.
type Commander interface {
	Execute(ctx context.Context, command string) (*Reply, error)
}

// Client speaks the machine interface to a backend Conn.
type Client struct {
	conn   Conn
	logger *zap.Logger

	// Serializes writes to the backend input.
	wmu sync.Mutex

	// Command correlation
	mu        sync.Mutex
	nextToken int
	pending   map[int]*pendingCommand
	order     []int
	closed    bool
	exitErr   error

	queue  *queue
	exited chan ExitEvent
	done   chan struct{}
}

type pendingCommand struct {
	command string
	console []string
	ch      chan *Reply
}

// NewClient starts reading conn. The caller owns conn's lifecycle through
// the returned client.
func NewClient(conn Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[int]*pendingCommand),
		queue:   newQueue(),
		exited:  make(chan ExitEvent, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Execute sends command and blocks until its reply arrives, the backend
// exits or ctx is cancelled. Text that is not an MI command is run through
// the console interpreter. A ^error reply is returned as *CommandError
// together with the reply.
func (c *Client) Execute(ctx context.Context, command string) (*Reply, error) {
	if !mi.IsCommand(command) {
		command = mi.Console(command)
	}
	command = strings.TrimSpace(command)

	c.mu.Lock()
	if c.closed {
		err := c.exitErr
		c.mu.Unlock()
		return nil, errors.BackendExited(err)
	}
	c.nextToken++
	token := c.nextToken
	p := &pendingCommand{command: command, ch: make(chan *Reply, 1)}
	c.pending[token] = p
	c.order = append(c.order, token)
	c.mu.Unlock()

	c.logger.Debug("mi command", zap.Int("token", token), zap.String("command", command))

	c.wmu.Lock()
	_, err := fmt.Fprintf(c.conn, "%d%s\n", token, command)
	c.wmu.Unlock()
	if err != nil {
		c.forget(token)
		return nil, errors.BackendExited(err)
	}

	select {
	case reply, ok := <-p.ch:
		if !ok {
			c.mu.Lock()
			err := c.exitErr
			c.mu.Unlock()
			return nil, errors.BackendExited(err)
		}
		if reply.Class == "error" {
			return reply, &CommandError{Command: command, Msg: reply.Results.String("msg")}
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(token)
		return nil, ctx.Err()
	}
}

// Notify is signalled whenever asynchronous records are queued.
func (c *Client) Notify() <-chan struct{} {
	return c.queue.ready
}

// Drain returns and clears the queued asynchronous records.
func (c *Client) Drain() []*mi.Record {
	return c.queue.drain()
}

// Exited delivers the backend's ExitEvent once.
func (c *Client) Exited() <-chan ExitEvent {
	return c.exited
}

// Done is closed after the backend exited and all output was read.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Shutdown asks the backend to exit and kills it if it has not exited when
// ctx is done.
func (c *Client) Shutdown(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	go func() {
		_, _ = c.Execute(ctx, "-gdb-exit")
	}()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("backend did not exit, killing it")
		if err := c.conn.Kill(); err != nil {
			return err
		}
		<-c.done
		return nil
	}
}

// Kill terminates the backend immediately.
func (c *Client) Kill() error {
	return c.conn.Kill()
}

func (c *Client) forget(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, token)
	c.removeOrder(token)
}

func (c *Client) removeOrder(token int) {
	for i, t := range c.order {
		if t == token {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// readLoop continuously reads backend output until the process exits
func (c *Client) readLoop() {
	reader := bufio.NewReaderSize(c.conn, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			c.handleLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			break
		}
	}

	exit := c.conn.Wait()
	c.logger.Debug("backend exited", zap.Int("code", exit.Code), zap.Int("kind", int(exit.Kind)))

	c.mu.Lock()
	c.closed = true
	c.exitErr = exit.AsError()
	for token, p := range c.pending {
		close(p.ch)
		delete(c.pending, token)
	}
	c.order = nil
	c.mu.Unlock()

	c.exited <- exit
	close(c.done)
}

// handleLine routes one output line to its command or to the async queue
func (c *Client) handleLine(line string) {
	rec, err := mi.Parse(line)
	if err != nil {
		// Program output sharing the backend's terminal.
		c.queue.push(&mi.Record{Kind: mi.KindTarget, Text: line + "\n"})
		return
	}

	switch rec.Kind {
	case mi.KindPrompt:
		return
	case mi.KindResult:
		c.mu.Lock()
		p, ok := c.pending[rec.Token]
		if ok {
			delete(c.pending, rec.Token)
			c.removeOrder(rec.Token)
			p.ch <- &Reply{Class: rec.Class, Results: rec.Results, Console: p.console}
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("unmatched result record", zap.Stringer("record", rec))
		}
	case mi.KindConsole:
		c.mu.Lock()
		if len(c.order) > 0 {
			p := c.pending[c.order[0]]
			p.console = append(p.console, rec.Text)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.queue.push(rec)
	case mi.KindLog:
		c.logger.Debug("backend log", zap.String("text", strings.TrimSpace(rec.Text)))
	default:
		c.queue.push(rec)
	}
}

// queue is an unbounded FIFO of async records with a level-triggered
// readiness signal.
type queue struct {
	mu    sync.Mutex
	items []*mi.Record
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(rec *mi.Record) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []*mi.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
