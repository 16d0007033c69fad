package fakegdb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/ctagard/cuda-dap/internal/backend"
)

// Backend is a scripted cuda-gdb. It implements backend.Spawner; every
// spawn starts a fresh simulated debugger running Options.Program.
type Backend struct {
	opts Options

	mu     sync.Mutex
	spawns []backend.SpawnOptions
	conns  []*Conn
}

// Options configures the simulated debugger.
type Options struct {
	// Banner is printed by -gdb-version. Defaults to a cuda-gdb banner.
	Banner string
	// ExitOnSpawn makes the process exit with this status right after it
	// started, the way a missing shared library does.
	ExitOnSpawn int
	// Program is the debuggee. Defaults to DefaultProgram().
	Program *Program
	// FailCommands maps a command prefix to the error message it fails with.
	FailCommands map[string]string
}

// DefaultBanner is the -gdb-version output unless overridden.
const DefaultBanner = "NVIDIA (R) CUDA Debugger\n12.4 release\nPortions Copyright (C) 2007-2024 NVIDIA Corporation\nGNU gdb (GDB) 13.2\n"

// New returns a backend spawning simulated debuggers.
func New(opts Options) *Backend {
	if opts.Banner == "" {
		opts.Banner = DefaultBanner
	}
	if opts.Program == nil {
		opts.Program = DefaultProgram()
	}
	return &Backend{opts: opts}
}

// Spawn implements backend.Spawner.
func (b *Backend) Spawn(ctx context.Context, opts backend.SpawnOptions) (backend.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := newConn(b.opts)

	b.mu.Lock()
	b.spawns = append(b.spawns, opts)
	b.conns = append(b.conns, c)
	b.mu.Unlock()

	if b.opts.ExitOnSpawn != 0 {
		c.terminate(backend.ExitFromCode(b.opts.ExitOnSpawn))
		return c, nil
	}
	go c.serve()
	return c, nil
}

// Spawns returns the options of every spawn so far.
func (b *Backend) Spawns() []backend.SpawnOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.SpawnOptions(nil), b.spawns...)
}

// Last returns the most recently spawned connection, or nil.
func (b *Backend) Last() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// Conn is one simulated debugger process.
type Conn struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	once sync.Once
	done chan struct{}
	exit backend.ExitEvent

	mu       sync.Mutex
	commands []string
	sim      *simulator
}

func newConn(opts Options) *Conn {
	c := &Conn{done: make(chan struct{})}
	c.inR, c.inW = io.Pipe()
	c.outR, c.outW = io.Pipe()
	c.sim = newSimulator(opts, c)
	return c
}

func (c *Conn) Read(b []byte) (int, error)  { return c.outR.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.inW.Write(b) }
func (c *Conn) Close() error                { return c.inW.Close() }

// Wait implements backend.Conn.
func (c *Conn) Wait() backend.ExitEvent {
	<-c.done
	return c.exit
}

// Kill implements backend.Conn.
func (c *Conn) Kill() error {
	c.terminate(backend.ExitEvent{Kind: backend.ExitSignaled, Code: -1, Signal: "signal: killed"})
	return nil
}

// Crash makes the process exit with code while it may be mid-command.
func (c *Conn) Crash(code int) {
	c.terminate(backend.ExitFromCode(code))
}

// Done is closed once the process exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Commands returns every command received, tokens stripped and console
// commands unwrapped.
func (c *Conn) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// Convenience returns the value of a convenience variable such as
// $order_var, without the dollar sign.
func (c *Conn) Convenience(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.sim.conv[name]
	if !ok {
		return "", false
	}
	return v.display(), true
}

func (c *Conn) terminate(ev backend.ExitEvent) {
	c.once.Do(func() {
		c.exit = ev
		close(c.done)
		_ = c.outW.Close()
		_ = c.inR.CloseWithError(io.ErrClosedPipe)
	})
}

func (c *Conn) serve() {
	scanner := bufio.NewScanner(c.inR)
	for scanner.Scan() {
		token, command := splitToken(scanner.Text())
		if command == "" {
			continue
		}
		command = unwrapConsole(command)

		c.mu.Lock()
		c.commands = append(c.commands, command)
		c.sim.handle(token, command)
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		default:
		}
	}
	c.terminate(backend.ExitEvent{Kind: backend.ExitNormal})
}

// emit writes one output line. Writes after exit are dropped.
func (c *Conn) emit(line string) {
	_, _ = fmt.Fprintln(c.outW, line)
}

func splitToken(line string) (string, string) {
	line = strings.TrimSpace(line)
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return line[:i], strings.TrimSpace(line[i:])
}

func unwrapConsole(command string) string {
	const prefix = "-interpreter-exec console "
	if !strings.HasPrefix(command, prefix) {
		return command
	}
	text, err := strconv.Unquote(strings.TrimPrefix(command, prefix))
	if err != nil {
		return command
	}
	return text
}
