// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// The bridge owns a set of adapter sessions and drives each one through a
// protocol client over an in-memory connection, so every tool goes through
// the same request handling a graphical front end would use. Tools:
//
// Session Management:
//   - debug_launch: Launch a program under cuda-gdb
//   - debug_attach: Attach to a running process
//   - debug_disconnect: Disconnect from a session
//   - debug_list_sessions: List active sessions
//   - debug_list_configs: List cuda-gdb entries of a launch.json
//
// Inspection:
//   - debug_snapshot: Status, focus, threads, stacks, variables and devices
//   - debug_evaluate: Evaluate expressions in the focused frame
//   - debug_cuda_focus: Query or switch the CUDA focus
//
// Control:
//   - debug_breakpoints: Set source or function breakpoints
//   - debug_step: Step over/into/out
//   - debug_continue: Resume execution
//   - debug_pause: Pause execution
//   - debug_set_variable: Modify variable values
//   - debug_execute_command: Run a raw cuda-gdb command
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/config"
	"github.com/ctagard/cuda-dap/internal/session"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	registry  *Registry
	config    *config.Config
	logger    *zap.Logger
}

// NewServer creates an MCP server whose sessions are configured by opts.
func NewServer(cfg *config.Config, opts session.Options, version string) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	opts.Config = cfg
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		"cuda-dap",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		registry:  NewRegistry(opts, cfg.MaxSessions, cfg.SessionTimeout),
		config:    cfg,
		logger:    opts.Logger.Named("mcp"),
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close disconnects every session
func (s *Server) Close() error {
	return s.registry.Close()
}

// Registry returns the session registry
func (s *Server) Registry() *Registry {
	return s.registry
}
