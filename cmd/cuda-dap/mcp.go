package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/mcp"
	"github.com/ctagard/cuda-dap/internal/session"
	"github.com/ctagard/cuda-dap/internal/version"
)

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve debugging tools over the Model Context Protocol on stdio",
		Long: `Serve the Model Context Protocol on stdio.

Each debug_launch or debug_attach call opens a session that runs the same
adapter as "serve"; tools inspect and control it by session id. Idle sessions
are disconnected after --session-timeout.

Example MCP client configuration:

    {
        "mcpServers": {
            "cuda-dap": {
                "command": "cuda-dap",
                "args": ["mcp"]
            }
        }
    }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			server := mcp.NewServer(cfg, session.Options{Logger: logger}, version.Version)
			defer func() {
				if err := server.Close(); err != nil {
					logger.Warn("closing sessions", zap.Error(err))
				}
			}()

			logger.Info("MCP server starting", zap.String("version", version.Version),
				zap.Int("maxSessions", cfg.MaxSessions), zap.Duration("sessionTimeout", cfg.SessionTimeout))
			return server.ServeStdio()
		},
	}

	flags := cmd.Flags()
	flags.Int("max-sessions", 0, "maximum number of concurrent debug sessions")
	flags.Duration("session-timeout", time.Duration(0), "disconnect sessions idle for this long")
	_ = a.v.BindPFlag("max_sessions", flags.Lookup("max-sessions"))
	_ = a.v.BindPFlag("session_timeout", flags.Lookup("session-timeout"))

	return cmd
}
