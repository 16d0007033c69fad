package main

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cdap "github.com/ctagard/cuda-dap/internal/dap"
	"github.com/ctagard/cuda-dap/internal/session"
	"github.com/ctagard/cuda-dap/internal/version"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Debug Adapter Protocol on stdio or a TCP address",
		Long: `Serve the Debug Adapter Protocol.

On stdio a single session runs until the editor disconnects. With --listen
every accepted connection gets its own session and its own cuda-gdb.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
}

func (a *app) serve(cmd *cobra.Command) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := session.Options{Config: cfg, Logger: logger}
	ctx := cmd.Context()

	if cfg.Listen == "" {
		logger.Debug("serving on stdio", zap.String("version", version.Version))
		sess := session.New(cdap.StdioConn(os.Stdin, os.Stdout), opts)
		return sess.Serve(ctx)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	logger.Info("listening", zap.Stringer("address", ln.Addr()), zap.String("version", version.Version))
	return serveListener(ctx, ln, opts)
}

// serveListener runs one session per accepted connection until ctx is done,
// then waits for the open sessions to finish.
func serveListener(ctx context.Context, ln net.Listener, opts session.Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		sess := session.New(conn, opts)
		log := logger.With(zap.String("session", sess.ID), zap.Stringer("remote", conn.RemoteAddr()))
		log.Info("client connected")
		wg.Go(func() {
			if err := sess.Serve(ctx); err != nil {
				log.Warn("session ended with error", zap.Error(err))
			}
			log.Info("client disconnected")
		})
	}
}
