package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	cdap "github.com/ctagard/cuda-dap/internal/dap"
	"github.com/ctagard/cuda-dap/internal/session"
	"github.com/ctagard/cuda-dap/internal/testutil"
	"github.com/ctagard/cuda-dap/internal/testutil/fakegdb"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cuda-dap v")
}

func TestServeRejectsBadLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--log-level", "chatty"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestServeRejectsMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
}

func TestServeListenerSessionPerConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	debugger := filepath.Join(t.TempDir(), "cuda-gdb")
	require.NoError(t, os.WriteFile(debugger, []byte("#!/bin/sh\n"), 0o755))

	fake := fakegdb.New(fakegdb.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- serveListener(ctx, ln, session.Options{
			Spawner: fake,
			Logger:  zaptest.NewLogger(t),
			GOOS:    "linux",
			Environ: []string{"PATH=/usr/bin"},
		})
	}()

	rctx, rcancel := context.WithTimeout(context.Background(), testutil.Timeout)
	defer rcancel()

	connect := func() *cdap.Client {
		transport, err := cdap.NewTCPTransport(ln.Addr().String())
		require.NoError(t, err)
		client := cdap.NewClient(transport, zap.NewNop())
		_, err = client.Initialize(rctx, "test")
		require.NoError(t, err)
		return client
	}

	first := connect()
	second := connect()

	_, err = first.Launch(rctx, map[string]any{"program": "/src/variables", "debuggerPath": debugger})
	require.NoError(t, err)
	_, err = second.Launch(rctx, map[string]any{"program": "/src/variables", "debuggerPath": debugger})
	require.NoError(t, err)
	assert.Len(t, fake.Spawns(), 2)

	require.NoError(t, first.Disconnect(rctx, true))
	require.NoError(t, first.Close())

	// Closing the listener ends the remaining session too.
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(testutil.Timeout):
		t.Fatal("listener did not stop")
	}
	_ = second.Close()
}
