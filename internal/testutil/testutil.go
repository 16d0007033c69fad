// Package testutil drives a simulated backend for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/internal/testutil/fakegdb"
)

// Timeout bounds every wait in tests.
const Timeout = 5 * time.Second

// StartBackend starts a simulated cuda-gdb and shuts it down with the test.
func StartBackend(t testing.TB, opts fakegdb.Options) (*backend.Client, *fakegdb.Backend) {
	t.Helper()
	fake := fakegdb.New(opts)
	client, err := backend.Start(context.Background(), fake, backend.StartOptions{Path: "cuda-gdb"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
	})
	return client, fake
}

// WaitForStop consumes asynchronous records until a stop arrives.
func WaitForStop(t testing.TB, client *backend.Client) *mi.Record {
	t.Helper()
	deadline := time.After(Timeout)
	for {
		select {
		case <-client.Notify():
			for _, rec := range client.Drain() {
				if rec.Kind == mi.KindExec && rec.Class == "stopped" {
					return rec
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for a stop")
			return nil
		}
	}
}

// RunTo sets breakpoints on lines of the simulated source file, starts the
// program and returns its first stop.
func RunTo(t testing.TB, client *backend.Client, lines ...int) *mi.Record {
	t.Helper()
	ctx := context.Background()
	for _, line := range lines {
		_, err := client.Execute(ctx, fmt.Sprintf("-break-insert -f %s:%d", fakegdb.SourceFile, line))
		require.NoError(t, err)
	}
	_, err := client.Execute(ctx, "-exec-run")
	require.NoError(t, err)
	return WaitForStop(t, client)
}

// Continue resumes the program and returns its next stop.
func Continue(t testing.TB, client *backend.Client) *mi.Record {
	t.Helper()
	_, err := client.Execute(context.Background(), "-exec-continue")
	require.NoError(t, err)
	return WaitForStop(t, client)
}
