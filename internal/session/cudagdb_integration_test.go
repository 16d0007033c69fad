//go:build integration

package session_test

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/cuda-dap/internal/backend"
	cdap "github.com/ctagard/cuda-dap/internal/dap"
	"github.com/ctagard/cuda-dap/internal/resolver"
	"github.com/ctagard/cuda-dap/internal/session"
	"github.com/ctagard/cuda-dap/pkg/types"
)

// vectorAddLine is the statement inside the kernel of testdata/vectoradd.cu.
const vectorAddLine = 7

// buildVectorAdd compiles the sample with device debug info, skipping the
// test when no CUDA toolchain or GPU debugger is installed.
func buildVectorAdd(t *testing.T) (program, debugger string) {
	t.Helper()
	debugger, err := backend.Locate("", backend.TargetGeneric, nil)
	if err != nil {
		t.Skipf("cuda-gdb not available: %v", err)
	}
	nvcc, err := exec.LookPath("nvcc")
	if err != nil {
		t.Skip("nvcc not available")
	}

	source, err := filepath.Abs(filepath.Join("testdata", "vectoradd.cu"))
	require.NoError(t, err)
	program = filepath.Join(t.TempDir(), "vectoradd")
	out, err := exec.Command(nvcc, "-g", "-G", "-o", program, source).CombinedOutput()
	require.NoError(t, err, string(out))
	return program, debugger
}

func TestCudaGDBKernelBreakpoint(t *testing.T) {
	program, debugger := buildVectorAdd(t)
	source, err := filepath.Abs(filepath.Join("testdata", "vectoradd.cu"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	server, conn := net.Pipe()
	sess := session.New(server, session.Options{Logger: zaptest.NewLogger(t), Environ: os.Environ()})
	served := make(chan error, 1)
	go func() { served <- sess.Serve(ctx) }()
	client := cdap.NewClient(cdap.NewTransport(conn), zap.NewNop())
	defer func() {
		_ = client.Close()
		<-served
	}()

	_, err = client.Initialize(ctx, "integration")
	require.NoError(t, err)
	_, err = client.Launch(ctx, map[string]any{"program": program, "debuggerPath": debugger})
	require.NoError(t, err)
	_, err = client.WaitForEvent(ctx, "initialized")
	require.NoError(t, err)

	bps, err := client.SetBreakpoints(ctx, source, []dap.SourceBreakpoint{{Line: vectorAddLine}})
	require.NoError(t, err)
	require.Len(t, bps, 1)
	require.NoError(t, client.ConfigurationDone(ctx))

	stopped, err := client.WaitForStopped(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stopped.Body.ThreadId, resolver.DeviceThreadBase)

	ev, err := client.WaitForEvent(ctx, types.EventChangedCudaFocus)
	require.NoError(t, err)
	focus := ev.(*types.ChangedCudaFocusEvent).Body.Focus
	require.NotNil(t, focus)
	assert.Equal(t, types.FocusTypeSoftware, focus.Type)

	target := types.SoftwareFocus(types.Dim3{X: 1}, types.Dim3{X: 5})
	got, err := client.ChangeCudaFocus(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	body, err := client.Evaluate(ctx, "i", 0, "watch")
	require.NoError(t, err)
	assert.Equal(t, "37", body.Result)

	_, err = client.SetBreakpoints(ctx, source, nil)
	require.NoError(t, err)
	require.NoError(t, client.Continue(ctx, 0))
	_, err = client.WaitForEvent(ctx, "terminated")
	require.NoError(t, err)
}
