package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/cuda-dap/internal/config"
	"github.com/ctagard/cuda-dap/internal/session"
	"github.com/ctagard/cuda-dap/internal/testutil"
	"github.com/ctagard/cuda-dap/internal/testutil/fakegdb"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	server   *Server
	fake     *fakegdb.Backend
	debugger string
}

func newFixture(t *testing.T, cfg *config.Config, clk clock.Clock) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), 3*testutil.Timeout)
	t.Cleanup(cancel)

	debugger := filepath.Join(t.TempDir(), "cuda-gdb")
	require.NoError(t, os.WriteFile(debugger, []byte("#!/bin/sh\n"), 0o755))

	fake := fakegdb.New(fakegdb.Options{})
	s := NewServer(cfg, session.Options{
		Spawner: fake,
		Logger:  zaptest.NewLogger(t),
		Clock:   clk,
		GOOS:    "linux",
		Environ: []string{"PATH=/usr/bin"},
	}, "test")
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	return &fixture{t: t, ctx: ctx, server: s, fake: fake, debugger: debugger}
}

func (f *fixture) call(h handler, args map[string]any) *mcp.CallToolResult {
	f.t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(f.ctx, req)
	require.NoError(f.t, err)
	require.NotNil(f.t, res)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return tc.Text
}

// ok calls h and decodes its successful JSON result.
func (f *fixture) ok(h handler, args map[string]any) map[string]any {
	f.t.Helper()
	res := f.call(h, args)
	body := text(f.t, res)
	require.False(f.t, res.IsError, body)
	var out map[string]any
	require.NoError(f.t, json.Unmarshal([]byte(body), &out))
	return out
}

// fails calls h and returns the text of its error result.
func (f *fixture) fails(h handler, args map[string]any) string {
	f.t.Helper()
	res := f.call(h, args)
	body := text(f.t, res)
	require.True(f.t, res.IsError, body)
	return body
}

func (f *fixture) launch(extra map[string]any) map[string]any {
	f.t.Helper()
	args := map[string]any{
		"program":      "/src/variables",
		"debuggerPath": f.debugger,
	}
	maps.Copy(args, extra)
	return f.ok(f.server.handleDebugLaunch, args)
}

func breakpointsAt(lines ...int) string {
	data, _ := json.Marshal(map[string][]int{fakegdb.SourceFile: lines})
	return string(data)
}

// findVariable looks through a snapshot's variables for name and returns
// the reference of the container holding it and its value.
func findVariable(t *testing.T, snap map[string]any, name string) (int, string) {
	t.Helper()
	variables, ok := snap["variables"].(map[string]any)
	require.True(t, ok, "snapshot has no variables")
	for ref, list := range variables {
		for _, v := range list.([]any) {
			entry := v.(map[string]any)
			if entry["name"] == name {
				var n int
				_, err := fmt.Sscan(ref, &n)
				require.NoError(t, err)
				return n, entry["value"].(string)
			}
		}
	}
	t.Fatalf("variable %s not in snapshot", name)
	return 0, ""
}

func TestLaunchStopsAtBreakpoint(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := f.launch(map[string]any{"breakpoints": breakpointsAt(fakegdb.MainLine)})

	assert.Equal(t, "stopped", out["status"])
	assert.Equal(t, "breakpoint", out["reason"])
	assert.EqualValues(t, fakegdb.HostThreadID, out["threadId"])
	require.Contains(t, out, "breakpoints")
	id := out["sessionId"].(string)

	snap := f.ok(f.server.handleDebugSnapshot, map[string]any{"sessionId": id})
	assert.Equal(t, "stopped", snap["status"])
	assert.NotEmpty(t, snap["threads"])
	assert.Contains(t, snap["stacks"], "1")
	_, x := findVariable(t, snap, "x")
	assert.Equal(t, "3", x)

	list := f.ok(f.server.handleDebugListSessions, nil)
	assert.EqualValues(t, 1, list["count"])

	f.ok(f.server.handleDebugDisconnect, map[string]any{"sessionId": id})
	list = f.ok(f.server.handleDebugListSessions, nil)
	assert.EqualValues(t, 0, list["count"])
	select {
	case <-f.fake.Last().Done():
	case <-time.After(testutil.Timeout):
		t.Fatal("backend still running after disconnect")
	}
}

func TestLaunchRequiresProgram(t *testing.T) {
	f := newFixture(t, nil, nil)
	msg := f.fails(f.server.handleDebugLaunch, map[string]any{})
	assert.Contains(t, msg, "MISSING_PARAMETER")
	assert.Empty(t, f.server.Registry().List())
}

func TestLaunchWithMissingDebuggerCleansUp(t *testing.T) {
	f := newFixture(t, nil, nil)
	msg := f.fails(f.server.handleDebugLaunch, map[string]any{
		"program":      "/src/variables",
		"debuggerPath": filepath.Join(t.TempDir(), "missing"),
	})
	assert.Contains(t, msg, "EXECUTABLE_NOT_FOUND")
	assert.Empty(t, f.server.Registry().List())
	assert.Empty(t, f.fake.Spawns())
}

func TestSessionLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxSessions = 1
	f := newFixture(t, cfg, nil)

	f.launch(map[string]any{"stopAtEntry": true})
	msg := f.fails(f.server.handleDebugLaunch, map[string]any{
		"program":      "/src/variables",
		"debuggerPath": f.debugger,
	})
	assert.Contains(t, msg, "SESSION_LIMIT_REACHED")
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	msg := f.fails(f.server.handleDebugSnapshot, map[string]any{"sessionId": "nope"})
	assert.Contains(t, msg, "SESSION_NOT_FOUND")
}

func TestCudaFocusTool(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.launch(map[string]any{"breakpoints": breakpointsAt(fakegdb.KernelLine)})["sessionId"].(string)

	out := f.ok(f.server.handleDebugCudaFocus, map[string]any{"sessionId": id})
	focus := out["focus"].(map[string]any)
	assert.Equal(t, "software", focus["type"])

	out = f.ok(f.server.handleDebugCudaFocus, map[string]any{"sessionId": id, "block": "0,0,0", "thread": "2"})
	focus = out["focus"].(map[string]any)
	assert.Equal(t, map[string]any{"x": 2.0, "y": 0.0, "z": 0.0}, focus["threadIdx"])

	val := f.ok(f.server.handleDebugEvaluate, map[string]any{"sessionId": id, "expression": "threadNum"})
	assert.Equal(t, "2", val["result"])

	msg := f.fails(f.server.handleDebugCudaFocus, map[string]any{"sessionId": id, "thread": "99"})
	assert.Contains(t, msg, "INVALID_FOCUS_TARGET")

	msg = f.fails(f.server.handleDebugCudaFocus, map[string]any{"sessionId": id, "block": "a,b"})
	assert.Contains(t, msg, "INVALID_PARAMETER")

	snap := f.ok(f.server.handleDebugSnapshot, map[string]any{"sessionId": id, "expandVariables": false})
	require.Contains(t, snap, "devices")
	assert.NotEmpty(t, snap["devices"])
}

func TestSetVariableThenEvaluate(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.launch(map[string]any{"breakpoints": breakpointsAt(fakegdb.MainLine)})["sessionId"].(string)

	snap := f.ok(f.server.handleDebugSnapshot, map[string]any{"sessionId": id, "threadId": float64(fakegdb.HostThreadID)})
	ref, _ := findVariable(t, snap, "x")

	out := f.ok(f.server.handleDebugSetVariable, map[string]any{
		"sessionId": id, "variablesReference": float64(ref), "name": "x", "value": "42",
	})
	assert.Equal(t, "42", out["value"])

	// References handed out before the write are dead.
	msg := f.fails(f.server.handleDebugSetVariable, map[string]any{
		"sessionId": id, "variablesReference": float64(ref), "name": "x", "value": "1",
	})
	assert.Contains(t, msg, "STALE_REFERENCE")

	out = f.ok(f.server.handleDebugEvaluate, map[string]any{"sessionId": id, "expressions": `["x", "x + 1"]`})
	evals := out["evaluations"].([]any)
	require.Len(t, evals, 2)
	assert.Equal(t, "42", evals[0].(map[string]any)["result"])
}

func TestStepContinueToExit(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.launch(map[string]any{"breakpoints": breakpointsAt(fakegdb.MainLine)})["sessionId"].(string)

	out := f.ok(f.server.handleDebugStep, map[string]any{
		"sessionId": id, "threadId": float64(fakegdb.HostThreadID), "type": "over",
	})
	assert.Equal(t, "stopped", out["status"])
	assert.Equal(t, "step", out["reason"])

	msg := f.fails(f.server.handleDebugStep, map[string]any{
		"sessionId": id, "threadId": float64(fakegdb.HostThreadID), "type": "sideways",
	})
	assert.Contains(t, msg, "INVALID_PARAMETER")

	out = f.ok(f.server.handleDebugContinue, map[string]any{"sessionId": id})
	assert.Equal(t, "terminated", out["status"])

	snap := f.ok(f.server.handleDebugSnapshot, map[string]any{"sessionId": id})
	assert.Equal(t, "terminated", snap["status"])
	assert.Contains(t, snap["output"], fakegdb.ProgramOutput)
}

func TestRunToLine(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.launch(map[string]any{"stopAtEntry": true})["sessionId"].(string)

	out := f.ok(f.server.handleDebugRunToLine, map[string]any{
		"sessionId": id, "path": fakegdb.SourceFile, "line": float64(fakegdb.AfterLaunchLine),
	})
	require.Contains(t, out, "stop")
	assert.Equal(t, "stopped", out["stop"].(map[string]any)["status"])

	stacks := out["stacks"].(map[string]any)
	frames := stacks["1"].([]any)
	require.NotEmpty(t, frames)
	assert.EqualValues(t, fakegdb.AfterLaunchLine, frames[0].(map[string]any)["line"])
}

func TestExecuteCommand(t *testing.T) {
	f := newFixture(t, nil, nil)
	id := f.launch(map[string]any{"breakpoints": breakpointsAt(fakegdb.MainLine)})["sessionId"].(string)

	out := f.ok(f.server.handleDebugExecuteCommand, map[string]any{"sessionId": id, "command": "print x + 1"})
	assert.Equal(t, "$1 = 4", out["output"])
}

func TestLaunchFromConfiguration(t *testing.T) {
	f := newFixture(t, nil, nil)
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".vscode"), 0o755))
	launchJSON := fmt.Sprintf(`{
		"version": "0.2.0",
		"configurations": [
			{"type": "cuda-gdb", "request": "launch", "name": "Kernel", "program": "${workspaceFolder}/variables", "debuggerPath": %q, "stopAtEntry": true},
			{"type": "cuda-gdb", "request": "attach", "name": "Attach", "processId": 4242}
		]
	}`, f.debugger)
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".vscode", "launch.json"), []byte(launchJSON), 0o644))

	list := f.ok(f.server.handleDebugListConfigs, map[string]any{"workspace": workspace})
	assert.Len(t, list["configurations"], 2)

	msg := f.fails(f.server.handleDebugLaunch, map[string]any{"workspace": workspace, "configName": "Attach"})
	assert.Contains(t, msg, "INVALID_PARAMETER")

	out := f.ok(f.server.handleDebugLaunch, map[string]any{"workspace": workspace, "configName": "Kernel"})
	assert.Equal(t, filepath.ToSlash(workspace)+"/variables", out["program"])
	assert.Equal(t, "stopped", out["status"])
}

func TestIdleSessionsExpire(t *testing.T) {
	mock := clock.NewMock()
	cfg := config.DefaultConfig()
	cfg.SessionTimeout = 5 * time.Minute
	f := newFixture(t, cfg, mock)

	f.launch(map[string]any{"stopAtEntry": true})
	require.Len(t, f.server.Registry().List(), 1)

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return len(f.server.Registry().List()) == 0
	}, testutil.Timeout, 10*time.Millisecond)
}

func TestParseDim3(t *testing.T) {
	d, err := parseDim3("block", "1,2")
	require.NoError(t, err)
	assert.Equal(t, 1, d.X)
	assert.Equal(t, 2, d.Y)
	assert.Equal(t, 0, d.Z)

	d, err = parseDim3("thread", "(3,0,1)")
	require.NoError(t, err)
	assert.Equal(t, 3, d.X)
	assert.Equal(t, 1, d.Z)

	_, err = parseDim3("thread", "1,2,3,4")
	assert.Error(t, err)
	_, err = parseDim3("thread", "-1")
	assert.Error(t, err)
}
