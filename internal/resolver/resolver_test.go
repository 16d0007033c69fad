package resolver_test

import (
	"context"
	"testing"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/resolver"
	"github.com/ctagard/cuda-dap/internal/testutil"
	"github.com/ctagard/cuda-dap/internal/testutil/fakegdb"
	"github.com/ctagard/cuda-dap/pkg/types"
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	client *backend.Client
	fake   *fakegdb.Backend
	res    *resolver.Resolver
}

// stopAt runs the default program to its first breakpoint among lines.
func stopAt(t *testing.T, lines ...int) *harness {
	client, fake := testutil.StartBackend(t, fakegdb.Options{})
	h := &harness{t: t, ctx: context.Background(), client: client, fake: fake, res: resolver.New(client, zaptest.NewLogger(t))}
	h.observe(testutil.RunTo(t, client, lines...).Results.Int("thread-id"))
	return h
}

func (h *harness) observe(threadID int, _ bool) focus.Focus {
	h.t.Helper()
	h.res.Invalidate(h.ctx)
	f, err := h.res.ObserveStop(h.ctx, threadID)
	require.NoError(h.t, err)
	require.NoError(h.t, h.res.RefreshThreads(h.ctx))
	return f
}

func (h *harness) cont() focus.Focus {
	h.t.Helper()
	return h.observe(testutil.Continue(h.t, h.client).Results.Int("thread-id"))
}

func (h *harness) topFrame(threadID int) int {
	h.t.Helper()
	frames, _, err := h.res.StackTrace(h.ctx, threadID, 0, 1)
	require.NoError(h.t, err)
	require.NotEmpty(h.t, frames)
	return frames[0].Id
}

func (h *harness) scope(frameID int, name string) int {
	h.t.Helper()
	scopes, err := h.res.ScopesFor(h.ctx, frameID)
	require.NoError(h.t, err)
	s, ok := lo.Find(scopes, func(s dap.Scope) bool { return s.Name == name })
	require.True(h.t, ok, "scope %s", name)
	return s.VariablesReference
}

func (h *harness) vars(ref int) map[string]resolver.Variable {
	h.t.Helper()
	vars, err := h.res.Variables(h.ctx, ref)
	require.NoError(h.t, err)
	return lo.KeyBy(vars, func(v resolver.Variable) string { return v.Name })
}

func names(vars map[string]resolver.Variable) []string {
	return lo.Keys(vars)
}

func TestHostStop(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)

	threads := h.res.Threads().Threads()
	require.Len(t, threads, 2)
	assert.Equal(t, fakegdb.HostThreadID, threads[0].Id)
	assert.Equal(t, "variables", threads[0].Name)

	frames, total, err := h.res.StackTrace(h.ctx, fakegdb.HostThreadID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "main", frames[0].Name)
	assert.Equal(t, fakegdb.MainLine, frames[0].Line)
	require.NotNil(t, frames[0].Source)
	assert.Equal(t, fakegdb.SourceFile, frames[0].Source.Path)
	assert.Nil(t, frames[1].Source)
	assert.Equal(t, "subtle", frames[1].PresentationHint)

	locals := h.vars(h.scope(frames[0].Id, resolver.ScopeLocals))
	assert.ElementsMatch(t, []string{"argc", "x", "a", "a2", "p"}, names(locals))
	assert.Equal(t, "3", locals["x"].Value)
	assert.Zero(t, locals["x"].Ref)

	a := h.vars(locals["a"].Ref)
	assert.Equal(t, "1", a["i"].Value)
	assert.Equal(t, "2.5", a["f"].Value)
	assert.Equal(t, "(a).i", a["i"].EvaluateName)

	// Access specifiers are flattened.
	p := h.vars(locals["p"].Ref)
	assert.ElementsMatch(t, []string{"x", "y"}, names(p))
	assert.Equal(t, "20", p["y"].Value)
}

func TestStackTracePaging(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)

	frames, total, err := h.res.StackTrace(h.ctx, fakegdb.HostThreadID, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, frames, 1)
	assert.Equal(t, "__libc_start_main", frames[0].Name)

	frames, _, err = h.res.StackTrace(h.ctx, fakegdb.HostThreadID, 9, 0)
	require.NoError(t, err)
	assert.Empty(t, frames)

	_, _, err = h.res.StackTrace(h.ctx, 77, 0, 0)
	assert.True(t, errors.Is(err, errors.CodeUnknownReference))
}

func TestFrameIDsAreStable(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine, fakegdb.AfterLaunchLine)
	first := h.topFrame(fakegdb.HostThreadID)
	h.cont()
	assert.Equal(t, first, h.topFrame(fakegdb.HostThreadID))
}

func TestHostRegisters(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)
	frame := h.topFrame(fakegdb.HostThreadID)
	ref := h.scope(frame, resolver.ScopeRegisters)

	groups, err := h.res.RegisterGroupsFor(ref)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, resolver.GroupMachine, groups[0].Group)

	regs := h.vars(ref)
	assert.ElementsMatch(t, []string{"rax", "rbx", "rcx", "rdx", "rip", "eflags"}, names(regs))
	assert.Equal(t, "21", regs["rcx"].Value)
	assert.Equal(t, "$rcx", regs["rcx"].EvaluateName)
	assert.Equal(t, 6, regs["eflags"].Register)
}

func TestDeviceStop(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)

	f := h.res.Threads()
	active, ok := f.ActiveDevice()
	require.True(t, ok)
	assert.Equal(t, focus.Coordinate{}, active)

	threads := f.Threads()
	device := threads[len(threads)-1]
	assert.Equal(t, resolver.DeviceThreadBase, device.Id)
	assert.Equal(t, "(CUDA) block (0,0,0) thread (0,0,0)", device.Name)

	frame := h.topFrame(device.Id)
	locals := h.vars(h.scope(frame, resolver.ScopeLocals))
	assert.ElementsMatch(t, []string{"threadNum", "sdata"}, names(locals))

	sdata := h.vars(locals["sdata"].Ref)
	assert.Equal(t, "20", sdata["2"].Value)
	assert.Equal(t, "sdata[2]", sdata["2"].EvaluateName)
}

func TestHostAndDeviceLocalsStayIsolated(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)

	deviceFrame := h.topFrame(resolver.DeviceThreadBase)
	hostFrame := h.topFrame(fakegdb.HostThreadID)

	// Interleave queries so each has to move the backend's selection.
	host := h.vars(h.scope(hostFrame, resolver.ScopeLocals))
	device := h.vars(h.scope(deviceFrame, resolver.ScopeLocals))
	hostAgain := h.vars(h.scope(hostFrame, resolver.ScopeLocals))

	assert.ElementsMatch(t, []string{"argc", "x", "a", "a2", "p"}, names(host))
	assert.ElementsMatch(t, []string{"threadNum", "sdata"}, names(device))
	assert.ElementsMatch(t, names(host), names(hostAgain))
}

func TestDeviceRegisterGroups(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)
	frame := h.topFrame(resolver.DeviceThreadBase)
	ref := h.scope(frame, resolver.ScopeRegisters)

	groups := h.vars(ref)
	assert.ElementsMatch(t, []string{resolver.GroupSASS, resolver.GroupMachine}, names(groups))

	sass := h.vars(groups[resolver.GroupSASS].Ref)
	assert.ElementsMatch(t, []string{"R0", "R1", "R2", "R3", "UR0", "P0"}, names(sass))
	machine := h.vars(groups[resolver.GroupMachine].Ref)
	assert.ElementsMatch(t, []string{"pc"}, names(machine))

	// Groups are issued once per scope.
	again, err := h.res.RegisterGroupsFor(ref)
	require.NoError(t, err)
	assert.Equal(t, groups[resolver.GroupSASS].Ref, again[0].Ref)
}

func TestSwitchDeviceFocus(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)
	target := focus.Coordinate{Thread: types.Dim3{X: 2}}

	f, err := h.res.Switch(h.ctx, focus.Target{Focus: focus.Device(target)})
	require.NoError(t, err)
	assert.Equal(t, focus.Device(target), f)

	id := h.res.Threads().IDFor(f)
	assert.Equal(t, resolver.DeviceThreadBase+1, id)
	locals := h.vars(h.scope(h.topFrame(id), resolver.ScopeLocals))
	assert.Equal(t, "2", locals["threadNum"].Value)

	// The first coordinate keeps its id.
	assert.Equal(t, resolver.DeviceThreadBase, h.res.Threads().IDFor(focus.Device(focus.Coordinate{})))
}

func TestSwitchHardwareFocus(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)

	f, err := h.res.Switch(h.ctx, focus.Target{Hardware: &focus.Hardware{Lane: 3}})
	require.NoError(t, err)
	assert.Equal(t, focus.Device(focus.Coordinate{Thread: types.Dim3{X: 3}}), f)
}

func TestSwitchRejectsInvalidTargets(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)

	for name, target := range map[string]focus.Target{
		"thread out of range": {Focus: focus.Device(focus.Coordinate{Thread: types.Dim3{X: 99}})},
		"block out of range":  {Focus: focus.Device(focus.Coordinate{Block: types.Dim3{X: 1}})},
		"unknown host thread": {Focus: focus.Host(42)},
		"unset":               {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.res.Switch(h.ctx, target)
			assert.True(t, errors.Is(err, errors.CodeInvalidFocusTarget), "%v", err)
		})
	}

	// Still on the original coordinate.
	coord, err := h.res.QueryFocus(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, &focus.Coordinate{}, coord)
}

func TestSwitchToHostThread(t *testing.T) {
	h := stopAt(t, fakegdb.KernelLine)

	f, err := h.res.Switch(h.ctx, focus.Target{Focus: focus.Host(fakegdb.HelperThreadID)})
	require.NoError(t, err)
	assert.Equal(t, focus.Host(fakegdb.HelperThreadID), f)
	assert.Contains(t, h.fake.Last().Commands(), "-thread-select 2")
}

func TestQueryFocusOutsideKernel(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)
	coord, err := h.res.QueryFocus(h.ctx)
	require.NoError(t, err)
	assert.Nil(t, coord)

	_, ok := h.res.Threads().ActiveDevice()
	assert.False(t, ok)
}

func TestVariablesAreIdempotent(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)
	ref := h.scope(h.topFrame(fakegdb.HostThreadID), resolver.ScopeLocals)

	first, err := h.res.Variables(h.ctx, ref)
	require.NoError(t, err)
	second, err := h.res.Variables(h.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReferencesGoStaleOnInvalidate(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)
	ref := h.scope(h.topFrame(fakegdb.HostThreadID), resolver.ScopeLocals)
	locals := h.vars(ref)
	require.NotEmpty(t, h.fake.Last().VarObjects())

	h.res.Invalidate(h.ctx)

	_, err := h.res.Variables(h.ctx, ref)
	require.True(t, errors.Is(err, errors.CodeStaleReference), "%v", err)
	_, err = h.res.Variables(h.ctx, locals["a"].Ref)
	assert.True(t, errors.Is(err, errors.CodeStaleReference))
	assert.Empty(t, h.fake.Last().VarObjects())

	_, err = h.res.Variables(h.ctx, 10_000)
	assert.True(t, errors.Is(err, errors.CodeUnknownReference))
	_, err = h.res.Variables(h.ctx, 0)
	assert.True(t, errors.Is(err, errors.CodeUnknownReference))
}

func TestEvaluate(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)
	frame := h.topFrame(fakegdb.HostThreadID)

	v, err := h.res.Evaluate(h.ctx, frame, "x + 1")
	require.NoError(t, err)
	assert.Equal(t, "4", v.Value)
	assert.Zero(t, v.Ref)

	v, err = h.res.Evaluate(h.ctx, frame, "a")
	require.NoError(t, err)
	assert.NotZero(t, v.Ref)
	children := h.vars(v.Ref)
	assert.Equal(t, "1", children["i"].Value)

	_, err = h.res.Evaluate(h.ctx, frame, "nosuch")
	assert.True(t, errors.Is(err, errors.CodeEvaluateFailed))

	v, err = h.res.Evaluate(h.ctx, 0, "$undefined")
	require.NoError(t, err)
	assert.Equal(t, "void", v.Value)
}

func TestLookup(t *testing.T) {
	h := stopAt(t, fakegdb.MainLine)
	ref := h.scope(h.topFrame(fakegdb.HostThreadID), resolver.ScopeLocals)

	parent, v, err := h.res.Lookup(h.ctx, ref, "x")
	require.NoError(t, err)
	assert.Equal(t, ref, parent.Ref)
	assert.NotEmpty(t, v.VarObj)

	_, _, err = h.res.Lookup(h.ctx, ref, "missing")
	assert.True(t, errors.Is(err, errors.CodeInvalidParameter))
}
