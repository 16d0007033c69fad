package mutation_test

import (
	"context"
	"testing"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/mutation"
	"github.com/ctagard/cuda-dap/internal/resolver"
	"github.com/ctagard/cuda-dap/internal/testutil"
	"github.com/ctagard/cuda-dap/internal/testutil/fakegdb"
)

type fixture struct {
	ctx         context.Context
	res         *resolver.Resolver
	coord       *mutation.Coordinator
	invalidated [][]string
}

func stopped(t *testing.T, line int) *fixture {
	client, _ := testutil.StartBackend(t, fakegdb.Options{})
	stop := testutil.RunTo(t, client, line)
	threadID, _ := stop.Results.Int("thread-id")

	f := &fixture{ctx: context.Background(), res: resolver.New(client, zaptest.NewLogger(t))}
	f.coord = mutation.New(f.res, func(areas []string) {
		f.invalidated = append(f.invalidated, areas)
	}, zaptest.NewLogger(t))
	_, err := f.res.ObserveStop(f.ctx, threadID)
	require.NoError(t, err)
	require.NoError(t, f.res.RefreshThreads(f.ctx))
	return f
}

func (f *fixture) scope(t *testing.T, threadID int, name string) int {
	t.Helper()
	frames, _, err := f.res.StackTrace(f.ctx, threadID, 0, 1)
	require.NoError(t, err)
	scopes, err := f.res.ScopesFor(f.ctx, frames[0].Id)
	require.NoError(t, err)
	s, ok := lo.Find(scopes, func(s dap.Scope) bool { return s.Name == name })
	require.True(t, ok)
	return s.VariablesReference
}

func (f *fixture) child(t *testing.T, ref int, name string) resolver.Variable {
	t.Helper()
	_, v, err := f.res.Lookup(f.ctx, ref, name)
	require.NoError(t, err)
	return v
}

func TestSetScalarReturnsBackendValue(t *testing.T) {
	f := stopped(t, fakegdb.MainLine)
	locals := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)

	res, err := f.coord.SetVariable(f.ctx, locals, "x", "3.7")
	require.NoError(t, err)
	assert.Equal(t, "3", res.Value)
	assert.Equal(t, "int", res.Type)
	assert.Equal(t, [][]string{{mutation.AreaVariables}}, f.invalidated)

	// Every earlier reference is void; a fresh one sees the new value.
	_, err = f.res.Variables(f.ctx, locals)
	assert.True(t, errors.Is(err, errors.CodeStaleReference))
	fresh := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)
	assert.Equal(t, "3", f.child(t, fresh, "x").Value)
}

func TestSetStructMember(t *testing.T) {
	f := stopped(t, fakegdb.MainLine)
	locals := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)
	a := f.child(t, locals, "a")

	res, err := f.coord.SetVariable(f.ctx, a.Ref, "f", "4")
	require.NoError(t, err)
	assert.Equal(t, "4", res.Value)

	fresh := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)
	members := f.child(t, fresh, "a")
	assert.Equal(t, "4", f.child(t, members.Ref, "f").Value)
}

func TestAssignWholeStruct(t *testing.T) {
	f := stopped(t, fakegdb.MainLine)
	locals := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)
	a := f.child(t, locals, "a")
	staleMember := a.Ref

	_, err := f.coord.SetVariable(f.ctx, locals, "a", "a2")
	require.NoError(t, err)
	require.Len(t, f.invalidated, 1)

	_, err = f.res.Variables(f.ctx, staleMember)
	assert.True(t, errors.Is(err, errors.CodeStaleReference))

	fresh := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)
	members := f.child(t, fresh, "a")
	assert.Equal(t, "7", f.child(t, members.Ref, "i").Value)
	assert.Equal(t, "8.5", f.child(t, members.Ref, "f").Value)
}

func TestSetRegister(t *testing.T) {
	f := stopped(t, fakegdb.MainLine)
	regs := f.scope(t, fakegdb.HostThreadID, resolver.ScopeRegisters)

	res, err := f.coord.SetVariable(f.ctx, regs, "rcx", "5")
	require.NoError(t, err)
	assert.Equal(t, "5", res.Value)

	fresh := f.scope(t, fakegdb.HostThreadID, resolver.ScopeRegisters)
	assert.Equal(t, "5", f.child(t, fresh, "rcx").Value)
}

func TestSetDeviceRegister(t *testing.T) {
	f := stopped(t, fakegdb.KernelLine)
	regs := f.scope(t, resolver.DeviceThreadBase, resolver.ScopeRegisters)
	sass := f.child(t, regs, resolver.GroupSASS)

	res, err := f.coord.SetVariable(f.ctx, sass.Ref, "R1", "9")
	require.NoError(t, err)
	assert.Equal(t, "9", res.Value)
}

func TestRejectedWriteKeepsReferences(t *testing.T) {
	f := stopped(t, fakegdb.MainLine)
	locals := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)
	generation := f.res.Handles().Generation()

	_, err := f.coord.SetVariable(f.ctx, locals, "x", "nosuch")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeWriteRejected), "%v", err)
	assert.Empty(t, f.invalidated)
	assert.Equal(t, generation, f.res.Handles().Generation())

	// The reference is still live.
	assert.Equal(t, "3", f.child(t, locals, "x").Value)
}

func TestWriteToGroupIsRejected(t *testing.T) {
	f := stopped(t, fakegdb.KernelLine)
	regs := f.scope(t, resolver.DeviceThreadBase, resolver.ScopeRegisters)

	_, err := f.coord.SetVariable(f.ctx, regs, resolver.GroupSASS, "1")
	assert.True(t, errors.Is(err, errors.CodeWriteRejected))
	assert.Empty(t, f.invalidated)
}

func TestSetUnknownChild(t *testing.T) {
	f := stopped(t, fakegdb.MainLine)
	locals := f.scope(t, fakegdb.HostThreadID, resolver.ScopeLocals)

	_, err := f.coord.SetVariable(f.ctx, locals, "missing", "1")
	assert.True(t, errors.Is(err, errors.CodeInvalidParameter))

	_, err = f.coord.SetVariable(f.ctx, 4242, "x", "1")
	assert.True(t, errors.Is(err, errors.CodeUnknownReference))
}
