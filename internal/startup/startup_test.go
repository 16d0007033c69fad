package startup

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/errors"
)

// recorder answers every command, failing the ones listed in fail.
type recorder struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func (r *recorder) Execute(_ context.Context, command string) (*backend.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, command)
	if err, ok := r.fail[command]; ok {
		return &backend.Reply{Class: "error"}, err
	}
	return &backend.Reply{Class: "done"}, nil
}

func TestRunInOrder(t *testing.T) {
	rec := &recorder{}
	err := Run(context.Background(), rec,
		[]string{"set $order_var = 1"},
		[]Command{
			{Text: "set $order_var = $order_var + 1"},
			{Text: "set $test_var = 123", Description: "seed"},
		},
		zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"set $order_var = 1",
		"set $order_var = $order_var + 1",
		"set $test_var = 123",
	}, rec.seen)
}

func TestRunIgnoresFlaggedFailures(t *testing.T) {
	rec := &recorder{fail: map[string]error{
		"invalid-gdb-command": &backend.CommandError{Msg: `Undefined command: "invalid-gdb-command".`},
	}}
	err := Run(context.Background(), rec, nil, []Command{
		{Text: "invalid-gdb-command", IgnoreFailures: true},
		{Text: "set $after = 1"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"invalid-gdb-command", "set $after = 1"}, rec.seen)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	cause := &backend.CommandError{Msg: `Undefined command: "invalid-gdb-command".`}
	rec := &recorder{fail: map[string]error{"invalid-gdb-command": cause}}
	err := Run(context.Background(), rec,
		[]string{"set $a = 1"},
		[]Command{{Text: "invalid-gdb-command", Description: "broken"}, {Text: "set $never = 1"}},
		zaptest.NewLogger(t))

	require.Error(t, err)
	var de *errors.DebugError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errors.CodeCommandFailed, de.Code)
	assert.Equal(t, 1, de.Details["index"])
	assert.Equal(t, "invalid-gdb-command", de.Details["command"])
	assert.Contains(t, err.Error(), "broken")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"set $a = 1", "invalid-gdb-command"}, rec.seen)
}

func TestInitCommandsNeverIgnoreFailures(t *testing.T) {
	rec := &recorder{fail: map[string]error{"bad": &backend.CommandError{Msg: "no"}}}
	err := Run(context.Background(), rec, []string{"bad"}, nil, nil)
	assert.True(t, errors.Is(err, errors.CodeCommandFailed))
}

func TestBackendExitIsNeverIgnored(t *testing.T) {
	rec := &recorder{fail: map[string]error{"x": errors.BackendExited(nil)}}
	err := Run(context.Background(), rec, nil, []Command{{Text: "x", IgnoreFailures: true}, {Text: "y"}}, nil)
	assert.True(t, errors.Is(err, errors.CodeCommandFailed))
	assert.Equal(t, []string{"x"}, rec.seen)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{fail: map[string]error{"a": context.Canceled}}
	err := Run(ctx, rec, nil, []Command{{Text: "a", IgnoreFailures: true}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIgnoredFailureLogsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &recorder{fail: map[string]error{"bogus": stderrors.New("Undefined command")}}
	err := Run(context.Background(), rec, nil, []Command{{Text: "bogus", IgnoreFailures: true}}, zap.New(core))
	require.NoError(t, err)

	warned := logs.FilterMessage("ignoring failed setup command").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
}

func TestFromStrings(t *testing.T) {
	cmds := FromStrings([]string{"a", "b"}, true)
	assert.Equal(t, []Command{{Text: "a", IgnoreFailures: true}, {Text: "b", IgnoreFailures: true}}, cmds)
}

// The observed order is always a prefix of init followed by setup, and it
// ends exactly at the first failure that is not ignored.
func TestRunOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nInit := rapid.IntRange(0, 4).Draw(t, "init")
		nSetup := rapid.IntRange(0, 6).Draw(t, "setup")

		var init []string
		for i := 0; i < nInit; i++ {
			init = append(init, fmt.Sprintf("init-%d", i))
		}
		var setup []Command
		for i := 0; i < nSetup; i++ {
			setup = append(setup, Command{
				Text:           fmt.Sprintf("setup-%d", i),
				IgnoreFailures: rapid.Bool().Draw(t, fmt.Sprintf("ignore-%d", i)),
			})
		}

		all := append([]string{}, init...)
		for _, c := range setup {
			all = append(all, c.Text)
		}
		fail := map[string]error{}
		for _, text := range all {
			if rapid.Bool().Draw(t, "fail-"+text) {
				fail[text] = &backend.CommandError{Msg: "failed " + text}
			}
		}

		rec := &recorder{fail: fail}
		err := Run(context.Background(), rec, init, setup, nil)

		stop, failedAt := len(all), -1
		for i, text := range all {
			_, failed := fail[text]
			ignorable := i >= nInit && setup[i-nInit].IgnoreFailures
			if failed && !ignorable {
				stop, failedAt = i+1, i
				break
			}
		}

		if len(rec.seen) != stop {
			t.Fatalf("ran %d commands, expected %d: %s", len(rec.seen), stop, strings.Join(rec.seen, ","))
		}
		for i, text := range rec.seen {
			if text != all[i] {
				t.Fatalf("command %d was %q, expected %q", i, text, all[i])
			}
		}

		if failedAt < 0 {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			return
		}
		var de *errors.DebugError
		if !stderrors.As(err, &de) || de.Code != errors.CodeCommandFailed {
			t.Fatalf("expected COMMAND_FAILED, got %v", err)
		}
		if de.Details["index"] != failedAt {
			t.Fatalf("failure index %v, expected %d", de.Details["index"], failedAt)
		}
	})
}
