// Package resolver maps protocol thread, frame and variable references to
// backend queries.
//
// Host and device threads are addressed differently by cuda-gdb: host
// queries name their thread with --thread, device queries run after the
// backend's CUDA focus was switched to the coordinate. The resolver picks
// the query by the context that produced the frame, so locals and registers
// of a host frame can never contain device entries or the other way round.
package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/backend"
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/mi"
	"github.com/ctagard/cuda-dap/pkg/types"
)

// focusPattern matches the reply of "cuda block thread".
var focusPattern = regexp.MustCompile(`block \((\d+),(\d+),(\d+)\),\s*thread \((\d+),(\d+),(\d+)\)`)

// Resolver owns the thread table, frame ids and variable handles of one
// session. It is not safe for concurrent use; the session loop is its only
// caller.
type Resolver struct {
	cmd     backend.Commander
	logger  *zap.Logger
	threads *ThreadTable
	frames  *frameTable
	handles *Handles

	// selected is the context the backend currently has selected.
	selected focus.Focus
}

// New returns a resolver issuing queries through cmd.
func New(cmd backend.Commander, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cmd:     cmd,
		logger:  logger,
		threads: NewThreadTable(),
		frames:  newFrameTable(),
		handles: NewHandles(),
	}
}

// Threads returns the thread table.
func (r *Resolver) Threads() *ThreadTable {
	return r.threads
}

// Handles returns the variable handle table.
func (r *Resolver) Handles() *Handles {
	return r.handles
}

// Invalidate voids every variable reference and deletes the backend
// variable objects behind them. Deletion failures are logged only; the
// objects die with their frame anyway.
func (r *Resolver) Invalidate(ctx context.Context) {
	for _, name := range r.handles.Advance() {
		if _, err := r.cmd.Execute(ctx, "-var-delete "+name); err != nil {
			r.logger.Debug("var-delete failed", zap.String("varobj", name), zap.Error(err))
		}
	}
}

// Forget records that the backend's selection is unknown, after a console
// command the user typed may have moved it.
func (r *Resolver) Forget() {
	r.selected = focus.Focus{}
}

// QueryFocus asks the backend for its CUDA focus. It returns nil when no
// kernel is focused.
func (r *Resolver) QueryFocus(ctx context.Context) (*focus.Coordinate, error) {
	reply, err := r.cmd.Execute(ctx, "cuda block thread")
	if err != nil {
		var ce *backend.CommandError
		if stderrors.As(err, &ce) {
			// "Focus not set on any active CUDA kernel."
			return nil, nil
		}
		return nil, err
	}
	m := focusPattern.FindStringSubmatch(reply.ConsoleText())
	if m == nil {
		return nil, nil
	}
	n := make([]int, 6)
	for i := range n {
		n[i], _ = strconv.Atoi(m[i+1])
	}
	return &focus.Coordinate{
		Block:  types.Dim3{X: n[0], Y: n[1], Z: n[2]},
		Thread: types.Dim3{X: n[3], Y: n[4], Z: n[5]},
	}, nil
}

// SelectedHostThread reads back the host thread the backend has selected.
func (r *Resolver) SelectedHostThread(ctx context.Context) (int, error) {
	reply, err := r.cmd.Execute(ctx, "-thread-info")
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(reply.Results.String("current-thread-id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("no host thread selected")
	}
	r.threads.AddHost(id, "")
	return id, nil
}

// ObserveStop works out the focus of a stop reported for threadID: the CUDA
// focus if the backend stopped in a kernel, the host thread otherwise.
func (r *Resolver) ObserveStop(ctx context.Context, threadID int) (focus.Focus, error) {
	if threadID > 0 {
		r.threads.AddHost(threadID, "")
	}
	coord, err := r.QueryFocus(ctx)
	if err != nil {
		return focus.Focus{}, err
	}
	r.threads.SetActiveDevice(coord)
	var f focus.Focus
	if coord != nil {
		f = focus.Device(*coord)
	} else {
		f = focus.Host(threadID)
	}
	r.selected = f
	return f, nil
}

// Switch makes target the backend's selected context. It implements
// focus.Validator.
func (r *Resolver) Switch(ctx context.Context, target focus.Target) (focus.Focus, error) {
	if target.Hardware != nil {
		h := target.Hardware
		if _, err := r.cmd.Execute(ctx, fmt.Sprintf("cuda sm %d warp %d lane %d", h.SM, h.Warp, h.Lane)); err != nil {
			return focus.Focus{}, r.switchError(target, err)
		}
		return r.confirmDevice(ctx, target)
	}

	f := target.Focus
	switch f.Kind {
	case focus.KindHost:
		if !r.threads.HasHost(f.ThreadID) {
			return focus.Focus{}, errors.InvalidFocusTarget(target.String(), nil)
		}
		if _, err := r.cmd.Execute(ctx, fmt.Sprintf("-thread-select %d", f.ThreadID)); err != nil {
			return focus.Focus{}, r.switchError(target, err)
		}
		r.selected = f
		return f, nil
	case focus.KindDevice:
		if _, err := r.cmd.Execute(ctx, deviceSwitchCommand(f.Device)); err != nil {
			return focus.Focus{}, r.switchError(target, err)
		}
		return r.confirmDevice(ctx, target)
	default:
		return focus.Focus{}, errors.InvalidFocusTarget(target.String(), nil)
	}
}

func (r *Resolver) confirmDevice(ctx context.Context, target focus.Target) (focus.Focus, error) {
	coord, err := r.QueryFocus(ctx)
	if err != nil {
		return focus.Focus{}, r.switchError(target, err)
	}
	if coord == nil {
		return focus.Focus{}, errors.InvalidFocusTarget(target.String(), fmt.Errorf("no active CUDA kernel"))
	}
	r.threads.SetActiveDevice(coord)
	f := focus.Device(*coord)
	r.selected = f
	return f, nil
}

func (r *Resolver) switchError(target focus.Target, err error) error {
	if errors.Is(err, errors.CodeBackendExited) {
		return err
	}
	return errors.InvalidFocusTarget(target.String(), err)
}

func deviceSwitchCommand(c focus.Coordinate) string {
	return fmt.Sprintf("cuda block %s thread %s", c.Block, c.Thread)
}

// selectDevice switches the backend's CUDA focus unless it is already there.
func (r *Resolver) selectDevice(ctx context.Context, f focus.Focus) error {
	if r.selected == f {
		return nil
	}
	if _, err := r.cmd.Execute(ctx, deviceSwitchCommand(f.Device)); err != nil {
		return err
	}
	r.selected = f
	return nil
}

// threadOptions returns the MI options addressing context f, switching the
// backend's CUDA focus first for device contexts.
func (r *Resolver) threadOptions(ctx context.Context, f focus.Focus) (string, error) {
	switch f.Kind {
	case focus.KindDevice:
		if err := r.selectDevice(ctx, f); err != nil {
			return "", err
		}
		return "", nil
	case focus.KindHost:
		// --thread moves the backend's selection to the host thread.
		r.selected = f
		return fmt.Sprintf(" --thread %d", f.ThreadID), nil
	default:
		return "", errors.InvalidFocusTarget(f.String(), nil)
	}
}

// frameOptions returns the MI options addressing frame.
func (r *Resolver) frameOptions(ctx context.Context, frame Frame) (string, error) {
	opts, err := r.threadOptions(ctx, frame.Context)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s --frame %d", opts, frame.Level), nil
}

// ExecOptions returns the options of an execution command for threadID.
// Device threads are stepped with the CUDA focus on their coordinate.
func (r *Resolver) ExecOptions(ctx context.Context, threadID int) (string, error) {
	f, ok := r.threads.Lookup(threadID)
	if !ok {
		return "", errors.UnknownReference("thread", threadID)
	}
	return r.threadOptions(ctx, f)
}

// SelectFrame makes frame the backend's selected frame. Variable objects
// of device frames are only valid with the CUDA focus on their coordinate.
func (r *Resolver) SelectFrame(ctx context.Context, frame Frame) error {
	if frame.Context.Kind == focus.KindDevice {
		return r.selectDevice(ctx, frame.Context)
	}
	return nil
}

// Frame resolves a frame id.
func (r *Resolver) Frame(id int) (Frame, error) {
	return r.frames.lookup(id)
}

// RefreshThreads reloads the host thread list from the backend.
func (r *Resolver) RefreshThreads(ctx context.Context) error {
	reply, err := r.cmd.Execute(ctx, "-thread-info")
	if err != nil {
		return err
	}
	hosts := make(map[int]string)
	for _, t := range reply.Results.Tuples("threads") {
		id, ok := t.Int("id")
		if !ok {
			continue
		}
		name := t.String("name")
		if name == "" {
			name = t.String("target-id")
		}
		hosts[id] = name
	}
	r.threads.SetHosts(hosts)
	return nil
}

// StackTrace lists the frames of a thread. levels == 0 means all frames.
func (r *Resolver) StackTrace(ctx context.Context, threadID, start, levels int) ([]dap.StackFrame, int, error) {
	f, ok := r.threads.Lookup(threadID)
	if !ok {
		return nil, 0, errors.UnknownReference("thread", threadID)
	}
	opts, err := r.threadOptions(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	reply, err := r.cmd.Execute(ctx, "-stack-list-frames"+opts)
	if err != nil {
		return nil, 0, err
	}

	tuples := reply.Results.Tuples("stack")
	total := len(tuples)
	if start > total {
		start = total
	}
	end := total
	if levels > 0 && start+levels < total {
		end = start + levels
	}

	frames := make([]dap.StackFrame, 0, end-start)
	for _, t := range tuples[start:end] {
		level, _ := t.Int("level")
		frames = append(frames, toStackFrame(r.frames.id(threadID, level, f), t))
	}
	return frames, total, nil
}

func toStackFrame(id int, t mi.Tuple) dap.StackFrame {
	name := t.String("func")
	if name == "" {
		name = "??"
	}
	sf := dap.StackFrame{
		Id:                          id,
		Name:                        name,
		InstructionPointerReference: t.String("addr"),
	}
	if line, ok := t.Int("line"); ok {
		sf.Line = line
	}
	path := t.String("fullname")
	if path == "" {
		path = t.String("file")
	}
	if path != "" {
		sf.Source = &dap.Source{Name: filepath.Base(path), Path: path}
	} else {
		sf.PresentationHint = "subtle"
	}
	return sf
}
