// Package focus tracks the thread or CUDA coordinate that inspection
// requests without an explicit thread refer to.
package focus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/pkg/types"
)

// Kind says what a Focus points at.
type Kind int

const (
	KindUnset Kind = iota
	KindHost
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindHost:
		return "host"
	case KindDevice:
		return "device"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Coordinate names one device thread in the software model.
type Coordinate struct {
	Block  types.Dim3
	Thread types.Dim3
}

func (c Coordinate) String() string {
	return fmt.Sprintf("block %s thread %s", c.Block, c.Thread)
}

// Focus is a host thread or a device coordinate. The zero value is unset.
type Focus struct {
	Kind     Kind
	ThreadID int
	Device   Coordinate
}

// Host focuses a host thread.
func Host(threadID int) Focus {
	return Focus{Kind: KindHost, ThreadID: threadID}
}

// Device focuses a device coordinate.
func Device(c Coordinate) Focus {
	return Focus{Kind: KindDevice, Device: c}
}

func (f Focus) String() string {
	switch f.Kind {
	case KindHost:
		return fmt.Sprintf("host thread %d", f.ThreadID)
	case KindDevice:
		return f.Device.String()
	default:
		return "unset"
	}
}

// Wire converts the focus to its protocol form; unset is nil.
func (f Focus) Wire() *types.CudaFocus {
	switch f.Kind {
	case KindHost:
		return types.HostFocus(f.ThreadID)
	case KindDevice:
		return types.SoftwareFocus(f.Device.Block, f.Device.Thread)
	default:
		return nil
	}
}

// Hardware addresses a lane by physical location. The backend translates it
// to a software coordinate.
type Hardware struct {
	SM, Warp, Lane int
}

func (h Hardware) String() string {
	return fmt.Sprintf("sm %d warp %d lane %d", h.SM, h.Warp, h.Lane)
}

// Target is what a client asks to focus: a Focus, or hardware coordinates
// when Hardware is set.
type Target struct {
	Focus    Focus
	Hardware *Hardware
}

func (t Target) String() string {
	if t.Hardware != nil {
		return t.Hardware.String()
	}
	return t.Focus.String()
}

// FromWire parses the protocol form of a focus request.
func FromWire(w *types.CudaFocus) (Target, error) {
	if w == nil {
		return Target{}, errors.InvalidParameter("focus", nil, "a focus object")
	}
	switch w.Type {
	case types.FocusTypeSoftware:
		if w.BlockIdx == nil || w.ThreadIdx == nil {
			return Target{}, errors.InvalidParameter("focus", w.Type, "blockIdx and threadIdx for software focus")
		}
		return Target{Focus: Device(Coordinate{Block: *w.BlockIdx, Thread: *w.ThreadIdx})}, nil
	case types.FocusTypeHardware:
		if w.Sm == nil || w.Warp == nil || w.Lane == nil {
			return Target{}, errors.InvalidParameter("focus", w.Type, "sm, warp and lane for hardware focus")
		}
		return Target{Hardware: &Hardware{SM: *w.Sm, Warp: *w.Warp, Lane: *w.Lane}}, nil
	case types.FocusTypeHost:
		if w.ThreadID == nil {
			return Target{}, errors.InvalidParameter("focus", w.Type, "threadId for host focus")
		}
		return Target{Focus: Host(*w.ThreadID)}, nil
	default:
		return Target{}, errors.InvalidParameter("focus.type", w.Type, "software, hardware or host")
	}
}

// Validator makes a target the backend's current context and reports the
// focus the backend ended up on.
type Validator interface {
	Switch(ctx context.Context, target Target) (Focus, error)
}

// Tracker holds the committed focus. All mutations come from the session
// loop; Get may be called from anywhere.
type Tracker struct {
	mu      sync.Mutex
	current Focus
	stopped bool
	unknown bool
	notify  func(Focus)
}

// NewTracker returns an unset tracker. notify, if not nil, is called after
// every change of the committed focus, never for a commit of the same
// value, and with the unset Focus when the focus becomes undeterminable.
func NewTracker(notify func(Focus)) *Tracker {
	return &Tracker{notify: notify}
}

// Get returns the committed focus without touching the backend.
func (t *Tracker) Get() Focus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Stopped reports whether the target is known to be stopped.
func (t *Tracker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Set validates target with v and commits the result. The focus is left
// unchanged when the target is running or v rejects the target.
func (t *Tracker) Set(ctx context.Context, target Target, v Validator) (Focus, error) {
	if !t.Stopped() {
		return Focus{}, errors.NotStopped("changing the CUDA focus")
	}
	f, err := v.Switch(ctx, target)
	if err != nil {
		if errors.Is(err, errors.CodeInvalidFocusTarget) || errors.Is(err, errors.CodeBackendExited) {
			return Focus{}, err
		}
		return Focus{}, errors.InvalidFocusTarget(target.String(), err)
	}
	t.commit(f)
	return f, nil
}

// ObserveStop commits the focus the backend reported with a stop. A stop
// always replaces whatever was committed before it.
func (t *Tracker) ObserveStop(f Focus) {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.commit(f)
}

// ObserveUnknownStop records a stop whose focus the backend could not
// report. fallback, if set, becomes the committed focus without being
// announced; listeners get an unset focus instead.
func (t *Tracker) ObserveUnknownStop(fallback Focus) {
	t.mu.Lock()
	t.stopped = true
	if fallback.Kind != KindUnset {
		t.current = fallback
	}
	announced := t.unknown
	t.unknown = true
	notify := t.notify
	t.mu.Unlock()

	if notify != nil && !announced {
		notify(Focus{})
	}
}

// Refresh commits a focus re-read from the backend while stopped, after a
// console command may have moved it.
func (t *Tracker) Refresh(f Focus) {
	if !t.Stopped() {
		return
	}
	t.commit(f)
}

// MarkRunning records that the target resumed. The committed focus is kept
// for display; it is not valid for inspection until the next stop.
func (t *Tracker) MarkRunning() {
	t.mu.Lock()
	t.stopped = false
	t.mu.Unlock()
}

// MarkUnknown announces that the committed focus can no longer be
// determined, for example because its host thread exited. Listeners get an
// unset focus; Get keeps returning the last committed value, and the next
// commit notifies even if it is that same value.
func (t *Tracker) MarkUnknown() {
	t.mu.Lock()
	if t.unknown || t.current.Kind == KindUnset {
		t.mu.Unlock()
		return
	}
	t.unknown = true
	notify := t.notify
	t.mu.Unlock()

	if notify != nil {
		notify(Focus{})
	}
}

func (t *Tracker) commit(f Focus) {
	t.mu.Lock()
	if t.current == f && !t.unknown {
		t.mu.Unlock()
		return
	}
	t.current = f
	t.unknown = false
	notify := t.notify
	t.mu.Unlock()

	if notify != nil {
		notify(f)
	}
}
