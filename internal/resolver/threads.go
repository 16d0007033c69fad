package resolver

import (
	"fmt"
	"sort"

	"github.com/google/go-dap"
	"github.com/samber/lo"

	"github.com/ctagard/cuda-dap/internal/focus"
)

// DeviceThreadBase is the first id handed out for device threads. Host
// thread ids come from the backend and stay far below it.
const DeviceThreadBase = 100000

// ThreadTable maps protocol thread ids to host threads and device
// coordinates. A device coordinate keeps the id it was first given for the
// whole session.
type ThreadTable struct {
	hosts   map[int]string
	devices map[focus.Coordinate]int
	coords  map[int]focus.Coordinate
	active  *focus.Coordinate
}

// NewThreadTable returns an empty table.
func NewThreadTable() *ThreadTable {
	return &ThreadTable{
		hosts:   make(map[int]string),
		devices: make(map[focus.Coordinate]int),
		coords:  make(map[int]focus.Coordinate),
	}
}

// SetHosts replaces the host threads with the backend's current list.
func (t *ThreadTable) SetHosts(threads map[int]string) {
	t.hosts = make(map[int]string, len(threads))
	for id, name := range threads {
		t.hosts[id] = name
	}
}

// AddHost records a new host thread and reports whether it was unknown.
func (t *ThreadTable) AddHost(id int, name string) bool {
	_, known := t.hosts[id]
	if !known || name != "" {
		t.hosts[id] = name
	}
	return !known
}

// FirstHost returns the lowest known host thread id.
func (t *ThreadTable) FirstHost() (int, bool) {
	if len(t.hosts) == 0 {
		return 0, false
	}
	return lo.Min(lo.Keys(t.hosts)), true
}

// RemoveHost forgets a host thread and reports whether it was known.
func (t *ThreadTable) RemoveHost(id int) bool {
	_, known := t.hosts[id]
	delete(t.hosts, id)
	return known
}

// HasHost reports whether id is a live host thread.
func (t *ThreadTable) HasHost(id int) bool {
	_, ok := t.hosts[id]
	return ok
}

// SetActiveDevice records the device coordinate the backend is stopped in,
// or nil when no kernel is active.
func (t *ThreadTable) SetActiveDevice(c *focus.Coordinate) {
	if c == nil {
		t.active = nil
		return
	}
	cc := *c
	t.active = &cc
	t.DeviceID(cc)
}

// ActiveDevice returns the active device coordinate.
func (t *ThreadTable) ActiveDevice() (focus.Coordinate, bool) {
	if t.active == nil {
		return focus.Coordinate{}, false
	}
	return *t.active, true
}

// DeviceID returns the id of a device coordinate, allocating one on first use.
func (t *ThreadTable) DeviceID(c focus.Coordinate) int {
	if id, ok := t.devices[c]; ok {
		return id
	}
	id := DeviceThreadBase + len(t.devices)
	t.devices[c] = id
	t.coords[id] = c
	return id
}

// IDFor returns the protocol thread id of a focus.
func (t *ThreadTable) IDFor(f focus.Focus) int {
	switch f.Kind {
	case focus.KindHost:
		return f.ThreadID
	case focus.KindDevice:
		return t.DeviceID(f.Device)
	default:
		return 0
	}
}

// Lookup resolves a protocol thread id.
func (t *ThreadTable) Lookup(id int) (focus.Focus, bool) {
	if c, ok := t.coords[id]; ok {
		return focus.Device(c), true
	}
	if _, ok := t.hosts[id]; ok {
		return focus.Host(id), true
	}
	return focus.Focus{}, false
}

// Threads lists the host threads in id order followed by the active device
// thread, if any.
func (t *ThreadTable) Threads() []dap.Thread {
	ids := lo.Keys(t.hosts)
	sort.Ints(ids)
	threads := lo.Map(ids, func(id int, _ int) dap.Thread {
		name := t.hosts[id]
		if name == "" {
			name = fmt.Sprintf("Thread %d", id)
		}
		return dap.Thread{Id: id, Name: name}
	})
	if t.active != nil {
		threads = append(threads, dap.Thread{
			Id:   t.DeviceID(*t.active),
			Name: DeviceThreadName(*t.active),
		})
	}
	return threads
}

// DeviceThreadName is how a device coordinate is shown in thread lists.
func DeviceThreadName(c focus.Coordinate) string {
	return fmt.Sprintf("(CUDA) block %s thread %s", c.Block, c.Thread)
}
