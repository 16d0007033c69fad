package resolver

import (
	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/focus"
)

// Frame is a stack frame as the backend addresses it: a context plus a
// level counted from the innermost frame.
type Frame struct {
	ID       int
	ThreadID int
	Level    int
	Context  focus.Focus
}

type frameKey struct {
	thread int
	level  int
}

// frameTable hands out frame ids that stay stable for a (thread, level)
// pair for the whole session, so a front end may keep a frame id across
// stops and still have it resolve to the same thread and depth.
type frameTable struct {
	ids    map[frameKey]int
	frames map[int]Frame
}

func newFrameTable() *frameTable {
	return &frameTable{
		ids:    make(map[frameKey]int),
		frames: make(map[int]Frame),
	}
}

func (t *frameTable) id(threadID, level int, ctx focus.Focus) int {
	key := frameKey{threadID, level}
	if id, ok := t.ids[key]; ok {
		return id
	}
	id := len(t.ids) + 1
	t.ids[key] = id
	t.frames[id] = Frame{ID: id, ThreadID: threadID, Level: level, Context: ctx}
	return id
}

func (t *frameTable) lookup(id int) (Frame, error) {
	f, ok := t.frames[id]
	if !ok {
		return Frame{}, errors.UnknownReference("frame", id)
	}
	return f, nil
}
