package backend

import (
	"fmt"
	"strings"
)

// TargetKind selects the debugger flavour and its resolution order.
type TargetKind int

const (
	// TargetGeneric debugs Linux targets with cuda-gdb.
	TargetGeneric TargetKind = iota
	// TargetQNX debugs QNX targets with cuda-qnx-gdb through a remote stub.
	TargetQNX
)

// ParseTargetKind accepts "", "generic", "linux" and "qnx".
func ParseTargetKind(s string) (TargetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic", "linux":
		return TargetGeneric, nil
	case "qnx":
		return TargetQNX, nil
	default:
		return TargetGeneric, fmt.Errorf("unknown target kind %q", s)
	}
}

// DebuggerName is the executable searched for when no override is given.
func (k TargetKind) DebuggerName() string {
	if k == TargetQNX {
		return "cuda-qnx-gdb"
	}
	return "cuda-gdb"
}

func (k TargetKind) String() string {
	if k == TargetQNX {
		return "qnx"
	}
	return "generic"
}
