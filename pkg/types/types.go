// Package types defines the CUDA extensions to the Debug Adapter Protocol.
//
// This package provides type definitions for:
//   - CudaFocus: the execution context being inspected (host thread or
//     device block/thread coordinate)
//   - SystemInfo: the GPU topology reported once per session
//   - changeCudaFocus request and response
//   - changedCudaFocus and systemInfo events
//   - SessionStatus: lifecycle states reported by the MCP bridge
//
// NewCodec returns a go-dap codec that decodes these messages alongside the
// standard protocol.
package types

import (
	"fmt"

	"github.com/google/go-dap"
)

const (
	// CommandChangeCudaFocus is the custom request switching or querying focus.
	CommandChangeCudaFocus = "changeCudaFocus"

	// EventChangedCudaFocus is sent on every focus transition.
	EventChangedCudaFocus = "changedCudaFocus"

	// EventSystemInfo is sent once per session with the device topology.
	EventSystemInfo = "systemInfo"
)

// Focus type discriminants.
const (
	FocusTypeSoftware = "software"
	FocusTypeHardware = "hardware"
	FocusTypeHost     = "host"
)

// SessionStatus represents the status of a debug session
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusStopped      SessionStatus = "stopped"
	SessionStatusTerminated   SessionStatus = "terminated"
)

// Dim3 is a CUDA three-component index.
type Dim3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z)
}

// CudaFocus is the wire form of a focus value.
//
// Software focus names a block and thread; hardware focus names an SM, warp
// and lane and is only accepted as a request; host focus names a backend
// thread id.
type CudaFocus struct {
	Type      string `json:"type"`
	BlockIdx  *Dim3  `json:"blockIdx,omitempty"`
	ThreadIdx *Dim3  `json:"threadIdx,omitempty"`
	Sm        *int   `json:"sm,omitempty"`
	Warp      *int   `json:"warp,omitempty"`
	Lane      *int   `json:"lane,omitempty"`
	ThreadID  *int   `json:"threadId,omitempty"`
}

// SoftwareFocus builds a software focus value.
func SoftwareFocus(block, thread Dim3) *CudaFocus {
	return &CudaFocus{Type: FocusTypeSoftware, BlockIdx: &block, ThreadIdx: &thread}
}

// HostFocus builds a host focus value.
func HostFocus(threadID int) *CudaFocus {
	return &CudaFocus{Type: FocusTypeHost, ThreadID: &threadID}
}

// DeviceInfo describes one GPU as reported by "info cuda devices".
type DeviceInfo struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	SMType         string `json:"smType,omitempty"`
	SMs            int    `json:"sms,omitempty"`
	WarpsPerSM     int    `json:"warpsPerSm,omitempty"`
	LanesPerWarp   int    `json:"lanesPerWarp,omitempty"`
	MaxRegsPerLane int    `json:"maxRegsPerLane,omitempty"`
	Current        bool   `json:"current,omitempty"`
}

// SystemInfo is the static description of the observed accelerators.
type SystemInfo struct {
	Devices []DeviceInfo `json:"devices"`
}

// ChangeCudaFocusArguments carries an optional new focus. A nil focus
// queries the current focus without changing it.
type ChangeCudaFocusArguments struct {
	Focus *CudaFocus `json:"focus,omitempty"`
}

// ChangeCudaFocusRequest switches or queries focus.
type ChangeCudaFocusRequest struct {
	dap.Request

	Arguments ChangeCudaFocusArguments `json:"arguments"`
}

// ChangeCudaFocusResponseBody reports the focus after the request.
type ChangeCudaFocusResponseBody struct {
	Focus *CudaFocus `json:"focus,omitempty"`
}

// ChangeCudaFocusResponse answers ChangeCudaFocusRequest.
type ChangeCudaFocusResponse struct {
	dap.Response

	Body ChangeCudaFocusResponseBody `json:"body"`
}

// ChangedCudaFocusEventBody carries the new focus, or nil when it could
// not be determined.
type ChangedCudaFocusEventBody struct {
	Focus *CudaFocus `json:"focus,omitempty"`
}

// ChangedCudaFocusEvent is sent on every focus transition.
type ChangedCudaFocusEvent struct {
	dap.Event

	Body ChangedCudaFocusEventBody `json:"body"`
}

// SystemInfoEventBody carries the device topology.
type SystemInfoEventBody struct {
	SystemInfo *SystemInfo `json:"systemInfo,omitempty"`
}

// SystemInfoEvent is sent once per session.
type SystemInfoEvent struct {
	dap.Event

	Body SystemInfoEventBody `json:"body"`
}

// NewCodec returns a codec that decodes the standard protocol plus the CUDA
// extension messages.
func NewCodec() *dap.Codec {
	codec := dap.NewCodec()
	// Registration only fails for names that collide with the standard
	// protocol, which these never do.
	_ = codec.RegisterRequest(CommandChangeCudaFocus,
		func() dap.Message { return &ChangeCudaFocusRequest{} },
		func() dap.Message { return &ChangeCudaFocusResponse{} })
	_ = codec.RegisterEvent(EventChangedCudaFocus, func() dap.Message { return &ChangedCudaFocusEvent{} })
	_ = codec.RegisterEvent(EventSystemInfo, func() dap.Message { return &SystemInfoEvent{} })
	return codec
}
