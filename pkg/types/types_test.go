package types

import (
	"encoding/json"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecDecodesChangeCudaFocusRequest(t *testing.T) {
	raw := `{"seq":5,"type":"request","command":"changeCudaFocus","arguments":{"focus":{"type":"software","blockIdx":{"x":0,"y":0,"z":0},"threadIdx":{"x":1,"y":0,"z":0}}}}`

	msg, err := NewCodec().DecodeMessage([]byte(raw))
	require.NoError(t, err)

	req, ok := msg.(*ChangeCudaFocusRequest)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 5, req.GetSeq())
	require.NotNil(t, req.Arguments.Focus)
	assert.Equal(t, FocusTypeSoftware, req.Arguments.Focus.Type)
	assert.Equal(t, Dim3{X: 1}, *req.Arguments.Focus.ThreadIdx)
}

func TestCodecDecodesQueryWithoutFocus(t *testing.T) {
	raw := `{"seq":6,"type":"request","command":"changeCudaFocus","arguments":{}}`

	msg, err := NewCodec().DecodeMessage([]byte(raw))
	require.NoError(t, err)

	req, ok := msg.(*ChangeCudaFocusRequest)
	require.True(t, ok)
	assert.Nil(t, req.Arguments.Focus)
}

func TestCodecDecodesExtensionEvents(t *testing.T) {
	codec := NewCodec()

	msg, err := codec.DecodeMessage([]byte(`{"seq":9,"type":"event","event":"changedCudaFocus","body":{}}`))
	require.NoError(t, err)
	ev, ok := msg.(*ChangedCudaFocusEvent)
	require.True(t, ok)
	assert.Nil(t, ev.Body.Focus)

	msg, err = codec.DecodeMessage([]byte(`{"seq":10,"type":"event","event":"systemInfo","body":{"systemInfo":{"devices":[{"id":0,"name":"GA102","sms":68}]}}}`))
	require.NoError(t, err)
	info, ok := msg.(*SystemInfoEvent)
	require.True(t, ok)
	require.Len(t, info.Body.SystemInfo.Devices, 1)
	assert.Equal(t, 68, info.Body.SystemInfo.Devices[0].SMs)
}

func TestCodecStillDecodesStandardMessages(t *testing.T) {
	msg, err := NewCodec().DecodeMessage([]byte(`{"seq":1,"type":"request","command":"threads"}`))
	require.NoError(t, err)
	_, ok := msg.(*dap.ThreadsRequest)
	assert.True(t, ok)
}

func TestHostFocusWireForm(t *testing.T) {
	data, err := json.Marshal(HostFocus(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"host","threadId":3}`, string(data))

	data, err = json.Marshal(SoftwareFocus(Dim3{}, Dim3{X: 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"software","blockIdx":{"x":0,"y":0,"z":0},"threadIdx":{"x":1,"y":0,"z":0}}`, string(data))
}
