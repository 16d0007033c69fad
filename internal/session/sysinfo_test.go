package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevices(t *testing.T) {
	info := parseDevices([]string{
		"  Dev PCI Bus/Dev ID                Name Description SM Type SMs Warps/SM Lanes/Warp Max Regs/Lane Active SMs Mask\n",
		"*   0        01:00.0 NVIDIA GeForce RTX 3080    GA102-A   sm_86  68       48         32           256 0x0000\n" +
			"    1        02:00.0 Tesla V100-SXM2-16GB      GV100GL-A sm_70  80       64         32           256 0x0000\n",
	})
	require.Len(t, info.Devices, 2)

	d := info.Devices[0]
	assert.True(t, d.Current)
	assert.Equal(t, 0, d.ID)
	assert.Equal(t, "NVIDIA GeForce RTX 3080", d.Name)
	assert.Equal(t, "GA102-A", d.Description)
	assert.Equal(t, "sm_86", d.SMType)
	assert.Equal(t, 68, d.SMs)
	assert.Equal(t, 48, d.WarpsPerSM)
	assert.Equal(t, 32, d.LanesPerWarp)
	assert.Equal(t, 256, d.MaxRegsPerLane)

	d = info.Devices[1]
	assert.False(t, d.Current)
	assert.Equal(t, 1, d.ID)
	assert.Equal(t, "Tesla V100-SXM2-16GB", d.Name)
	assert.Equal(t, 80, d.SMs)
}

func TestParseDevicesWithoutKernel(t *testing.T) {
	info := parseDevices([]string{"No CUDA devices.\n"})
	assert.NotNil(t, info.Devices)
	assert.Empty(t, info.Devices)
}
