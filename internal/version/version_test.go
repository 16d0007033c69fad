package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendCudaBanner(t *testing.T) {
	banner := "NVIDIA (R) CUDA Debugger\n12.4 release\nPortions Copyright (C) 2007-2024 NVIDIA Corporation\nGNU gdb (GDB) 13.2\n"

	info, err := ParseBackend(banner)
	require.NoError(t, err)
	assert.Equal(t, "12.4.0", info.Version.String())
	assert.Empty(t, info.Check("11.0"))
}

func TestParseBackendPlainGDB(t *testing.T) {
	info, err := ParseBackend("GNU gdb (Ubuntu 12.1-0ubuntu1) 12.1\n")
	require.NoError(t, err)
	assert.Equal(t, "12.1.0", info.Version.String())
}

func TestParseBackendUnknown(t *testing.T) {
	info, err := ParseBackend("something else")
	assert.Error(t, err)
	assert.Empty(t, info.Check("11.0"))
}

func TestCheckWarnsOnOldBackend(t *testing.T) {
	info, err := ParseBackend("10.2 release")
	require.NoError(t, err)

	msg := info.Check("11.0")
	assert.Contains(t, msg, "10.2.0")
	assert.Contains(t, msg, "11.0")
}

func TestString(t *testing.T) {
	assert.Equal(t, "cuda-dap v"+Version, String())
}
