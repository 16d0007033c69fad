package session

import (
	"strconv"
	"strings"

	"github.com/ctagard/cuda-dap/pkg/types"
)

// parseDevices reads the table printed by "info cuda devices":
//
//	  Dev PCI Bus/Dev ID                Name Description SM Type SMs Warps/SM Lanes/Warp Max Regs/Lane Active SMs Mask
//	*   0        01:00.0 NVIDIA GeForce RTX 3080    GA102-A   sm_86  68       48         32           256 0x0000
//
// Device names contain spaces, so rows are read from both ends: the id and
// bus from the left, the numeric columns from the right.
func parseDevices(lines []string) *types.SystemInfo {
	info := &types.SystemInfo{Devices: []types.DeviceInfo{}}
	for _, raw := range lines {
		for _, line := range strings.Split(raw, "\n") {
			if dev, ok := parseDeviceRow(line); ok {
				info.Devices = append(info.Devices, dev)
			}
		}
	}
	return info
}

func parseDeviceRow(line string) (types.DeviceInfo, bool) {
	fields := strings.Fields(line)
	var dev types.DeviceInfo
	if len(fields) > 0 && fields[0] == "*" {
		dev.Current = true
		fields = fields[1:]
	}
	// id, bus, name (>= 1 word), description, sm type, sms, warps, lanes,
	// regs, mask
	if len(fields) < 10 {
		return dev, false
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return dev, false
	}
	dev.ID = id

	n := len(fields)
	ints := make([]int, 4)
	for i, f := range fields[n-5 : n-1] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return dev, false
		}
		ints[i] = v
	}
	dev.SMs, dev.WarpsPerSM, dev.LanesPerWarp, dev.MaxRegsPerLane = ints[0], ints[1], ints[2], ints[3]
	dev.SMType = fields[n-6]
	dev.Description = fields[n-7]
	dev.Name = strings.Join(fields[2:n-7], " ")
	return dev, true
}
