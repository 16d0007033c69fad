// Package version provides the adapter version and backend version checks.
package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// Version is the current version of cuda-dap
	Version = "0.2.0"

	// Name identifies the adapter in logs and initialize responses
	Name = "cuda-dap"
)

// BackendInfo describes the cuda-gdb release reported by -gdb-version.
type BackendInfo struct {
	Banner  string
	Version *semver.Version
}

// releaseRe matches banners such as "exec: cuda-gdb ... 12.4 release" or
// "NVIDIA (R) CUDA Debugger\n12.2 release".
var releaseRe = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)\s+release`)

// gdbRe is the fallback for plain gdb banners: "GNU gdb (GDB) 13.2".
var gdbRe = regexp.MustCompile(`GNU gdb \([^)]*\) (\d+\.\d+(?:\.\d+)?)`)

// ParseBackend extracts the backend version from the console output of
// -gdb-version.
func ParseBackend(banner string) (*BackendInfo, error) {
	info := &BackendInfo{Banner: strings.TrimSpace(banner)}

	m := releaseRe.FindStringSubmatch(banner)
	if m == nil {
		m = gdbRe.FindStringSubmatch(banner)
	}
	if m == nil {
		return info, fmt.Errorf("no version found in debugger banner")
	}

	v, err := semver.NewVersion(m[1])
	if err != nil {
		return info, fmt.Errorf("invalid debugger version %q: %w", m[1], err)
	}
	info.Version = v
	return info, nil
}

// Check returns a warning message when the backend is older than minimum.
// An empty string means the backend is acceptable or the check could not be
// made.
func (b *BackendInfo) Check(minimum string) string {
	if b == nil || b.Version == nil || minimum == "" {
		return ""
	}
	c, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return ""
	}
	if c.Check(b.Version) {
		return ""
	}
	return fmt.Sprintf("cuda-gdb %s is older than the minimum supported release %s; some features may not work.\n", b.Version, minimum)
}

// String returns the full version string
func String() string {
	return fmt.Sprintf("%s v%s", Name, Version)
}
