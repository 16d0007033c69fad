package backend

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ctagard/cuda-dap/internal/errors"
)

// toolkitRoot is where CUDA toolkits are installed by default.
var toolkitRoot = "/usr/local"

// Locate resolves the debugger executable.
//
// A non-empty override must name an existing file the current user may
// execute. Without an override the debugger for kind is looked up on PATH,
// then in searchPaths, then in the CUDA toolkit directories under
// /usr/local, newest toolkit first.
func Locate(override string, kind TargetKind, searchPaths []string) (string, error) {
	if override != "" {
		return checkCandidate(override)
	}

	name := kind.DebuggerName()
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	for _, dir := range candidateDirs(searchPaths) {
		path := filepath.Join(dir, name)
		if resolved, err := checkCandidate(path); err == nil {
			return resolved, nil
		}
	}

	return "", errors.ExecutableNotFound("")
}

func checkCandidate(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errors.ExecutableNotFound(path)
	}
	if err := checkExecutable(path, info); err != nil {
		return "", errors.NotExecutable(path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// candidateDirs lists configured directories, the unversioned toolkit and
// then versioned toolkits in descending version order.
func candidateDirs(searchPaths []string) []string {
	dirs := append([]string{}, searchPaths...)
	dirs = append(dirs, filepath.Join(toolkitRoot, "cuda", "bin"))

	matches, _ := filepath.Glob(filepath.Join(toolkitRoot, "cuda-*"))
	type toolkit struct {
		dir string
		ver *semver.Version
	}
	var toolkits []toolkit
	for _, m := range matches {
		v, err := semver.NewVersion(strings.TrimPrefix(filepath.Base(m), "cuda-"))
		if err != nil {
			continue
		}
		toolkits = append(toolkits, toolkit{dir: m, ver: v})
	}
	sort.Slice(toolkits, func(i, j int) bool {
		return toolkits[i].ver.GreaterThan(toolkits[j].ver)
	})
	for _, tk := range toolkits {
		dirs = append(dirs, filepath.Join(tk.dir, "bin"))
	}
	return dirs
}

// ValidatePlatform rejects hosts cuda-gdb does not run on.
func ValidatePlatform(goos string) error {
	if goos != "linux" {
		return errors.UnsupportedPlatform(goos)
	}
	return nil
}
