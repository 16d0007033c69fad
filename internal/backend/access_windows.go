//go:build windows

package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func checkExecutable(path string, _ os.FileInfo) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd":
		return nil
	}
	return fmt.Errorf("%s is not an executable file", path)
}
