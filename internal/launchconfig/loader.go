package launchconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// LaunchJSONFileName is the standard name for VS Code launch configuration file.
	LaunchJSONFileName = "launch.json"
	// VSCodeDirName is the VS Code configuration directory name.
	VSCodeDirName = ".vscode"

	// DebugType is the configuration type this adapter serves.
	DebugType = "cuda-gdb"
)

// LaunchJSON represents a VS Code launch.json file structure.
type LaunchJSON struct {
	Version        string          `json:"version"`
	Configurations []Configuration `json:"configurations"`
}

// Configuration is one entry of launch.json.
type Configuration struct {
	Type    string  `json:"type"`
	Request Request `json:"request"`
	Name    string  `json:"name"`

	// Raw holds the whole entry; it is what the client sends as the launch
	// or attach arguments.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw entry next to the decoded header.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	type header Configuration
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	*c = Configuration(h)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Arguments decodes and validates the entry for its request kind.
func (c *Configuration) Arguments() (*LaunchArguments, error) {
	return Decode(c.Raw, c.Request)
}

// LoadFromPath loads a launch.json file from an explicit path.
func LoadFromPath(path string) (*LaunchJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch.json: %w", err)
	}

	var lj LaunchJSON
	if err := json.Unmarshal(data, &lj); err != nil {
		return nil, fmt.Errorf("failed to parse launch.json: %w", err)
	}
	return &lj, nil
}

// Discover searches for a .vscode/launch.json file starting from the given path
// and walking up the directory tree until found or reaching the root.
func Discover(startPath string) (string, error) {
	if startPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		startPath = cwd
	}

	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		absPath = filepath.Dir(absPath)
	}

	current := absPath
	for {
		launchPath := filepath.Join(current, VSCodeDirName, LaunchJSONFileName)
		if _, err := os.Stat(launchPath); err == nil {
			return launchPath, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("no %s/%s found in %s or parent directories", VSCodeDirName, LaunchJSONFileName, startPath)
}

// FindConfiguration finds a cuda-gdb configuration by name.
func FindConfiguration(lj *LaunchJSON, name string) (*Configuration, error) {
	for i := range lj.Configurations {
		c := &lj.Configurations[i]
		if c.Name != name {
			continue
		}
		if c.Type != DebugType {
			return nil, fmt.Errorf("configuration %q has type %q, expected %q", name, c.Type, DebugType)
		}
		return c, nil
	}
	return nil, fmt.Errorf("configuration %q not found", name)
}

// ConfigurationInfo provides summary information about a configuration.
type ConfigurationInfo struct {
	Name    string  `json:"name"`
	Request Request `json:"request"`
}

// ListConfigurations summarizes the cuda-gdb configurations in the file.
func ListConfigurations(lj *LaunchJSON) []ConfigurationInfo {
	var infos []ConfigurationInfo
	for _, cfg := range lj.Configurations {
		if cfg.Type != DebugType {
			continue
		}
		infos = append(infos, ConfigurationInfo{Name: cfg.Name, Request: cfg.Request})
	}
	return infos
}

// WorkspaceFolder derives the workspace folder from the launch.json path:
// the parent of the .vscode directory.
func WorkspaceFolder(launchJSONPath string) string {
	return filepath.ToSlash(filepath.Dir(filepath.Dir(launchJSONPath)))
}
