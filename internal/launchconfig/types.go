// Package launchconfig decodes the arguments of launch and attach requests
// and the launch.json files that carry them.
package launchconfig

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kballard/go-shellquote"
)

// Request distinguishes launch from attach.
type Request string

const (
	RequestLaunch Request = "launch"
	RequestAttach Request = "attach"
)

// API failure policies understood by cuda-gdb's "set cuda api_failures".
const (
	APIErrorStop   = "stop"
	APIErrorHide   = "hide"
	APIErrorIgnore = "ignore"
)

// LaunchArguments are the arguments of a launch or attach request.
type LaunchArguments struct {
	Program     string             `json:"program,omitempty"`
	Args        Args               `json:"args,omitempty"`
	Env         map[string]*string `json:"env,omitempty"`
	EnvFile     string             `json:"envFile,omitempty"`
	Cwd         string             `json:"cwd,omitempty"`
	StopAtEntry bool               `json:"stopAtEntry,omitempty"`

	InitCommands   []string       `json:"initCommands,omitempty"`
	SetupCommands  []SetupCommand `json:"setupCommands,omitempty"`
	PreRunCommands []string       `json:"preRunCommands,omitempty"`

	DebuggerPath   string `json:"debuggerPath,omitempty"`
	LogFile        string `json:"logFile,omitempty"`
	VerboseLogging bool   `json:"verboseLogging,omitempty"`
	OnAPIError     string `json:"onAPIError,omitempty"`
	Sysroot        string `json:"sysroot,omitempty"`
	TestMode       bool   `json:"testMode,omitempty"`

	// Attach
	ProcessID ProcessID `json:"processId,omitempty"`

	// Remote and embedded targets
	TargetKind       string           `json:"targetKind,omitempty"`
	Target           *Target          `json:"target,omitempty"`
	Server           string           `json:"server,omitempty"`
	ServerParameters []string         `json:"serverParameters,omitempty"`
	ImageAndSymbols  *ImageAndSymbols `json:"imageAndSymbols,omitempty"`

	// Fields this adapter does not know, kept for logging.
	Extra map[string]any `json:"-"`
}

// SetupCommand is one entry of setupCommands.
type SetupCommand struct {
	Text           string `json:"text"`
	Description    string `json:"description,omitempty"`
	IgnoreFailures bool   `json:"ignoreFailures,omitempty"`
}

// Target configures a gdbserver-style stub and how to connect to it.
type Target struct {
	Type               string   `json:"type,omitempty"`
	Parameters         []string `json:"parameters,omitempty"`
	Host               string   `json:"host,omitempty"`
	Port               string   `json:"port,omitempty"`
	ConnectCommands    []string `json:"connectCommands,omitempty"`
	Server             string   `json:"server,omitempty"`
	ServerParameters   []string `json:"serverParameters,omitempty"`
	ServerPortRegExp   string   `json:"serverPortRegExp,omitempty"`
	Cwd                string   `json:"cwd,omitempty"`
	ServerStartupDelay int      `json:"serverStartupDelay,omitempty"`
}

// ImageAndSymbols names files loaded into the backend after connecting.
type ImageAndSymbols struct {
	SymbolFileName string `json:"symbolFileName,omitempty"`
	SymbolOffset   string `json:"symbolOffset,omitempty"`
	ImageFileName  string `json:"imageFileName,omitempty"`
	ImageOffset    string `json:"imageOffset,omitempty"`
}

// Args accepts either a single shell-style string or an array of strings.
type Args []string

// UnmarshalJSON splits the string form with shell quoting rules.
func (a *Args) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("args must be a string or an array of strings")
	}
	words, err := shellquote.Split(s)
	if err != nil {
		return fmt.Errorf("args: %w", err)
	}
	*a = words
	return nil
}

// String joins the arguments the way a shell would read them back.
func (a Args) String() string {
	return shellquote.Join(a...)
}

// ProcessID accepts a number or a numeric string.
type ProcessID int

// UnmarshalJSON implements json.Unmarshaler.
func (p *ProcessID) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = ProcessID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("processId must be a number")
	}
	if s == "" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("processId %q is not a number", s)
	}
	*p = ProcessID(n)
	return nil
}

// knownFields are the JSON keys decoded into LaunchArguments. The remaining
// keys are client bookkeeping (type, name, request, __sessionId, ...).
var knownFields = map[string]bool{
	"program": true, "args": true, "env": true, "envFile": true, "cwd": true,
	"stopAtEntry": true, "initCommands": true, "setupCommands": true,
	"preRunCommands": true, "debuggerPath": true, "logFile": true,
	"verboseLogging": true, "onAPIError": true, "sysroot": true,
	"testMode": true, "processId": true, "targetKind": true, "target": true,
	"server": true, "serverParameters": true, "imageAndSymbols": true,
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (l *LaunchArguments) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type Alias LaunchArguments
	var alias Alias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*l = LaunchArguments(alias)

	l.Extra = make(map[string]any)
	for key, value := range raw {
		if knownFields[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		l.Extra[key] = v
	}
	return nil
}

// MarshalJSON writes the known fields followed by Extra.
func (l LaunchArguments) MarshalJSON() ([]byte, error) {
	type Alias LaunchArguments
	data, err := json.Marshal(Alias(l))
	if err != nil {
		return nil, err
	}
	if len(l.Extra) == 0 {
		return data, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range l.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
