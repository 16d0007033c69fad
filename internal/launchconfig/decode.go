package launchconfig

import (
	"encoding/json"
	"os"
	"time"

	"github.com/subosito/gotenv"

	"github.com/ctagard/cuda-dap/internal/errors"
)

// Decode parses the raw arguments of a launch or attach request and
// validates them for that request.
func Decode(raw json.RawMessage, req Request) (*LaunchArguments, error) {
	args := &LaunchArguments{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, errors.ConfigInvalid("arguments", err.Error())
		}
	}
	if err := args.Validate(req); err != nil {
		return nil, err
	}
	return args, nil
}

// Remote reports whether the session connects to a stub instead of running
// the program under the backend directly.
func (l *LaunchArguments) Remote() bool {
	return l.Target != nil || l.Server != ""
}

// Validate checks the arguments for req.
func (l *LaunchArguments) Validate(req Request) error {
	switch req {
	case RequestLaunch:
		if l.Program == "" && !l.Remote() {
			return errors.ConfigInvalid("program", "a program to debug is required")
		}
	case RequestAttach:
		if l.ProcessID <= 0 && !l.Remote() {
			return errors.ConfigInvalid("processId", "a process id to attach to is required")
		}
	default:
		return errors.ConfigInvalid("request", "must be launch or attach")
	}

	switch l.OnAPIError {
	case "", APIErrorStop, APIErrorHide, APIErrorIgnore:
	default:
		return errors.ConfigInvalid("onAPIError", "must be one of stop, hide, ignore")
	}

	switch l.TargetKind {
	case "", "generic", "qnx":
	default:
		return errors.ConfigInvalid("targetKind", "must be generic or qnx")
	}

	for i, c := range l.SetupCommands {
		if c.Text == "" {
			return errors.ConfigInvalid("setupCommands", "entry has no text").WithDetails("index", i)
		}
	}

	if l.Target != nil && l.Target.ServerStartupDelay < 0 {
		return errors.ConfigInvalid("target.serverStartupDelay", "must not be negative")
	}
	return nil
}

// StartupDelay is the wait between the stub's readiness line and connecting.
func (l *LaunchArguments) StartupDelay() time.Duration {
	if l.Target == nil {
		return 0
	}
	return time.Duration(l.Target.ServerStartupDelay) * time.Millisecond
}

// ServerCommand returns the stub executable and its parameters, preferring
// the target block over the legacy top-level fields.
func (l *LaunchArguments) ServerCommand() (string, []string) {
	if l.Target != nil && l.Target.Server != "" {
		return l.Target.Server, l.Target.ServerParameters
	}
	return l.Server, l.ServerParameters
}

// EnvOverrides merges envFile (if any) under env. A null env value unsets
// the variable.
func (l *LaunchArguments) EnvOverrides() (map[string]*string, error) {
	out := make(map[string]*string, len(l.Env))
	if l.EnvFile != "" {
		f, err := os.Open(l.EnvFile)
		if err != nil {
			return nil, errors.ConfigInvalid("envFile", err.Error())
		}
		defer f.Close()

		fileEnv, err := gotenv.StrictParse(f)
		if err != nil {
			return nil, errors.ConfigInvalid("envFile", err.Error())
		}
		for k, v := range fileEnv {
			out[k] = &v
		}
	}
	for k, v := range l.Env {
		out[k] = v
	}
	return out, nil
}
