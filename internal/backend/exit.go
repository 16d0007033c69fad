package backend

import (
	"errors"
	"fmt"
	"os/exec"
)

// ExitKind enumerates the backend exit outcomes the session reacts to.
type ExitKind int

const (
	// ExitNormal is a zero exit status, usually after -gdb-exit.
	ExitNormal ExitKind = iota
	// ExitModuleNotFound means the loader could not start cuda-gdb or one of
	// its shared libraries.
	ExitModuleNotFound
	// ExitSignaled means the backend was killed by a signal.
	ExitSignaled
	// ExitFailure is any other non-zero status or wait error.
	ExitFailure
)

// CodeModuleNotFound is the status the dynamic loader and shells use when an
// executable or one of its libraries is missing.
const CodeModuleNotFound = 127

// ModuleNotFoundMessage is shown to the user on ExitModuleNotFound.
const ModuleNotFoundMessage = "Failed to find cuda-gdb or a dependent library."

// ExitEvent is delivered exactly once when the backend process ends.
type ExitEvent struct {
	Kind   ExitKind
	Code   int
	Signal string
	Err    error
}

// ClassifyExit maps the result of waiting on the backend to an ExitEvent.
func ClassifyExit(waitErr error) ExitEvent {
	if waitErr == nil {
		return ExitEvent{Kind: ExitNormal}
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return ExitEvent{Kind: ExitFailure, Code: -1, Err: waitErr}
	}

	code := exitErr.ExitCode()
	if code == -1 {
		return ExitEvent{Kind: ExitSignaled, Code: -1, Signal: exitErr.ProcessState.String(), Err: waitErr}
	}
	return ExitFromCode(code)
}

// ExitFromCode classifies a plain exit status.
func ExitFromCode(code int) ExitEvent {
	switch code {
	case 0:
		return ExitEvent{Kind: ExitNormal}
	case CodeModuleNotFound:
		return ExitEvent{Kind: ExitModuleNotFound, Code: code}
	default:
		return ExitEvent{Kind: ExitFailure, Code: code}
	}
}

// Message is the user-facing description, empty for a normal exit.
func (e ExitEvent) Message() string {
	switch e.Kind {
	case ExitNormal:
		return ""
	case ExitModuleNotFound:
		return ModuleNotFoundMessage
	case ExitSignaled:
		return fmt.Sprintf("cuda-gdb terminated unexpectedly (%s).", e.Signal)
	case ExitFailure:
		if e.Err != nil && e.Code == -1 {
			return fmt.Sprintf("cuda-gdb failed: %v.", e.Err)
		}
		return fmt.Sprintf("cuda-gdb exited with code %d.", e.Code)
	default:
		panic(fmt.Sprintf("unhandled exit kind %d", e.Kind))
	}
}

// AsError converts an abnormal exit to an error for failing in-flight commands.
func (e ExitEvent) AsError() error {
	if e.Kind == ExitNormal {
		return nil
	}
	return errors.New(e.Message())
}
