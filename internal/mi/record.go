// Package mi parses the line-oriented machine interface spoken by cuda-gdb.
//
// Every line printed by the backend is one of:
//   - a result record:   [token]^class[,results]
//   - an async record:   [token]*class, [token]+class or [token]=class
//   - a stream record:   ~"console", @"target" or &"log"
//   - the prompt:        (gdb)
//
// Results are name=value pairs where value is a C string, a tuple {...}
// or a list [...]. Lists of results keep only their values.
package mi

import (
	"fmt"
	"strconv"
)

// Kind identifies the type of an output record.
type Kind int

const (
	KindResult Kind = iota
	KindExec
	KindStatus
	KindNotify
	KindConsole
	KindTarget
	KindLog
	KindPrompt
)

func (k Kind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindExec:
		return "exec"
	case KindStatus:
		return "status"
	case KindNotify:
		return "notify"
	case KindConsole:
		return "console"
	case KindTarget:
		return "target"
	case KindLog:
		return "log"
	case KindPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// IsStream reports whether the record carries stream text.
func (k Kind) IsStream() bool {
	return k == KindConsole || k == KindTarget || k == KindLog
}

// IsAsync reports whether the record is an out-of-band notification.
func (k Kind) IsAsync() bool {
	return k == KindExec || k == KindStatus || k == KindNotify
}

// Record is one parsed output line.
type Record struct {
	Token    int
	HasToken bool
	Kind     Kind
	// Class is the result or async class, e.g. "done", "stopped", "thread-created".
	Class   string
	Results Tuple
	// Text is the decoded payload of a stream record.
	Text string
}

// Tuple is a set of named values. Duplicate names keep the last value.
type Tuple map[string]any

// List is an ordered sequence of values.
type List []any

// String returns the C-string value stored under key, or "".
func (t Tuple) String(key string) string {
	s, _ := t[key].(string)
	return s
}

// Int returns the integer value stored under key.
func (t Tuple) Int(key string) (int, bool) {
	s, ok := t[key].(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Tuple returns the nested tuple stored under key, or nil.
func (t Tuple) Tuple(key string) Tuple {
	v, _ := t[key].(Tuple)
	return v
}

// List returns the list stored under key. A tuple stored under key is
// returned as a one-element list, which is how the backend prints a
// single-entry list in a few commands.
func (t Tuple) List(key string) List {
	switch v := t[key].(type) {
	case List:
		return v
	case Tuple:
		return List{v}
	default:
		return nil
	}
}

// Tuples returns the elements of the list under key that are tuples.
func (t Tuple) Tuples(key string) []Tuple {
	list := t.List(key)
	out := make([]Tuple, 0, len(list))
	for _, v := range list {
		if tup, ok := v.(Tuple); ok {
			out = append(out, tup)
		}
	}
	return out
}

// Strings returns the elements of the list under key that are C strings.
func (t Tuple) Strings(key string) []string {
	list := t.List(key)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ErrorMessage returns the msg field of an ^error record.
func (r *Record) ErrorMessage() string {
	if r.Results == nil {
		return ""
	}
	return r.Results.String("msg")
}

func (r *Record) String() string {
	if r.Kind.IsStream() {
		return fmt.Sprintf("%s %q", r.Kind, r.Text)
	}
	if r.HasToken {
		return fmt.Sprintf("%d %s %s %v", r.Token, r.Kind, r.Class, r.Results)
	}
	return fmt.Sprintf("%s %s %v", r.Kind, r.Class, r.Results)
}
