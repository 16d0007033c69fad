package fakegdb

import (
	"strings"

	"github.com/ctagard/cuda-dap/internal/mi"
)

// field is one name=value result. Values are string, tuple, list or field
// (inside result lists).
type field struct {
	name  string
	value any
}

type tuple []field

type list []any

func kv(name string, value any) field {
	return field{name: name, value: value}
}

func encodeResults(fields []field) string {
	parts := make([]string, len(fields))
	for i, fd := range fields {
		parts[i] = fd.name + "=" + encode(fd.value)
	}
	return strings.Join(parts, ",")
}

func encode(v any) string {
	switch val := v.(type) {
	case string:
		return mi.Quote(val)
	case tuple:
		return "{" + encodeResults(val) + "}"
	case list:
		parts := make([]string, len(val))
		for i, elem := range val {
			if fd, ok := elem.(field); ok {
				parts[i] = fd.name + "=" + encode(fd.value)
				continue
			}
			parts[i] = encode(elem)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case field:
		return val.name + "=" + encode(val.value)
	default:
		panic("fakegdb: cannot encode value")
	}
}
