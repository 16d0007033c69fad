package mi

import (
	"strings"
)

// Quote renders s as a C string suitable for an MI command parameter.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// QuoteIfNeeded quotes s only when it contains characters the MI
// parameter grammar does not accept bare.
func QuoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\r\"\\'{}[],") {
		return Quote(s)
	}
	return s
}

// Console wraps a CLI command so it can be issued through the MI channel.
func Console(command string) string {
	return "-interpreter-exec console " + Quote(command)
}

// IsCommand reports whether text is already an MI command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "-")
}
