package mi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotMI is returned for lines that are not machine interface output,
// typically program output sharing the backend's terminal.
var ErrNotMI = errors.New("not a machine interface record")

// Parse decodes a single output line (without the trailing newline).
func Parse(line string) (*Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "(gdb)" {
		return &Record{Kind: KindPrompt}, nil
	}

	p := &parser{s: line}
	rec := &Record{}

	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos > start {
		n := 0
		for _, c := range p.s[start:p.pos] {
			n = n*10 + int(c-'0')
		}
		rec.Token, rec.HasToken = n, true
	}

	if p.eof() {
		return nil, ErrNotMI
	}

	switch c := p.next(); c {
	case '^':
		rec.Kind = KindResult
	case '*':
		rec.Kind = KindExec
	case '+':
		rec.Kind = KindStatus
	case '=':
		rec.Kind = KindNotify
	case '~', '@', '&':
		if rec.HasToken {
			return nil, ErrNotMI
		}
		rec.Kind = streamKinds[c]
		text, err := p.cstring()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotMI, err)
		}
		rec.Text = text
		return rec, nil
	default:
		return nil, ErrNotMI
	}

	rec.Class = p.ident()
	if rec.Class == "" {
		return nil, ErrNotMI
	}
	rec.Results = Tuple{}
	for !p.eof() {
		if p.peek() != ',' {
			return nil, fmt.Errorf("mi: unexpected %q at offset %d", p.peek(), p.pos)
		}
		p.pos++
		name, value, err := p.result()
		if err != nil {
			return nil, err
		}
		rec.Results[name] = value
	}
	return rec, nil
}

var streamKinds = map[byte]Kind{'~': KindConsole, '@': KindTarget, '&': KindLog}

type parser struct {
	s   string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.s) }

func (p *parser) peek() byte { return p.s[p.pos] }

func (p *parser) next() byte {
	c := p.s[p.pos]
	p.pos++
	return c
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '=' || c == ',' || c == '{' || c == '}' || c == '[' || c == ']' || c == '"' {
			break
		}
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *parser) result() (string, any, error) {
	name := p.ident()
	if name == "" || p.eof() || p.peek() != '=' {
		return "", nil, fmt.Errorf("mi: malformed result at offset %d", p.pos)
	}
	p.pos++
	v, err := p.value()
	return name, v, err
}

func (p *parser) value() (any, error) {
	if p.eof() {
		return nil, errors.New("mi: unexpected end of line")
	}
	switch p.peek() {
	case '"':
		return p.cstring()
	case '{':
		return p.tuple()
	case '[':
		return p.list()
	default:
		return nil, fmt.Errorf("mi: unexpected %q at offset %d", p.peek(), p.pos)
	}
}

func (p *parser) tuple() (Tuple, error) {
	p.pos++ // {
	t := Tuple{}
	if !p.eof() && p.peek() == '}' {
		p.pos++
		return t, nil
	}
	for {
		name, v, err := p.result()
		if err != nil {
			return nil, err
		}
		t[name] = v
		if p.eof() {
			return nil, errors.New("mi: unterminated tuple")
		}
		switch p.next() {
		case ',':
		case '}':
			return t, nil
		default:
			return nil, fmt.Errorf("mi: malformed tuple at offset %d", p.pos-1)
		}
	}
}

func (p *parser) list() (List, error) {
	p.pos++ // [
	l := List{}
	if !p.eof() && p.peek() == ']' {
		p.pos++
		return l, nil
	}
	for {
		if p.eof() {
			return nil, errors.New("mi: unterminated list")
		}
		var (
			v   any
			err error
		)
		if c := p.peek(); c == '"' || c == '{' || c == '[' {
			v, err = p.value()
		} else {
			_, v, err = p.result()
		}
		if err != nil {
			return nil, err
		}
		l = append(l, v)
		if p.eof() {
			return nil, errors.New("mi: unterminated list")
		}
		switch p.next() {
		case ',':
		case ']':
			return l, nil
		default:
			return nil, fmt.Errorf("mi: malformed list at offset %d", p.pos-1)
		}
	}
}

func (p *parser) cstring() (string, error) {
	if p.eof() || p.peek() != '"' {
		return "", fmt.Errorf("mi: expected string at offset %d", p.pos)
	}
	p.pos++
	var sb strings.Builder
	for !p.eof() {
		c := p.next()
		switch c {
		case '"':
			return sb.String(), nil
		case '\\':
			if p.eof() {
				return "", errors.New("mi: dangling escape")
			}
			e := p.next()
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0', '1', '2', '3', '4', '5', '6', '7':
				// octal escape, up to three digits
				n := int(e - '0')
				for i := 0; i < 2 && !p.eof() && p.peek() >= '0' && p.peek() <= '7'; i++ {
					n = n*8 + int(p.next()-'0')
				}
				sb.WriteByte(byte(n))
			default:
				sb.WriteByte(e)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", errors.New("mi: unterminated string")
}
