package fakegdb

import (
	"fmt"
	"strconv"
	"strings"
)

// value is a debuggee value: a scalar, a struct, a class whose members sit
// under a "public" access specifier, or an array.
type value struct {
	typ     string
	scalar  string
	members []member
	class   bool
	elems   []*value
}

type member struct {
	name string
	v    *value
}

func intVal(n int) *value {
	return &value{typ: "int", scalar: strconv.Itoa(n)}
}

func floatVal(x float64) *value {
	return &value{typ: "float", scalar: formatFloat(x)}
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 32)
}

func structVal(typ string, members ...member) *value {
	return &value{typ: typ, members: members}
}

func (v *value) composite() bool {
	return v.members != nil || v.elems != nil
}

func (v *value) display() string {
	switch {
	case v.elems != nil:
		return fmt.Sprintf("[%d]", len(v.elems))
	case v.members != nil:
		return "{...}"
	default:
		return v.scalar
	}
}

// child is one -var-list-children entry.
type child struct {
	exp string
	typ string
	v   *value
}

func (v *value) children() []child {
	switch {
	case v.class:
		return []child{{exp: "public", v: &value{members: v.members}}}
	case v.members != nil:
		out := make([]child, len(v.members))
		for i, m := range v.members {
			out[i] = child{exp: m.name, typ: m.v.typ, v: m.v}
		}
		return out
	case v.elems != nil:
		out := make([]child, len(v.elems))
		for i, e := range v.elems {
			out[i] = child{exp: strconv.Itoa(i), typ: e.typ, v: e}
		}
		return out
	default:
		return nil
	}
}

func (v *value) clone() *value {
	c := &value{typ: v.typ, scalar: v.scalar, class: v.class}
	if v.members != nil {
		c.members = make([]member, len(v.members))
		for i, m := range v.members {
			c.members[i] = member{name: m.name, v: m.v.clone()}
		}
	}
	if v.elems != nil {
		c.elems = make([]*value, len(v.elems))
		for i, e := range v.elems {
			c.elems[i] = e.clone()
		}
	}
	return c
}

func (v *value) member(name string) *value {
	for _, m := range v.members {
		if m.name == name {
			return m.v
		}
	}
	return nil
}

// assign stores src into v, converting numbers to v's type the way the
// debugger does: an int receiving 3.7 becomes 3.
func (v *value) assign(src *value) error {
	if v.composite() || src.composite() {
		if v.typ != src.typ {
			return fmt.Errorf("Invalid cast.")
		}
		*v = *src.clone()
		return nil
	}
	n, err := strconv.ParseFloat(src.scalar, 64)
	if err != nil {
		if v.typ == "" || v.typ == "void" {
			*v = *src.clone()
			return nil
		}
		return fmt.Errorf("Invalid number \"%s\".", src.scalar)
	}
	switch v.typ {
	case "int", "long":
		v.scalar = strconv.Itoa(int(n))
	case "float", "double":
		v.scalar = formatFloat(n)
	case "", "void":
		*v = *src.clone()
	default:
		v.scalar = src.scalar
	}
	return nil
}

// scope holds the named locals of one frame in declaration order.
type scope struct {
	names []string
	args  map[string]bool
	vars  map[string]*value
}

func newScope() *scope {
	return &scope{vars: make(map[string]*value), args: make(map[string]bool)}
}

func (s *scope) add(name string, v *value, arg bool) {
	s.names = append(s.names, name)
	s.vars[name] = v
	if arg {
		s.args[name] = true
	}
}

// registers is a register file; names keep backend numbering, "" marks an
// unnamed slot.
type registers struct {
	names  []string
	values map[string]string
}

func (r *registers) has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// evaluator resolves expressions against a scope, a register file and the
// session's convenience variables.
type evaluator struct {
	scope *scope
	regs  *registers
	conv  map[string]*value
}

// eval evaluates expr, performing an assignment when expr contains one.
func (e *evaluator) eval(expr string) (*value, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{"==", "!="} {
		if lhs, rhs, ok := strings.Cut(expr, op); ok {
			return e.compare(op, lhs, rhs)
		}
	}
	if lhs, rhs, ok := splitAssign(expr); ok {
		return e.assign(lhs, rhs)
	}
	if strings.Contains(expr, "+") {
		sum := 0.0
		isFloat := false
		for _, part := range strings.Split(expr, "+") {
			v, err := e.operand(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			n, err := strconv.ParseFloat(v.scalar, 64)
			if err != nil {
				return nil, fmt.Errorf("Argument to arithmetic operation not a number or boolean.")
			}
			if v.typ == "float" || v.typ == "double" {
				isFloat = true
			}
			sum += n
		}
		if isFloat {
			return floatVal(sum), nil
		}
		return intVal(int(sum)), nil
	}
	return e.operand(expr)
}

func (e *evaluator) compare(op, lhs, rhs string) (*value, error) {
	l, err := e.eval(lhs)
	if err != nil {
		return nil, err
	}
	r, err := e.eval(rhs)
	if err != nil {
		return nil, err
	}
	equal := l.scalar == r.scalar
	if ln, err := strconv.ParseFloat(l.scalar, 64); err == nil {
		if rn, err := strconv.ParseFloat(r.scalar, 64); err == nil {
			equal = ln == rn
		}
	}
	if equal == (op == "==") {
		return intVal(1), nil
	}
	return intVal(0), nil
}

func splitAssign(expr string) (string, string, bool) {
	i := strings.Index(expr, "=")
	if i <= 0 || strings.HasPrefix(expr[i:], "==") || strings.ContainsAny(expr[i-1:i], "!<>=") {
		return "", "", false
	}
	return strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+1:]), true
}

func (e *evaluator) assign(lhs, rhs string) (*value, error) {
	src, err := e.eval(rhs)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(lhs, "$") {
		name := lhs[1:]
		if e.regs != nil && e.regs.has(name) {
			dst := &value{typ: "long", scalar: e.regs.values[name]}
			if err := dst.assign(src); err != nil {
				return nil, err
			}
			e.regs.values[name] = dst.scalar
			return dst, nil
		}
		e.conv[name] = src.clone()
		return e.conv[name], nil
	}
	dst, err := e.operand(lhs)
	if err != nil {
		return nil, err
	}
	if err := dst.assign(src); err != nil {
		return nil, err
	}
	return dst, nil
}

func (e *evaluator) operand(s string) (*value, error) {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return nil, fmt.Errorf("A syntax error in expression, near `'.")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return intVal(n), nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return &value{typ: "double", scalar: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	}
	if strings.HasPrefix(s, "$") {
		name := s[1:]
		if e.regs != nil && e.regs.has(name) {
			return &value{typ: "long", scalar: e.regs.values[name]}, nil
		}
		if v, ok := e.conv[name]; ok {
			return v, nil
		}
		return &value{typ: "void", scalar: "void"}, nil
	}
	return e.path(s)
}

// path resolves a.b, (a).b, a[2] and combinations of them.
func (e *evaluator) path(s string) (*value, error) {
	s = strings.NewReplacer("(", "", ")", "").Replace(s)
	head := s
	rest := ""
	if i := strings.IndexAny(s, ".["); i >= 0 {
		head, rest = s[:i], s[i:]
	}
	var v *value
	ok := false
	if e.scope != nil {
		v, ok = e.scope.vars[head]
	}
	if !ok {
		return nil, fmt.Errorf("No symbol \"%s\" in current context.", head)
	}
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			name := rest[:end]
			rest = rest[end:]
			m := v.member(name)
			if m == nil {
				return nil, fmt.Errorf("There is no member named %s.", name)
			}
			v = m
		case '[':
			end := strings.Index(rest, "]")
			if end < 0 {
				return nil, fmt.Errorf("A syntax error in expression, near `%s'.", rest)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 || idx >= len(v.elems) {
				return nil, fmt.Errorf("no such vector element")
			}
			v = v.elems[idx]
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("A syntax error in expression, near `%s'.", rest)
		}
	}
	return v, nil
}
