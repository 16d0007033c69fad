package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/focus"
	"github.com/ctagard/cuda-dap/internal/mi"
)

// Scope and register group names shown to the front end.
const (
	ScopeLocals    = "Local"
	ScopeRegisters = "Registers"
	GroupSASS      = "SASS"
	GroupMachine   = "Machine"
)

// sassRegister matches the general, uniform and predicate registers of the
// device instruction set.
var sassRegister = regexp.MustCompile(`^(R\d+|RZ|UR\d+|URZ|P\d+|PT|UP\d+|UPT)$`)

// Variable is one resolved child of a reference.
type Variable struct {
	Name         string
	Value        string
	Type         string
	EvaluateName string
	// Ref is the reference of the variable's own children, 0 for leaves.
	Ref int
	// VarObj is the backend variable object, empty for registers and
	// register groups.
	VarObj string
	// Register is the backend register number, -1 for non-registers.
	Register int
}

// DAP converts v to its protocol form.
func (v Variable) DAP() dap.Variable {
	return dap.Variable{
		Name:               v.Name,
		Value:              v.Value,
		Type:               v.Type,
		EvaluateName:       v.EvaluateName,
		VariablesReference: v.Ref,
	}
}

// ScopesFor returns the scopes of a frame: always Local, plus Registers when
// the backend reports registers for the frame's context.
func (r *Resolver) ScopesFor(ctx context.Context, frameID int) ([]dap.Scope, error) {
	frame, err := r.frames.lookup(frameID)
	if err != nil {
		return nil, err
	}

	locals := r.handles.Issue(Handle{Kind: HandleLocals, Frame: frame})
	scopes := []dap.Scope{{
		Name:               ScopeLocals,
		PresentationHint:   "locals",
		VariablesReference: locals.Ref,
	}}

	regs, err := r.registerNames(ctx, frame)
	if err != nil {
		if errors.Is(err, errors.CodeBackendExited) {
			return nil, err
		}
		r.logger.Debug("no registers for frame", zap.Int("frame", frameID), zap.Error(err))
		return scopes, nil
	}
	if len(regs) > 0 {
		h := r.handles.Issue(Handle{Kind: HandleRegisters, Frame: frame, Registers: regs})
		scopes = append(scopes, dap.Scope{
			Name:               ScopeRegisters,
			PresentationHint:   "registers",
			VariablesReference: h.Ref,
		})
	}
	return scopes, nil
}

// RegisterGroupsFor returns the register groups of a Registers scope. Host
// frames have the single machine group; device frames have the SASS group
// followed by the machine group holding the remaining registers, if any.
func (r *Resolver) RegisterGroupsFor(ref int) ([]*Handle, error) {
	h, err := r.handles.Get(ref)
	if err != nil {
		return nil, err
	}
	if h.Kind != HandleRegisters {
		return nil, errors.InvalidParameter("variablesReference", ref, "a Registers scope reference")
	}

	if h.groups != nil {
		return h.groups, nil
	}

	if h.Frame.Context.Kind != focus.KindDevice {
		h.groups = []*Handle{r.group(h, GroupMachine, h.Registers)}
		return h.groups, nil
	}
	isSASS := func(reg Register, _ int) bool { return sassRegister.MatchString(reg.Name) }
	h.groups = []*Handle{r.group(h, GroupSASS, lo.Filter(h.Registers, isSASS))}
	if machine := lo.Reject(h.Registers, isSASS); len(machine) > 0 {
		h.groups = append(h.groups, r.group(h, GroupMachine, machine))
	}
	return h.groups, nil
}

func (r *Resolver) group(parent *Handle, name string, regs []Register) *Handle {
	return r.handles.Issue(Handle{Kind: HandleRegisterGroup, Frame: parent.Frame, Group: name, Registers: regs})
}

// Variables resolves the children of any variable reference. Results are
// kept with the handle, so repeated calls return identical results until
// the next invalidation.
func (r *Resolver) Variables(ctx context.Context, ref int) ([]Variable, error) {
	h, err := r.handles.Get(ref)
	if err != nil {
		return nil, err
	}
	if h.children != nil {
		return h.children, nil
	}

	var vars []Variable
	switch h.Kind {
	case HandleLocals:
		vars, err = r.locals(ctx, h)
	case HandleRegisters:
		vars, err = r.registerScope(ctx, h)
	case HandleRegisterGroup:
		vars, err = r.registerValues(ctx, h.Frame, h.Registers)
	case HandleVarObj:
		vars, err = r.ChildrenOf(ctx, h)
	default:
		err = fmt.Errorf("unhandled handle kind %d", h.Kind)
	}
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = []Variable{}
	}
	h.children = vars
	return vars, nil
}

// Lookup finds the child called name under ref.
func (r *Resolver) Lookup(ctx context.Context, ref int, name string) (*Handle, Variable, error) {
	vars, err := r.Variables(ctx, ref)
	if err != nil {
		return nil, Variable{}, err
	}
	h, _ := r.handles.Get(ref)
	v, ok := lo.Find(vars, func(v Variable) bool { return v.Name == name })
	if !ok {
		return nil, Variable{}, errors.InvalidParameter("name", name, "a child of the given variables reference")
	}
	return h, v, nil
}

func (r *Resolver) locals(ctx context.Context, h *Handle) ([]Variable, error) {
	opts, err := r.frameOptions(ctx, h.Frame)
	if err != nil {
		return nil, err
	}
	reply, err := r.cmd.Execute(ctx, "-stack-list-variables"+opts+" --no-values")
	if err != nil {
		return nil, err
	}

	var vars []Variable
	for _, t := range reply.Results.Tuples("variables") {
		name := t.String("name")
		created, err := r.cmd.Execute(ctx, "-var-create"+opts+" - * "+mi.Quote(name))
		if err != nil {
			if errors.Is(err, errors.CodeBackendExited) {
				return nil, err
			}
			vars = append(vars, Variable{Name: name, Value: fmt.Sprintf("<%v>", err), Register: -1})
			continue
		}
		r.handles.TrackRoot(created.Results.String("name"))
		vars = append(vars, r.fromVarObj(created.Results, h.Frame, name, name))
	}
	return vars, nil
}

// ChildrenOf lists the members of a composite variable object. Access
// specifier pseudo-children (public, private, protected) are flattened
// into their members.
func (r *Resolver) ChildrenOf(ctx context.Context, h *Handle) ([]Variable, error) {
	if h.Kind != HandleVarObj {
		return nil, errors.InvalidParameter("variablesReference", h.Ref, "a composite variable reference")
	}
	if err := r.SelectFrame(ctx, h.Frame); err != nil {
		return nil, err
	}
	return r.listChildren(ctx, h.Frame, h.VarObj, h.Expr, h.Type)
}

func (r *Resolver) listChildren(ctx context.Context, frame Frame, varobj, parentExpr, parentType string) ([]Variable, error) {
	reply, err := r.cmd.Execute(ctx, "-var-list-children --all-values "+varobj)
	if err != nil {
		return nil, err
	}
	var vars []Variable
	for _, c := range reply.Results.Tuples("children") {
		exp := c.String("exp")
		if isAccessSpecifier(exp) && c.String("type") == "" {
			nested, err := r.listChildren(ctx, frame, c.String("name"), parentExpr, parentType)
			if err != nil {
				return nil, err
			}
			vars = append(vars, nested...)
			continue
		}
		vars = append(vars, r.fromVarObj(c, frame, exp, childExpr(parentExpr, parentType, exp)))
	}
	return vars, nil
}

func isAccessSpecifier(exp string) bool {
	return exp == "public" || exp == "private" || exp == "protected"
}

func childExpr(parent, parentType, exp string) string {
	if parent == "" {
		return ""
	}
	if _, err := strconv.Atoi(exp); err == nil {
		return fmt.Sprintf("%s[%s]", parent, exp)
	}
	if strings.HasPrefix(exp, "*") {
		return "*(" + parent + ")"
	}
	if strings.HasSuffix(strings.TrimSpace(parentType), "*") {
		return fmt.Sprintf("(%s)->%s", parent, exp)
	}
	return fmt.Sprintf("(%s).%s", parent, exp)
}

// fromVarObj converts a -var-create reply or a child tuple, issuing a
// reference when the object has children.
func (r *Resolver) fromVarObj(t mi.Tuple, frame Frame, name, expr string) Variable {
	v := Variable{
		Name:         name,
		Value:        t.String("value"),
		Type:         t.String("type"),
		EvaluateName: expr,
		VarObj:       t.String("name"),
		Register:     -1,
	}
	if n, _ := t.Int("numchild"); n > 0 {
		h := r.handles.Issue(Handle{Kind: HandleVarObj, Frame: frame, VarObj: v.VarObj, Expr: expr, Type: v.Type})
		v.Ref = h.Ref
	}
	return v
}

func (r *Resolver) registerNames(ctx context.Context, frame Frame) ([]Register, error) {
	opts, err := r.frameOptions(ctx, frame)
	if err != nil {
		return nil, err
	}
	reply, err := r.cmd.Execute(ctx, "-data-list-register-names"+opts)
	if err != nil {
		return nil, err
	}
	var regs []Register
	for i, name := range reply.Results.Strings("register-names") {
		if name == "" {
			continue
		}
		regs = append(regs, Register{Number: i, Name: name})
	}
	return regs, nil
}

func (r *Resolver) registerScope(ctx context.Context, h *Handle) ([]Variable, error) {
	groups, err := r.RegisterGroupsFor(h.Ref)
	if err != nil {
		return nil, err
	}
	if len(groups) == 1 && groups[0].Group == GroupMachine {
		return r.registerValues(ctx, h.Frame, h.Registers)
	}
	return lo.Map(groups, func(g *Handle, _ int) Variable {
		return Variable{Name: g.Group, Ref: g.Ref, Register: -1}
	}), nil
}

func (r *Resolver) registerValues(ctx context.Context, frame Frame, regs []Register) ([]Variable, error) {
	if len(regs) == 0 {
		return nil, nil
	}
	opts, err := r.frameOptions(ctx, frame)
	if err != nil {
		return nil, err
	}
	numbers := lo.Map(regs, func(reg Register, _ int) string { return strconv.Itoa(reg.Number) })
	reply, err := r.cmd.Execute(ctx, "-data-list-register-values"+opts+" N "+strings.Join(numbers, " "))
	if err != nil {
		return nil, err
	}

	values := make(map[int]string)
	for _, t := range reply.Results.Tuples("register-values") {
		if n, ok := t.Int("number"); ok {
			values[n] = t.String("value")
		}
	}
	return lo.Map(regs, func(reg Register, _ int) Variable {
		return Variable{Name: reg.Name, Value: values[reg.Number], EvaluateName: "$" + reg.Name, Register: reg.Number}
	}), nil
}

// Evaluate evaluates expr in a frame, or in the backend's current context
// when frameID is 0. Composite results get a reference.
func (r *Resolver) Evaluate(ctx context.Context, frameID int, expr string) (Variable, error) {
	if frameID == 0 {
		reply, err := r.cmd.Execute(ctx, "-data-evaluate-expression "+mi.Quote(expr))
		if err != nil {
			return Variable{}, evalError(expr, err)
		}
		return Variable{Name: expr, Value: reply.Results.String("value"), EvaluateName: expr, Register: -1}, nil
	}

	frame, err := r.frames.lookup(frameID)
	if err != nil {
		return Variable{}, err
	}
	opts, err := r.frameOptions(ctx, frame)
	if err != nil {
		return Variable{}, err
	}
	reply, err := r.cmd.Execute(ctx, "-var-create"+opts+" - * "+mi.Quote(expr))
	if err != nil {
		return Variable{}, evalError(expr, err)
	}
	v := r.fromVarObj(reply.Results, frame, expr, expr)
	if v.Ref == 0 {
		if _, err := r.cmd.Execute(ctx, "-var-delete "+v.VarObj); err != nil {
			r.logger.Debug("var-delete failed", zap.String("varobj", v.VarObj), zap.Error(err))
		}
		v.VarObj = ""
	} else {
		r.handles.TrackRoot(v.VarObj)
	}
	return v, nil
}

func evalError(expr string, err error) error {
	if errors.Is(err, errors.CodeBackendExited) {
		return err
	}
	return errors.EvaluationFailed(expr, err)
}

// WriteRegister assigns a register of frame through an expression and
// returns the value the backend reads back.
func (r *Resolver) WriteRegister(ctx context.Context, frame Frame, name, value string) (string, error) {
	opts, err := r.frameOptions(ctx, frame)
	if err != nil {
		return "", err
	}
	reply, err := r.cmd.Execute(ctx, "-data-evaluate-expression"+opts+" "+mi.Quote("$"+name+"="+value))
	if err != nil {
		return "", err
	}
	return reply.Results.String("value"), nil
}

// AssignVarObj assigns a variable object of frame and returns the value the
// backend reports afterwards.
func (r *Resolver) AssignVarObj(ctx context.Context, frame Frame, varobj, value string) (string, error) {
	if err := r.SelectFrame(ctx, frame); err != nil {
		return "", err
	}
	reply, err := r.cmd.Execute(ctx, "-var-assign "+varobj+" "+mi.Quote(value))
	if err != nil {
		return "", err
	}
	return reply.Results.String("value"), nil
}
