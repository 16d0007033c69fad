// Package mutation writes variables and registers and voids every variable
// reference handed out before the write.
package mutation

import (
	"context"

	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/errors"
	"github.com/ctagard/cuda-dap/internal/resolver"
)

// AreaVariables is the invalidated area reported after every write.
const AreaVariables = "variables"

// Result is the value the backend reports after a write.
type Result struct {
	Value string
	Type  string
}

// Coordinator performs writes. invalidated is called after the generation
// advanced and before SetVariable returns, so the front end sees the
// invalidation before the response.
type Coordinator struct {
	res         *resolver.Resolver
	invalidated func(areas []string)
	logger      *zap.Logger
}

// New returns a coordinator writing through res.
func New(res *resolver.Resolver, invalidated func(areas []string), logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{res: res, invalidated: invalidated, logger: logger}
}

// SetVariable assigns value to the child called name of parentRef. On
// success the returned value is the backend's rendering of the new value,
// which may differ from the text written (an int receiving 3.7 reads back
// as 3). A rejected write leaves the generation untouched.
func (c *Coordinator) SetVariable(ctx context.Context, parentRef int, name, value string) (Result, error) {
	h, v, err := c.res.Lookup(ctx, parentRef, name)
	if err != nil {
		return Result{}, err
	}

	var written string
	switch {
	case v.VarObj != "":
		written, err = c.res.AssignVarObj(ctx, h.Frame, v.VarObj, value)
	case v.Register >= 0:
		written, err = c.res.WriteRegister(ctx, h.Frame, v.Name, value)
	default:
		return Result{}, errors.WriteRejected(name, value, errors.InvalidParameter("name", name, "a writable variable or register"))
	}
	if err != nil {
		if errors.Is(err, errors.CodeBackendExited) {
			return Result{}, err
		}
		return Result{}, errors.WriteRejected(name, value, err)
	}

	c.logger.Debug("variable written",
		zap.String("name", name), zap.String("requested", value), zap.String("value", written))

	c.res.Invalidate(ctx)
	if c.invalidated != nil {
		c.invalidated([]string{AreaVariables})
	}
	return Result{Value: written, Type: v.Type}, nil
}
