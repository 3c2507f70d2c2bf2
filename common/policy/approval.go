// Package policy decides whether a reservation request is approved on
// creation, using a CEL expression over the request.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultApprovalExpr approves only pre-authorized requests
const DefaultApprovalExpr = "request.pre_authorized"

// Request is the view of a reservation request exposed to the expression
type Request struct {
	AssetID         string
	HolderID        string
	Priority        int
	DurationMinutes int64
	AutoExtend      bool
	PreAuthorized   bool
}

func (r Request) vars() map[string]interface{} {
	return map[string]interface{}{
		"request": map[string]interface{}{
			"asset_id":         r.AssetID,
			"holder_id":        r.HolderID,
			"priority":         int64(r.Priority),
			"duration_minutes": r.DurationMinutes,
			"auto_extend":      r.AutoExtend,
			"pre_authorized":   r.PreAuthorized,
		},
	}
}

// ApprovalPolicy is a compiled approval expression
type ApprovalPolicy struct {
	expr string
	prg  cel.Program
}

// NewApprovalPolicy compiles expr. An empty expr uses DefaultApprovalExpr.
func NewApprovalPolicy(expr string) (*ApprovalPolicy, error) {
	if expr == "" {
		expr = DefaultApprovalExpr
	}

	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("approval expression must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &ApprovalPolicy{expr: expr, prg: prg}, nil
}

// Expr returns the source expression
func (p *ApprovalPolicy) Expr() string {
	return p.expr
}

// Approve evaluates the policy for req
func (p *ApprovalPolicy) Approve(req Request) (bool, error) {
	out, _, err := p.prg.Eval(req.vars())
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}
