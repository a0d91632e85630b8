package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// ExprEngine compiles expressions with the expr language. It is a lighter
// alternative to Risor for side-effect-free condition and routing
// expressions.
type ExprEngine struct {
	env map[string]any
}

func NewExprEngine(env map[string]any) *ExprEngine {
	return &ExprEngine{env: env}
}

func (e *ExprEngine) Compile(ctx context.Context, code string) (Script, error) {
	// A leading "=" marks an expression in some authoring styles; strip it.
	code = strings.TrimPrefix(code, "=")
	program, err := expr.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	return &ExprScript{engine: e, program: program}, nil
}

type ExprScript struct {
	engine  *ExprEngine
	program *vm.Program
}

func (s *ExprScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	env := make(map[string]any, len(s.engine.env)+len(globals))
	for name, value := range s.engine.env {
		env[name] = value
	}
	for name, value := range globals {
		env[name] = value
	}
	result, err := expr.Run(s.program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return &ExprValue{value: result}, nil
}

type ExprValue struct {
	value any
}

func (v *ExprValue) Value() any {
	return v.value
}

func (v *ExprValue) IsTruthy() bool {
	return Truthy(v.value)
}

func (v *ExprValue) Items() ([]any, error) {
	return ItemsOf(v.value)
}

func (v *ExprValue) String() string {
	if v.value == nil {
		return ""
	}
	switch t := v.value.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", v.value)
	}
}
