package workflowdsl

import (
	"fmt"
	"log/slog"
)

// HostFunc is a host-provided external function. Structured arguments (e.g.
// strings to send to an LLM) are resolved by the host from side channels
// keyed by identifier; the DSL itself only threads i64 values and
// identifiers through (spec §4.6).
type HostFunc func(args []Value) (int64, error)

// FunctionTable maps external function names to their host implementation.
type FunctionTable map[string]HostFunc

// Registers is the pure-integer scalar register file (spec §3.5).
type Registers map[string]int64

// Snapshot is yielded after each executed step by the range-over-func
// iterator below.
type Snapshot struct {
	StepName  string
	Registers Registers
}

func (r Registers) clone() Registers {
	out := make(Registers, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ErrUnknownFunction is returned when an Action names a function absent from
// the FunctionTable — spec §4.6: "if absent, fail loudly".
type ErrUnknownFunction struct{ Name string }

func (e ErrUnknownFunction) Error() string {
	return fmt.Sprintf("workflowdsl: unknown function %q", e.Name)
}

// Engine executes a parsed Workflow step-by-step, synchronously, against a
// FunctionTable (spec §4.6 "Execution model"). The workflow is restartable
// only from its beginning: a fresh Engine must be constructed per run.
type Engine struct {
	workflow  *Workflow
	functions FunctionTable
	registers Registers
}

// NewEngine constructs an Engine for workflow, ready to execute from step 0.
func NewEngine(workflow *Workflow, functions FunctionTable) *Engine {
	return &Engine{workflow: workflow, functions: functions, registers: Registers{}}
}

// Registers returns the current register snapshot (a copy).
func (e *Engine) Registers() Registers { return e.registers.clone() }

// Run executes every step to completion, draining the iterator, and returns
// the final register state. Equivalent to ranging Steps to exhaustion.
func (e *Engine) Run() (Registers, error) {
	var runErr error
	for range e.Steps(&runErr) {
	}
	return e.registers, runErr
}

// Steps returns a range-over-func iterator yielding a Snapshot after each
// top-level step completes, so callers (the job execution engine) can
// interleave side effects between steps. errOut is set if execution aborts;
// iteration stops early in that case.
func (e *Engine) Steps(errOut *error) func(yield func(Snapshot) bool) {
	return func(yield func(Snapshot) bool) {
		for _, step := range e.workflow.Steps {
			if err := e.execBody(step.Body); err != nil {
				if errOut != nil {
					*errOut = fmt.Errorf("workflowdsl: step %q: %w", step.Name, err)
				}
				return
			}
			if !yield(Snapshot{StepName: step.Name, Registers: e.registers.clone()}) {
				return
			}
		}
	}
}

func (e *Engine) execBody(body []StepBody) error {
	for _, item := range body {
		if err := e.execItem(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) execItem(item StepBody) error {
	switch item.Kind {
	case KindRegisterOp:
		return e.execRegisterOp(*item.RegisterOp)
	case KindCondition:
		return e.execCondition(*item.Condition)
	case KindForLoop:
		return e.execForLoop(*item.ForLoop)
	case KindAction:
		_, err := e.callFunction(*item.Action)
		return err
	case KindComposite:
		return e.execBody(item.Composite)
	default:
		return fmt.Errorf("workflowdsl: unknown step body kind %v", item.Kind)
	}
}

func (e *Engine) execRegisterOp(op RegisterOp) error {
	if op.Value.FnCall != nil {
		result, err := e.callFunction(*op.Value.FnCall)
		if err != nil {
			// spec §4.6: function call results must down-cast; failure -> log + default 0.
			slog.Warn("workflowdsl: function call in register assignment failed, defaulting to 0", "register", op.Register, "function", op.Value.FnCall.Name, "error", err)
			e.registers[op.Register] = 0
			return nil
		}
		e.registers[op.Register] = result
		return nil
	}

	v, err := e.evalParam(*op.Value.Literal)
	if err != nil {
		return err
	}
	e.registers[op.Register] = v
	return nil
}

func (e *Engine) execCondition(c Condition) error {
	ok, err := e.evalExpression(c.Expr)
	if err != nil {
		return err
	}
	if ok {
		return e.execBody(c.Body)
	}
	return nil
}

func (e *Engine) execForLoop(f ForLoop) error {
	start, err := e.evalParam(f.Start)
	if err != nil {
		return err
	}
	end, err := e.evalParam(f.End)
	if err != nil {
		return err
	}

	for i := start; i <= end; i++ {
		e.registers[f.Var] = i
		if err := e.execBody(f.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) callFunction(call ExternalFnCall) (int64, error) {
	fn, ok := e.functions[call.Name]
	if !ok {
		return 0, ErrUnknownFunction{Name: call.Name}
	}

	args := make([]Value, len(call.Args))
	for i, p := range call.Args {
		pCopy := p
		args[i] = Value{Literal: &pCopy}
	}

	return fn(args)
}

// evalParam resolves a literal Param to an i64: numbers pass through,
// registers are read, booleans become 1 or 0, and strings/identifiers are
// not numeric and return an error — they are only meaningful to host
// functions via Value.
func (e *Engine) evalParam(p Param) (int64, error) {
	switch p.Kind {
	case ParamNumber:
		return p.Number, nil
	case ParamRegister:
		return e.registers[p.Register], nil
	case ParamBoolean:
		if p.Boolean {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("workflowdsl: parameter %+v is not a numeric register value", p)
	}
}

func (e *Engine) evalExpression(expr Expression) (bool, error) {
	left, err := e.evalParam(expr.Left)
	if err != nil {
		return false, err
	}
	right, err := e.evalParam(expr.Right)
	if err != nil {
		return false, err
	}

	switch expr.Op {
	case CmpEq:
		return left == right, nil
	case CmpNe:
		return left != right, nil
	case CmpLt:
		return left < right, nil
	case CmpGt:
		return left > right, nil
	case CmpLe:
		return left <= right, nil
	case CmpGe:
		return left >= right, nil
	default:
		return false, fmt.Errorf("workflowdsl: unknown comparison operator %q", expr.Op)
	}
}
