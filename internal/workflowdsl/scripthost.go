package workflowdsl

import (
	"fmt"

	"github.com/rakunlabs/shinkai/internal/scripting"
)

// NewScriptedEngine builds an Engine whose function table includes
// run_script(name) alongside extra: name selects a JS program from scripts,
// the engine's current registers are exposed to it via getVar(register) and
// inputs are set as VM globals, and the script's global `result` becomes
// the call's return value (spec §4.6 "run_script is one of the external
// functions a workflow may call").
func NewScriptedEngine(workflow *Workflow, scripts map[string]string, inputs map[string]any, extra FunctionTable) *Engine {
	var engine *Engine

	fns := FunctionTable{}
	for name, fn := range extra {
		fns[name] = fn
	}
	fns["run_script"] = func(args []Value) (int64, error) {
		if len(args) == 0 || args[0].Literal == nil || args[0].Literal.Kind != ParamString {
			return 0, fmt.Errorf("workflowdsl: run_script requires a string argument naming the script")
		}
		name := args[0].Literal.String
		src, ok := scripts[name]
		if !ok {
			return 0, fmt.Errorf("workflowdsl: unknown script %q", name)
		}

		regs := engine.Registers()
		lookup := scripting.VarLookup(func(key string) (string, error) {
			val, ok := regs[key]
			if !ok {
				return "", fmt.Errorf("workflowdsl: script referenced unknown register %q", key)
			}
			return fmt.Sprintf("%d", val), nil
		})
		return scripting.RunScript(src, inputs, lookup)
	}

	engine = NewEngine(workflow, fns)
	return engine
}
