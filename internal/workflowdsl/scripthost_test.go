package workflowdsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScriptedEngineRunsJSAgainstRegisters(t *testing.T) {
	src := `
workflow DoubleIt v1 {
  step Compute {
    $R1 = 21
    $R2 = call run_script("double")
  }
}
`
	wf, err := Parse(src)
	require.NoError(t, err)

	scripts := map[string]string{
		"double": `var result = Number(getVar("R1")) * 2`,
	}

	e := NewScriptedEngine(wf, scripts, nil, nil)
	regs, err := e.Run()
	require.NoError(t, err)
	require.Equal(t, int64(21), regs["R1"])
	require.Equal(t, int64(42), regs["R2"])
}

func TestScriptedEngineUnknownScriptFails(t *testing.T) {
	src := `
workflow Missing v1 {
  step S { call run_script("nope") }
}
`
	wf, err := Parse(src)
	require.NoError(t, err)

	e := NewScriptedEngine(wf, map[string]string{}, nil, nil)
	_, err = e.Run()
	require.Error(t, err)
}

func TestScriptedEngineExposesInputsToScript(t *testing.T) {
	src := `
workflow Length v1 {
  step Compute { $R1 = call run_script("length") }
}
`
	wf, err := Parse(src)
	require.NoError(t, err)

	scripts := map[string]string{
		"length": `var result = toString(msg).length`,
	}

	e := NewScriptedEngine(wf, scripts, map[string]any{"msg": []byte("hello")}, nil)
	regs, err := e.Run()
	require.NoError(t, err)
	require.Equal(t, int64(5), regs["R1"])
}
