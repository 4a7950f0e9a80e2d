package workflowdsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndExecuteSimpleWorkflow(t *testing.T) {
	src := `
workflow MyProcess v0.1 {
  step Init { $R1 = 0  $R2 = 5 }
  step Loop { for i in $R1..=$R2 { $R1 = $R1 } }
}
`
	wf, err := Parse(src)
	require.NoError(t, err)
	require.Equal(t, "MyProcess", wf.Name)
	require.Equal(t, "v0.1", wf.Version)
	require.Len(t, wf.Steps, 2)

	e := NewEngine(wf, FunctionTable{})

	var snapshots []Snapshot
	var runErr error
	for snap := range e.Steps(&runErr) {
		snapshots = append(snapshots, snap)
	}
	require.NoError(t, runErr)
	require.Len(t, snapshots, 2)

	final := e.Registers()
	require.Equal(t, int64(0), final["R1"])
	require.Equal(t, int64(5), final["R2"])
}

func TestConditionAndFunctionCall(t *testing.T) {
	src := `
workflow Cond v1 {
  step S {
    $R1 = 10
    if $R1 > 5 {
      call mark(1)
    }
  }
}
`
	wf, err := Parse(src)
	require.NoError(t, err)

	var marked int64 = -1
	fns := FunctionTable{
		"mark": func(args []Value) (int64, error) {
			marked = args[0].Literal.Number
			return 1, nil
		},
	}

	e := NewEngine(wf, fns)
	_, err = e.Run()
	require.NoError(t, err)
	require.Equal(t, int64(1), marked)
}

func TestUnknownFunctionFailsLoudly(t *testing.T) {
	wf, err := Parse(`workflow W v1 { step S { call missing() } }`)
	require.NoError(t, err)

	e := NewEngine(wf, FunctionTable{})
	_, err = e.Run()
	require.Error(t, err)
	var unknown ErrUnknownFunction
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "missing", unknown.Name)
}

func TestRegisterOpFunctionCallFailureDefaultsToZero(t *testing.T) {
	wf, err := Parse(`workflow W v1 { step S { $R1 = call fails() } }`)
	require.NoError(t, err)

	fns := FunctionTable{
		"fails": func(args []Value) (int64, error) {
			return 0, errFailing
		},
	}

	e := NewEngine(wf, fns)
	regs, err := e.Run()
	require.NoError(t, err)
	require.Equal(t, int64(0), regs["R1"])
}

var errFailing = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "intentional test failure" }
