// Package sandbox executes model-generated analysis scripts inside an
// embedded Starlark interpreter. The interpreter scope contains only two
// capability handles (tab for tabular operations, plot for 2-D charts) and
// the loaded datasets under their stable identifiers; no filesystem,
// network, environment, or process state is reachable from generated code.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"parusdata/tabular"
)

// ResultVariable is the designated output variable generated code must set
// to communicate its textual or numeric answer back to the host.
const ResultVariable = "final_result"

// defaultMaxSteps bounds interpreter work so a runaway loop in generated
// code cannot hang the request.
const defaultMaxSteps = 10_000_000

// Result is the outcome of one successful execution.
type Result struct {
	Output         string // value of the designated output variable, as text
	HasOutput      bool   // false when the variable was absent or empty
	OutputIsString bool   // the variable held a string, not a number or collection
	Chart          []byte // PNG bytes when a figure was drawn
}

// Interpreter runs analysis scripts with a fixed step budget.
type Interpreter struct {
	maxSteps uint64
}

// NewInterpreter creates an Interpreter with the default step budget.
func NewInterpreter() *Interpreter {
	return &Interpreter{maxSteps: defaultMaxSteps}
}

// Execute runs code against the given read-only tables. Each call builds a
// fresh scope and a fresh figure registry, so executions never observe one
// another. The context cancels long-running scripts.
func (in *Interpreter) Execute(ctx context.Context, code string, tables map[string]*tabular.Table) (*Result, error) {
	plotter := NewPlotter()

	predeclared := starlark.StringDict{
		"tab":  TabModule(),
		"plot": plotter.Module(),
	}
	for name, t := range tables {
		predeclared[name] = &tableValue{name: name, tab: t}
	}
	predeclared.Freeze()

	thread := &starlark.Thread{
		Name: "analysis",
		// Generated code is told not to print; anything it prints anyway
		// is dropped rather than leaked to the process output.
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(in.maxSteps)

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("execution cancelled: " + ctx.Err().Error())
		case <-watchdogDone:
		}
	}()

	globals, err := starlark.ExecFile(thread, "analysis.star", code, predeclared)
	if err != nil {
		return nil, formatExecError(err)
	}

	res := &Result{}
	if v, ok := globals[ResultVariable]; ok && v != starlark.None {
		res.Output = valueText(v)
		res.HasOutput = strings.TrimSpace(res.Output) != ""
		_, res.OutputIsString = v.(starlark.String)
	}

	if plotter.HasFigures() {
		chart, renderErr := plotter.RenderCurrent()
		plotter.Clear()
		if renderErr != nil {
			return nil, renderErr
		}
		res.Chart = chart
	}

	return res, nil
}

// formatExecError keeps the error kind, message, and interpreter backtrace
// so the repair prompt can point the model at the failing line.
func formatExecError(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("EvalError: %s\nTraceback:\n%s", evalErr.Msg, evalErr.Backtrace())
	}
	return fmt.Errorf("SyntaxError: %v", err)
}

// valueText renders a Starlark value for display. Strings are unquoted;
// everything else uses the interpreter's representation.
func valueText(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
