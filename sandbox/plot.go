package sandbox

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"parusdata/tabular"
)

// figure is one recorded chart request. The registry keeps every figure the
// generated code drew; only the most recent one is rasterized.
type figure struct {
	kind   string // line, bar, pie, scatter
	title  string
	xLabel string
	yLabel string
	labels []string
	xs     []float64
	ys     []float64
}

// Plotter is the 2-D plotting capability handle. One instance is created
// per execution so concurrent runs never share figure state.
type Plotter struct {
	figures []figure
}

// NewPlotter creates an empty figure registry.
func NewPlotter() *Plotter {
	return &Plotter{}
}

// Module exposes the plotting functions to generated code.
func (p *Plotter) Module() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "plot",
		Members: starlark.StringDict{
			"line":    starlark.NewBuiltin("plot.line", p.plotLine),
			"bar":     starlark.NewBuiltin("plot.bar", p.plotBar),
			"pie":     starlark.NewBuiltin("plot.pie", p.plotPie),
			"scatter": starlark.NewBuiltin("plot.scatter", p.plotScatter),
		},
	}
}

// HasFigures reports whether generated code drew anything.
func (p *Plotter) HasFigures() bool {
	return len(p.figures) > 0
}

// Clear empties the figure registry so the next run starts clean.
func (p *Plotter) Clear() {
	p.figures = nil
}

func (p *Plotter) plotLine(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.recordXY("line", b, args, kwargs)
}

func (p *Plotter) plotScatter(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.recordXY("scatter", b, args, kwargs)
}

func (p *Plotter) recordXY(kind string, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	var title, xLabel, yLabel string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"x", &x, "y", &y, "title?", &title, "xlabel?", &xLabel, "ylabel?", &yLabel); err != nil {
		return nil, err
	}

	ys, err := floatSeries(b.Name(), "y", y)
	if err != nil {
		return nil, err
	}
	xs, labels, err := axisSeries(b.Name(), x)
	if err != nil {
		return nil, err
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%s: x has %d points but y has %d", b.Name(), len(xs), len(ys))
	}

	p.figures = append(p.figures, figure{
		kind: kind, title: title, xLabel: xLabel, yLabel: yLabel,
		labels: labels, xs: xs, ys: ys,
	})
	return starlark.None, nil
}

func (p *Plotter) plotBar(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.recordLabeled("bar", b, args, kwargs)
}

func (p *Plotter) plotPie(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return p.recordLabeled("pie", b, args, kwargs)
}

func (p *Plotter) recordLabeled(kind string, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var labelsV, valuesV starlark.Value
	var title string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"labels", &labelsV, "values", &valuesV, "title?", &title); err != nil {
		return nil, err
	}

	labels, err := stringSeries(b.Name(), "labels", labelsV)
	if err != nil {
		return nil, err
	}
	values, err := floatSeries(b.Name(), "values", valuesV)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(values) {
		return nil, fmt.Errorf("%s: %d labels but %d values", b.Name(), len(labels), len(values))
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: empty series", b.Name())
	}

	p.figures = append(p.figures, figure{kind: kind, title: title, labels: labels, ys: values})
	return starlark.None, nil
}

// RenderCurrent rasterizes the most recently drawn figure to PNG bytes.
func (p *Plotter) RenderCurrent() ([]byte, error) {
	if len(p.figures) == 0 {
		return nil, fmt.Errorf("no figures to render")
	}
	fig := p.figures[len(p.figures)-1]

	var buf bytes.Buffer
	var err error
	switch fig.kind {
	case "bar":
		err = renderBar(fig, &buf)
	case "pie":
		err = renderPie(fig, &buf)
	default:
		err = renderXY(fig, &buf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s chart: %w", fig.kind, err)
	}
	return buf.Bytes(), nil
}

func renderXY(fig figure, buf *bytes.Buffer) error {
	series := chart.ContinuousSeries{
		XValues: fig.xs,
		YValues: fig.ys,
	}
	if fig.kind == "scatter" {
		series.Style = chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    5,
		}
	}

	graph := chart.Chart{
		Title:  fig.title,
		XAxis:  chart.XAxis{Name: fig.xLabel},
		YAxis:  chart.YAxis{Name: fig.yLabel},
		Series: []chart.Series{series},
	}
	if len(fig.labels) > 0 {
		ticks := make([]chart.Tick, len(fig.labels))
		for i, l := range fig.labels {
			ticks[i] = chart.Tick{Value: float64(i), Label: l}
		}
		graph.XAxis.Ticks = ticks
	}
	return graph.Render(chart.PNG, buf)
}

func renderBar(fig figure, buf *bytes.Buffer) error {
	bars := make([]chart.Value, len(fig.ys))
	for i, v := range fig.ys {
		bars[i] = chart.Value{Value: v, Label: fig.labels[i]}
	}
	graph := chart.BarChart{
		Title:    fig.title,
		Height:   512,
		BarWidth: 60,
		Bars:     bars,
	}
	return graph.Render(chart.PNG, buf)
}

func renderPie(fig figure, buf *bytes.Buffer) error {
	values := make([]chart.Value, len(fig.ys))
	for i, v := range fig.ys {
		values[i] = chart.Value{Value: v, Label: fig.labels[i]}
	}
	graph := chart.PieChart{
		Title:  fig.title,
		Width:  512,
		Height: 512,
		Values: values,
	}
	return graph.Render(chart.PNG, buf)
}

// floatSeries converts a Starlark sequence to float64 values. Numeric
// strings are tolerated because table cells keep their original text.
func floatSeries(fn, arg string, v starlark.Value) ([]float64, error) {
	iter := starlark.Iterate(v)
	if iter == nil {
		return nil, fmt.Errorf("%s: %s is not iterable", fn, arg)
	}
	defer iter.Done()

	var out []float64
	var item starlark.Value
	for iter.Next(&item) {
		switch x := item.(type) {
		case starlark.Float:
			out = append(out, float64(x))
		case starlark.Int:
			f, _ := starlark.AsFloat(x)
			out = append(out, f)
		case starlark.String:
			if f, ok := tabular.Float(string(x)); ok {
				out = append(out, f)
			} else {
				return nil, fmt.Errorf("%s: %s contains non-numeric value %q", fn, arg, string(x))
			}
		default:
			return nil, fmt.Errorf("%s: %s contains non-numeric value of type %s", fn, arg, item.Type())
		}
	}
	return out, nil
}

// stringSeries converts a Starlark sequence to labels.
func stringSeries(fn, arg string, v starlark.Value) ([]string, error) {
	iter := starlark.Iterate(v)
	if iter == nil {
		return nil, fmt.Errorf("%s: %s is not iterable", fn, arg)
	}
	defer iter.Done()

	var out []string
	var item starlark.Value
	for iter.Next(&item) {
		if s, ok := starlark.AsString(item); ok {
			out = append(out, s)
		} else {
			out = append(out, item.String())
		}
	}
	return out, nil
}

// axisSeries interprets an x axis that may be numeric or categorical.
// Categorical values become index positions with tick labels.
func axisSeries(fn string, v starlark.Value) (xs []float64, labels []string, err error) {
	if fs, ferr := floatSeries(fn, "x", v); ferr == nil {
		return fs, nil, nil
	}
	labels, err = stringSeries(fn, "x", v)
	if err != nil {
		return nil, nil, err
	}
	xs = make([]float64, len(labels))
	for i := range labels {
		xs[i] = float64(i)
	}
	return xs, labels, nil
}
