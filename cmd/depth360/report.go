package main

import (
	"fmt"
	"io"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"go.viam.com/depth360/loss"
	"go.viam.com/depth360/model"
	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

type lossReport struct {
	outputs      *model.Outputs
	losses       loss.Losses
	summaries    model.Summaries
	shardedTotal *float64
}

// Table renders every scalar summary, one row per name.
func (r *lossReport) Table() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Summary", "Value"})
	for _, name := range r.summaries.ScalarNames() {
		t.AppendRow(table.Row{name, fmt.Sprintf("%.6f", r.summaries.Scalars[name])})
	}
	if r.shardedTotal != nil {
		t.AppendFooter(table.Row{"sharded total_loss", fmt.Sprintf("%.6f", *r.shardedTotal)})
	}
	return t.Render()
}

// DepthHistogram prints the distribution of the finite full resolution top depth of sample n.
func (r *lossReport) DepthHistogram(w io.Writer, n int) error {
	d := r.outputs.Scales[rimage.Scale0].TopDepth
	if n < 0 || n >= d.Batch() {
		return errors.Errorf("sample %d out of range [0, %d)", n, d.Batch())
	}
	values := make([]float64, 0, d.Height()*d.Width())
	for y := 0; y < d.Height(); y++ {
		for x := 0; x < d.Width(); x++ {
			if v := d.At(n, y, x, 0); utils.IsFinite(v) {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return errors.New("no finite depth values")
	}
	const bins, width = 10, 40
	return histogram.Fprint(w, histogram.Hist(bins, values), histogram.Linear(width))
}

// SavePlot charts the image, smoothness and consistency terms of every scale.
func (r *lossReport) SavePlot(path string) error {
	p := plot.New()
	p.Title.Text = "losses per scale"
	p.Y.Label.Text = "loss"

	series := []struct {
		name  string
		value func(loss.ScaleTerms) float64
	}{
		{"image", loss.ScaleTerms.Image},
		{"depth gradient", loss.ScaleTerms.Smoothness},
		{"top/bottom", loss.ScaleTerms.Consistency},
	}
	barWidth := vg.Points(12)
	for i, s := range series {
		values := make(plotter.Values, 0, rimage.NumScales)
		for _, terms := range r.losses.Scales {
			values = append(values, s.value(terms))
		}
		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return err
		}
		bars.Color = plotutil.Color(i)
		bars.Offset = barWidth * vg.Length(i-1)
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}
	names := make([]string, 0, rimage.NumScales)
	for _, level := range rimage.ScaleLevels {
		names = append(names, level.String())
	}
	p.NominalX(names...)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// planTable lists the steps of a run and its learning rate phases.
func planTable(numSamples int, s model.Schedule) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Samples", "Steps/epoch", "Total steps"})
	t.AppendRow(table.Row{numSamples, s.StepsPerEpoch, s.TotalSteps})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Step", "Learning rate", ""})
	first := int64(float64(s.TotalSteps) * 3 / 5)
	second := int64(float64(s.TotalSteps) * 4 / 5)
	for _, step := range []int64{0, first + 1, second + 1} {
		if step > s.TotalSteps {
			continue
		}
		t.AppendRow(table.Row{step, fmt.Sprintf("%g", s.RateAt(step)), ""})
	}
	if model.CheckpointInterval < s.TotalSteps {
		t.AppendFooter(table.Row{"checkpoints", s.TotalSteps / model.CheckpointInterval, ""})
	}
	return t.Render()
}
