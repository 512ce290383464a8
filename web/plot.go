package web

import (
	"bytes"
	"html/template"
	"math"

	"github.com/jnb666/fruitnet/nnet"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// series is one line on a chart, values are multiplied by scale for display
type series struct {
	name  string
	scale float64
	value func(nnet.Stats) float64
}

var (
	lossSeries = []series{
		{"training loss", 1, func(s nnet.Stats) float64 { return s.Loss }},
		{"validation loss", 1, func(s nnet.Stats) float64 { return s.ValLoss }},
	}
	accuracySeries = []series{
		{"training %", 100, func(s nnet.Stats) float64 { return s.TrainAcc }},
		{"validation %", 100, func(s nnet.Stats) float64 { return s.ValAcc }},
		{"validation avg %", 100, func(s nnet.Stats) float64 { return s.ValAvg }},
	}
)

// chart renders an SVG line plot of the series against epoch number. The y axis starts at zero.
func chart(stats []nnet.Stats, lines []series, width, height int) template.HTML {
	plt, err := plot.New()
	if err != nil {
		return errorHTML(err)
	}
	small, err := vg.MakeFont("Helvetica", 10)
	if err != nil {
		return errorHTML(err)
	}
	medium, err := vg.MakeFont("Helvetica", 12)
	if err != nil {
		return errorHTML(err)
	}
	plt.X.Tick.Label.Font, plt.Y.Tick.Label.Font = small, small
	plt.Legend.Font, plt.Legend.Top = medium, true
	plt.X.Padding, plt.Y.Padding = 0, 0
	plt.Add(plotter.NewGrid())

	xmax, ymax := 1.0, 0.0
	for i, ser := range lines {
		pts := make(plotter.XYs, len(stats))
		for j, s := range stats {
			pts[j].X, pts[j].Y = float64(s.Epoch), ser.value(s)*ser.scale
			xmax, ymax = math.Max(xmax, pts[j].X), math.Max(ymax, pts[j].Y)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errorHTML(err)
		}
		line.Width = 2
		line.Color = plotutil.Color(i)
		plt.Add(line)
		plt.Legend.Add(ser.name+" ", line)
	}
	plt.X.Min, plt.X.Max = 1, xmax
	plt.Y.Min, plt.Y.Max = 0, ymax

	writer, err := plt.WriterTo(vg.Points(float64(width)), vg.Points(float64(height)), "svg")
	if err != nil {
		return errorHTML(err)
	}
	var buf bytes.Buffer
	if _, err = writer.WriteTo(&buf); err != nil {
		return errorHTML(err)
	}
	return template.HTML(buf.String())
}

func errorHTML(err error) template.HTML {
	return template.HTML("<p class=\"error\">" + template.HTMLEscapeString(err.Error()) + "</p>")
}
