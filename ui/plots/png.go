// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"sync"

	"github.com/gomlx/batchtrain/pkg/support/xslices"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PNG is a Plotter that accumulates points and renders them, one line per metric, to an image file.
//
// It is safe for concurrent use.
type PNG struct {
	// Title of the plot.
	Title string

	// Width and Height of the image. Default to 12x6 inches.
	Width, Height vg.Length

	mu         sync.Mutex
	points     Points
	sample     []Point
	incomplete int
}

var _ Plotter = (*PNG)(nil)

// NewPNG returns an empty PNG plotter.
func NewPNG(title string) *PNG {
	return &PNG{
		Title:  title,
		Width:  12 * vg.Inch,
		Height: 6 * vg.Inch,
		points: make(Points),
	}
}

// AddPoint implements Plotter. The point is only plotted after DynamicSampleDone is called.
func (png *PNG) AddPoint(point Point) {
	png.mu.Lock()
	defer png.mu.Unlock()
	png.sample = append(png.sample, point)
}

// DynamicSampleDone implements Plotter.
func (png *PNG) DynamicSampleDone(incomplete bool) {
	png.mu.Lock()
	defer png.mu.Unlock()
	png.points.Add(NewPoints(png.sample))
	png.sample = nil
	if incomplete {
		png.incomplete++
	}
}

// Points returns a copy of the points collected so far.
func (png *PNG) Points() Points {
	png.mu.Lock()
	defer png.mu.Unlock()
	return NewPoints(png.points.Extract())
}

// IncompleteSamples is the number of samples that had NaN or infinite values.
func (png *PNG) IncompleteSamples() int {
	png.mu.Lock()
	defer png.mu.Unlock()
	return png.incomplete
}

// Save renders the points collected so far into filePath. The format is given by the file extension:
// ".png", but also ".svg", ".pdf", ".jpg" are supported.
//
// It returns an error if there are no points to plot.
func (png *PNG) Save(filePath string) error {
	points := png.Points()
	if len(points) == 0 {
		return errors.Errorf("no points to plot into %q", filePath)
	}
	p := plot.New()
	p.Title.Text = png.Title
	p.X.Label.Text = "Epochs"
	p.Y.Label.Text = "Score"
	p.Legend.Top = true

	for ii, name := range points.MetricsNames() {
		var metricPoints []Point
		points.Map(func(pt *Point) {
			if pt.MetricName == name {
				metricPoints = append(metricPoints, *pt)
			}
		})
		xys := plotter.XYs(xslices.Map(metricPoints, func(pt Point) plotter.XY {
			return plotter.XY{X: pt.Step, Y: pt.Value}
		}))
		line, scatter, err := plotter.NewLinePoints(xys)
		if err != nil {
			return errors.Wrapf(err, "failed to plot metric %q", name)
		}
		line.Color = plotutil.Color(ii)
		line.Dashes = plotutil.Dashes(ii)
		scatter.Color = plotutil.Color(ii)
		scatter.Shape = plotutil.Shape(ii)
		p.Add(line, scatter)
		p.Legend.Add(name, line, scatter)
	}
	p.Add(plotter.NewGrid())
	if err := p.Save(png.Width, png.Height, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}
