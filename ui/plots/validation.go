// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"path"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ValidationPlotName is the name of the hooks registered by AttachValidationPlot.
const ValidationPlotName = "batchtrain.ui.plots.validationPlot"

type validationPlot struct {
	pngPath   string
	png       *PNG
	writer    chan<- Point
	errReport <-chan error
}

// AttachValidationPlot attaches to the loop a plot of the validation metrics, one point per
// validation, with the number of epochs done as the x-axis.
//
// The points are also appended, as they are collected, to the file TrainingPlotFileName in the
// directory of pngPath, from where they can be read back with LoadPointsFromCheckpoint.
// At the end of the run the plot is saved to pngPath, and a table with the points is logged.
func AttachValidationPlot(loop train.Observable, pngPath string) {
	vp := &validationPlot{
		pngPath: pngPath,
		png:     NewPNG("Validation metrics"),
	}
	loop.OnStart(ValidationPlotName, 0, vp.onStart)
	loop.OnValidation(ValidationPlotName, 0, vp.onValidation)
	loop.OnEnd(ValidationPlotName, 0, vp.onEnd)
}

func (vp *validationPlot) onStart(_ *train.State) error {
	vp.writer, vp.errReport = CreatePointsWriter(path.Join(path.Dir(vp.pngPath), TrainingPlotFileName))
	return nil
}

func (vp *validationPlot) onValidation(state *train.State, report *train.EvalReport) error {
	AddEvalMetrics(vp, state, train.SplitValid, report)
	return nil
}

// AddPoint implements Plotter: points go to the PNG and to the points file.
func (vp *validationPlot) AddPoint(point Point) {
	vp.png.AddPoint(point)
	if vp.writer != nil {
		vp.writer <- point
	}
}

// DynamicSampleDone implements Plotter.
func (vp *validationPlot) DynamicSampleDone(incomplete bool) {
	vp.png.DynamicSampleDone(incomplete)
}

func (vp *validationPlot) onEnd(_ *train.State) error {
	var err error
	if vp.writer != nil {
		close(vp.writer)
		err = <-vp.errReport
		vp.writer = nil
	}
	if err != nil {
		return errors.WithMessage(err, "saving validation plot points")
	}
	points := vp.png.Points()
	if len(points) == 0 {
		klog.V(1).Infof("No validation points collected, plot %q not saved", vp.pngPath)
		return nil
	}
	if err = vp.png.Save(vp.pngPath); err != nil {
		return err
	}
	klog.Infof("Validation metrics plotted in %q:\n%s", vp.pngPath, points)
	return nil
}
