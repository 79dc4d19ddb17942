// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"math"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(values ...metrics.Value) *train.EvalReport {
	return &train.EvalReport{ExamplesSeen: 4, Metrics: values}
}

func TestAddEvalMetrics(t *testing.T) {
	png := NewPNG("test")
	AddEvalMetrics(png, &train.State{EpochsDone: 2}, train.SplitValid,
		report(metrics.Value{Name: "accuracy", Score: 0.5}, metrics.Value{Name: "f1_macro", Score: math.NaN()}))
	assert.Equal(t, 1, png.IncompleteSamples())
	points := png.Points()
	require.Len(t, points, 1)
	assert.Equal(t, []Point{{MetricName: "accuracy on valid", Short: "accuracy", MetricType: "valid", Step: 2, Value: 0.5}},
		points[2])
}

func TestPoints(t *testing.T) {
	points := NewPoints([]Point{
		{MetricName: "mae on valid", MetricType: "valid", Step: 2, Value: 3},
		{MetricName: "accuracy on valid", MetricType: "valid", Step: 1, Value: 0.25},
		{MetricName: "accuracy on test", MetricType: "test", Step: 1, Value: 0.125},
		{MetricName: "accuracy on valid", MetricType: "valid", Step: 2, Value: 0.75},
	})
	assert.Equal(t, []string{"accuracy on test", "accuracy on valid", "mae on valid"}, points.MetricsNames())
	raw := points.Extract()
	require.Len(t, raw, 4)
	assert.Equal(t, 1.0, raw[0].Step)
	assert.Equal(t, 2.0, raw[3].Step)

	table := points.TableForMetrics("accuracy on valid")
	assert.Contains(t, table, "Epoch")
	assert.Contains(t, table, "0.25")
	assert.Contains(t, table, "0.75")
	assert.NotContains(t, table, "0.125")

	points.Filter(func(p Point) bool { return p.MetricType == "valid" && p.Step > 1 })
	assert.Len(t, points, 1)
	assert.Len(t, points[2], 2)

	other := NewPoints([]Point{{MetricName: "accuracy on valid", Step: 3, Value: 1}})
	points.Add(other)
	assert.Len(t, points, 2)
	assert.Len(t, other, 1)

	points.Map(func(p *Point) { p.Value *= 2 })
	assert.Equal(t, 2.0, points[3][0].Value)
}

func TestPointsWriter(t *testing.T) {
	dir := t.TempDir()
	writer, errReport := CreatePointsWriter(path.Join(dir, TrainingPlotFileName))
	want := []Point{
		{MetricName: "accuracy on valid", Short: "accuracy", MetricType: "valid", Step: 1, Value: 0.5},
		{MetricName: "accuracy on valid", Short: "accuracy", MetricType: "valid", Step: 2, Value: 0.75},
	}
	for _, pt := range want {
		writer <- pt
	}
	close(writer)
	require.NoError(t, <-errReport)

	got, err := LoadPointsFromCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadPoints(path.Join(dir, "missing.json"))
	require.Error(t, err)

	// Failing to open the file is reported once the writer is closed.
	writer, errReport = CreatePointsWriter(path.Join(dir, "no_such_dir", TrainingPlotFileName))
	writer <- want[0]
	close(writer)
	require.Error(t, <-errReport)
}

// hooks is a minimal train.Observable to drive the plot without a Loop.
type hooks struct {
	onStart      []train.OnStartFn
	onValidation []train.OnValidationFn
	onEnd        []train.OnEndFn
}

func (h *hooks) OnStart(_ string, _ train.Priority, fn train.OnStartFn) { h.onStart = append(h.onStart, fn) }
func (h *hooks) OnStep(_ string, _ train.Priority, _ train.OnStepFn)    {}
func (h *hooks) OnValidation(_ string, _ train.Priority, fn train.OnValidationFn) {
	h.onValidation = append(h.onValidation, fn)
}
func (h *hooks) OnEnd(_ string, _ train.Priority, fn train.OnEndFn) { h.onEnd = append(h.onEnd, fn) }

func TestAttachValidationPlot(t *testing.T) {
	dir := t.TempDir()
	pngPath := path.Join(dir, "validation.png")
	h := &hooks{}
	AttachValidationPlot(h, pngPath)
	require.Len(t, h.onStart, 1)
	require.Len(t, h.onValidation, 1)
	require.Len(t, h.onEnd, 1)

	state := &train.State{}
	require.NoError(t, h.onStart[0](state))
	for epoch, score := range []float64{0.25, 0.5, 0.75} {
		state.EpochsDone = epoch + 1
		require.NoError(t, h.onValidation[0](state, report(
			metrics.Value{Name: "accuracy", Score: score}, metrics.Value{Name: "f1_macro", Score: score / 2})))
	}
	require.NoError(t, h.onEnd[0](state))

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	points, err := LoadPointsFromCheckpoint(dir)
	require.NoError(t, err)
	require.Len(t, points, 6)
	assert.Equal(t, 3.0, points[5].Step)
	assert.True(t, strings.HasSuffix(points[5].MetricName, "on valid"))
}

func TestAttachValidationPlotWithoutValidations(t *testing.T) {
	dir := t.TempDir()
	pngPath := path.Join(dir, "validation.png")
	h := &hooks{}
	AttachValidationPlot(h, pngPath)
	require.NoError(t, h.onStart[0](&train.State{}))
	require.NoError(t, h.onEnd[0](&train.State{}))
	_, err := os.Stat(pngPath)
	assert.True(t, os.IsNotExist(err))
	require.Error(t, NewPNG("empty").Save(pngPath))
}
