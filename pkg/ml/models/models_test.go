// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/batchtrain/pkg/ml/checkpoints"
	"github.com/gomlx/batchtrain/pkg/ml/datasets"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separable dataset: "low" examples around (0, 0), "high" around (10, 10) and "mid" around (5, 0).
func separable() *datasets.InMemory[[]float64, string] {
	batch := train.Batch[[]float64, string]{
		Inputs: [][]float64{{0, 0}, {10, 10}, {5, 0}, {1, 0}, {9, 10}, {5, 1}, {0, 1}, {10, 9}, {4, 0}},
		Labels: []string{"low", "high", "mid", "low", "high", "mid", "low", "high", "mid"},
	}
	return must.M1(datasets.NewInMemory("separable", datasets.Splits[[]float64, string]{
		train.SplitTrain: batch,
		train.SplitValid: batch,
	}))
}

func accuracy() []metrics.Named[string] {
	return must.M1(metrics.Classification[string]().Resolve([]string{"accuracy"}))
}

func section(params string) json.RawMessage {
	return json.RawMessage(params)
}

func savePath(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name)
}

func TestRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"constant", "label_vocab", "majority", "nearest_centroid", "perceptron"}, r.Names())

	model, err := r.New(section(`{"name": "constant", "label": "x"}`), nil, ModeTrain)
	require.NoError(t, err)
	require.IsType(t, &Constant{}, model)

	for _, params := range []string{
		`{"name": "unknown"}`,
		`{"label": "x"}`,
		`{"name": ""}`,
		`"constant"`,
		`{"name": "constant"}`,
		`{"name": "constant", "label": "x", "extra": 1}`,
		`{"name": "perceptron", "save_path": "/tmp/never"}`,
		`{"name": "perceptron", "learning_rate": -1}`,
		`{"name": "majority"}`,
	} {
		_, err = r.New(section(params), nil, ModeTrain)
		require.ErrorIs(t, err, train.ErrConfig, "params %s", params)
	}

	_, err = r.New(section(fmt.Sprintf(`{"name": "majority", "save_path": %q}`, t.TempDir())), nil, ModeInfer)
	require.ErrorIs(t, err, checkpoints.ErrNoCheckpoint)

	r.Register("custom", func(params json.RawMessage, vocabs Vocabs, mode Mode) (any, error) {
		return mode, nil
	})
	model, err = r.New(section(`{"name": "custom"}`), nil, ModeInfer)
	require.NoError(t, err)
	assert.Equal(t, ModeInfer, model)
}

func TestLabelVocab(t *testing.T) {
	path := savePath(t, "labels")
	vocab, err := NewLabelVocab(section(fmt.Sprintf(`{"name": "label_vocab", "save_path": %q}`, path)), nil, ModeTrain)
	require.NoError(t, err)
	strategy, err := train.ResolveStrategy[[]float64, string](vocab)
	require.NoError(t, err)
	assert.Equal(t, train.WholeDatasetFit, strategy)

	fitter := vocab.(*LabelVocab)
	require.NoError(t, fitter.Fit(separable().IterAll(train.SplitTrain)))
	assert.Equal(t, []string{"high", "low", "mid"}, fitter.Labels())
	require.NoError(t, fitter.Save())

	loaded, err := NewLabelVocab(section(fmt.Sprintf(`{"load_path": %q}`, path)), nil, ModeInfer)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "mid"}, loaded.(*LabelVocab).Labels())
}

func TestPerceptron(t *testing.T) {
	ds := separable()
	vocab := must.M1(NewLabelVocab(section(fmt.Sprintf(`{"save_path": %q}`, savePath(t, "labels"))), nil, ModeTrain)).(*LabelVocab)
	require.NoError(t, vocab.Fit(ds.IterAll(train.SplitTrain)))

	path := savePath(t, "perceptron")
	params := section(fmt.Sprintf(`{"name": "perceptron", "save_path": %q, "learning_rate": 0.5}`, path))
	_, err := NewPerceptron(params, Vocabs{}, ModeTrain)
	require.ErrorIs(t, err, train.ErrConfig, "missing labels vocabulary")

	model, err := NewPerceptron(params, Vocabs{"labels": vocab}, ModeTrain)
	require.NoError(t, err)
	p := model.(*Perceptron)
	strategy, err := train.ResolveStrategy[[]float64, string](p)
	require.NoError(t, err)
	assert.Equal(t, train.BatchIncremental, strategy)

	// Untrained: predicts the first label.
	predictions, err := p.Infer([][]float64{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, predictions)

	for range 50 {
		for batch := range ds.BatchGenerator(3, train.SplitTrain, false) {
			require.NoError(t, p.TrainOnBatch(batch))
		}
	}
	assert.Equal(t, 2, p.NumFeatures())
	report, err := train.Evaluate[[]float64, string](p, accuracy(), ds, train.WholeSplit, train.SplitValid, time.Time{})
	require.NoError(t, err)
	accuracyBefore, _ := report.Metrics.Get("accuracy")
	assert.Equal(t, 1.0, accuracyBefore, "the dataset is linearly separable")
	require.NoError(t, p.Save())

	// Errors.
	err = p.TrainOnBatch(train.Batch[[]float64, string]{Inputs: [][]float64{{1, 2}}, Labels: []string{"unknown"}})
	require.Error(t, err)
	err = p.TrainOnBatch(train.Batch[[]float64, string]{Inputs: [][]float64{{1, 2, 3}}, Labels: []string{"low"}})
	require.Error(t, err)
	_, err = p.Infer([][]float64{{1}})
	require.Error(t, err)

	// Infer mode restores the saved weights, and doesn't need the vocabulary.
	restored, err := NewPerceptron(params, nil, ModeInfer)
	require.NoError(t, err)
	report, err = train.Evaluate[[]float64, string](restored.(*Perceptron), accuracy(), ds, 2, train.SplitValid, time.Time{})
	require.NoError(t, err)
	accuracyAfter, _ := report.Metrics.Get("accuracy")
	assert.Equal(t, accuracyBefore, accuracyAfter)
	assert.Equal(t, path, restored.(*Perceptron).CheckpointDir())
}

func TestNearestCentroid(t *testing.T) {
	ds := separable()
	path := savePath(t, "centroid")
	model, err := NewNearestCentroid(section(fmt.Sprintf(`{"name": "nearest_centroid", "save_path": %q}`, path)), nil, ModeTrain)
	require.NoError(t, err)
	m := model.(*NearestCentroid)
	_, err = m.Infer([][]float64{{0, 0}})
	require.Error(t, err, "not fitted")

	require.NoError(t, m.Fit(ds.IterAll(train.SplitTrain)))
	predictions, err := m.Infer([][]float64{{0.5, 0.5}, {9, 9}, {5, 0.2}, {2.5, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "high", "mid", "low"}, predictions)
	require.NoError(t, m.Save())

	loaded, err := NewNearestCentroid(section(fmt.Sprintf(`{"save_path": %q}`, path)), nil, ModeInfer)
	require.NoError(t, err)
	again, err := loaded.(*NearestCentroid).Infer([][]float64{{0.5, 0.5}, {9, 9}, {5, 0.2}, {2.5, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, predictions, again)

	// Equidistant centroids: the first label in sorted order wins.
	tie := &NearestCentroid{state: centroidState{Labels: []string{"a", "b"}, Centroids: [][]float64{{0}, {2}}}}
	predictions, err = tie.Infer([][]float64{{1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, predictions)

	err = m.Fit(func(yield func([]float64, string) bool) {
		if yield([]float64{1}, "a") {
			yield([]float64{1, 2}, "b")
		}
	})
	require.Error(t, err)
	require.Error(t, m.Fit(func(yield func([]float64, string) bool) {}))
}

func TestMajority(t *testing.T) {
	path := savePath(t, "majority")
	params := section(fmt.Sprintf(`{"name": "majority", "save_path": %q, "keep_checkpoints": 2}`, path))
	model, err := NewMajority(params, nil, ModeTrain)
	require.NoError(t, err)
	m := model.(*Majority)
	strategy, err := train.ResolveStrategy[[]float64, string](m)
	require.NoError(t, err)
	assert.Equal(t, train.LegacyOpaque, strategy)

	ds := must.M1(datasets.NewInMemory("votes", datasets.Splits[[]float64, string]{
		train.SplitTrain: {Inputs: make([][]float64, 5), Labels: []string{"b", "a", "c", "b", "a"}},
	}))
	require.NoError(t, m.Train(ds))
	predictions, err := m.Infer(make([][]float64, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a"}, predictions, "ties go to the smallest label")

	// Train saves by itself.
	loaded, err := NewMajority(params, nil, ModeInfer)
	require.NoError(t, err)
	predictions, err = loaded.(*Majority).Infer(make([][]float64, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, predictions)
}

func TestConstant(t *testing.T) {
	model, err := NewConstant(section(`{"name": "constant", "label": ""}`), nil, ModeInfer)
	require.NoError(t, err)
	strategy, err := train.ResolveStrategy[[]float64, string](model)
	require.NoError(t, err)
	assert.Equal(t, train.NotTrainable, strategy)
	predictions, err := model.(*Constant).Infer(make([][]float64, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", ""}, predictions)
}

func TestCompression(t *testing.T) {
	ds := separable()
	path := savePath(t, "centroid")
	params := section(fmt.Sprintf(`{"name": "nearest_centroid", "save_path": %q, "compression": "uncompressed"}`, path))
	model, err := NewNearestCentroid(params, nil, ModeTrain)
	require.NoError(t, err)
	centroid := model.(*NearestCentroid)
	require.NoError(t, centroid.Fit(ds.IterAll(train.SplitTrain)))
	require.NoError(t, centroid.Save())

	handler := checkpoints.Load().Dir(path).MustDone()
	list, err := handler.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, list, 1)
	metadata, err := handler.LoadMetadata(list[0])
	require.NoError(t, err)
	assert.Equal(t, "uncompressed", metadata.BinFormat)

	restored, err := NewNearestCentroid(params, nil, ModeInfer)
	require.NoError(t, err)
	predictions, err := restored.(*NearestCentroid).Infer([][]float64{{10, 10}})
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, predictions)

	_, err = NewNearestCentroid(section(fmt.Sprintf(`{"save_path": %q, "compression": "zstd"}`, path)), nil, ModeTrain)
	require.ErrorIs(t, err, train.ErrConfig)
}
