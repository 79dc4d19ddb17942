// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"iter"

	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/janpfeifer/must"
)

// fakeDataset holds the labels of each split. Inputs are the split names, so the fake model
// can tell which split it is predicting for.
type fakeDataset struct {
	splits map[string][]float64

	// generated counts the calls to BatchGenerator per split.
	generated map[string]int
}

func newFakeDataset(train, valid, test int) *fakeDataset {
	ds := &fakeDataset{splits: make(map[string][]float64), generated: make(map[string]int)}
	for split, n := range map[string]int{SplitTrain: train, SplitValid: valid, SplitTest: test} {
		labels := make([]float64, n)
		for ii := range labels {
			labels[ii] = float64(ii)
		}
		ds.splits[split] = labels
	}
	return ds
}

func (ds *fakeDataset) BatchGenerator(batchSize int, split string, _ bool) iter.Seq[Batch[string, float64]] {
	ds.generated[split]++
	labels := ds.splits[split]
	if batchSize == WholeSplit {
		batchSize = max(len(labels), 1)
	}
	return func(yield func(Batch[string, float64]) bool) {
		for start := 0; start < len(labels); start += batchSize {
			end := min(start+batchSize, len(labels))
			batch := Batch[string, float64]{Labels: labels[start:end]}
			for range end - start {
				batch.Inputs = append(batch.Inputs, split)
			}
			if !yield(batch) {
				return
			}
		}
	}
}

func (ds *fakeDataset) IterAll(split string) iter.Seq2[string, float64] {
	return func(yield func(string, float64) bool) {
		for _, label := range ds.splits[split] {
			if !yield(split, label) {
				return
			}
		}
	}
}

// fakeModel predicts a scripted score for every validation input: the score changes only after
// the model is trained, so repeated evaluations of an unchanged model agree. Train inputs are
// predicted as 0.
type fakeModel struct {
	scores     []float64
	scoreIdx   int
	trainedNew bool

	trainedBatches []int
	inferCalls     int

	// saves holds the number of trained batches at each Save call.
	saves []int

	// onTrain, if set, is called with the number of batches trained so far (including the current one).
	onTrain func(n int) error
	saveErr error
}

func newFakeModel(scores ...float64) *fakeModel {
	return &fakeModel{scores: scores, scoreIdx: -1}
}

func (m *fakeModel) Infer(inputs []string) ([]float64, error) {
	m.inferCalls++
	predictions := make([]float64, len(inputs))
	for ii, input := range inputs {
		if input != SplitValid {
			continue
		}
		if m.trainedNew {
			m.trainedNew = false
			m.scoreIdx = min(m.scoreIdx+1, len(m.scores)-1)
		}
		if m.scoreIdx >= 0 {
			predictions[ii] = m.scores[m.scoreIdx]
		}
	}
	return predictions, nil
}

func (m *fakeModel) TrainOnBatch(batch Batch[string, float64]) error {
	m.trainedBatches = append(m.trainedBatches, batch.Len())
	m.trainedNew = true
	if m.onTrain != nil {
		return m.onTrain(len(m.trainedBatches))
	}
	return nil
}

func (m *fakeModel) Save() error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, len(m.trainedBatches))
	return nil
}

func (m *fakeModel) TrainingStrategy() Strategy { return BatchIncremental }

// meanPrediction is the metric used to read back the scripted scores.
func meanPrediction(_, yPred []float64) float64 {
	if len(yPred) == 0 {
		return 0
	}
	var sum float64
	for _, y := range yPred {
		sum += y
	}
	return sum / float64(len(yPred))
}

func meanLabel(yTrue, _ []float64) float64 {
	return meanPrediction(nil, yTrue)
}

func count(yTrue, _ []float64) float64 {
	return float64(len(yTrue))
}

var fakeRegistry = metrics.NewRegistry[float64]().
	Register("score", meanPrediction).
	Register("mean_label", meanLabel).
	Register("count", count)

func fakeMetrics(names ...string) []metrics.Named[float64] {
	return must.M1(fakeRegistry.Resolve(names))
}
