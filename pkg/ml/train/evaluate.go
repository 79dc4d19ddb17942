// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"time"

	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/pkg/errors"
)

// Evaluate runs model over every batch of the split, in a stable (not shuffled) order, and
// computes the metrics once over all the accumulated labels and predictions.
//
// model.Infer is called once per batch. The model is not changed, so calling Evaluate again
// on the same model and split gives the same metrics.
//
// TimeSpent is measured from startTime, or from the start of the evaluation if startTime is zero.
func Evaluate[X, Y any](model Inferer[X, Y], fns []metrics.Named[Y], ds Dataset[X, Y],
	batchSize int, split string, startTime time.Time) (*EvalReport, error) {
	if startTime.IsZero() {
		startTime = time.Now()
	}
	var yTrue, yPred []Y
	for batch := range ds.BatchGenerator(batchSize, split, false) {
		predictions, err := model.Infer(batch.Inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating on %q: inference failed after %d examples",
				split, len(yTrue))
		}
		if len(predictions) != len(batch.Inputs) {
			return nil, errors.Errorf("evaluating on %q: model returned %d predictions for %d inputs",
				split, len(predictions), len(batch.Inputs))
		}
		yTrue = append(yTrue, batch.Labels...)
		yPred = append(yPred, predictions...)
	}
	return &EvalReport{
		ExamplesSeen: len(yTrue),
		Metrics:      metrics.Compute(fns, yTrue, yPred),
		TimeSpent:    Since(startTime),
	}, nil
}
