// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import "iter"

// Names of the splits used by the training loop and the orchestrator.
const (
	SplitTrain = "train"
	SplitValid = "valid"
	SplitTest  = "test"
)

// Batch is a unit of data for a training step or an inference call.
// Inputs and Labels always have the same length.
type Batch[X, Y any] struct {
	Inputs []X
	Labels []Y
}

// Len returns the number of examples in the batch.
func (b Batch[X, Y]) Len() int {
	return len(b.Inputs)
}

// Dataset provides batches and full splits to the training loop and the evaluator.
//
// Both methods return lazy sequences: each call starts a fresh pass over the split,
// which is how the training loop starts a new epoch.
type Dataset[X, Y any] interface {
	// BatchGenerator yields batches of batchSize examples of the given split. The last batch may be smaller.
	//
	// If batchSize is WholeSplit it yields exactly one batch holding the whole split, or nothing
	// if the split is empty.
	//
	// If shuffle is true, the order of the examples may change from one call to the next, following
	// the dataset's own shuffling policy. With shuffle false the order must be stable across calls.
	BatchGenerator(batchSize int, split string, shuffle bool) iter.Seq[Batch[X, Y]]

	// IterAll yields every (input, label) pair of the split, in a stable order.
	IterAll(split string) iter.Seq2[X, Y]
}
