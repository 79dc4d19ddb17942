// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets implements train.Dataset over data held in memory (`InMemory`), and the dataset
// readers that load the splits from disk (`ReadCSV`).
//
// A dataset reader is configured by the `dataset_reader` section of an experiment, and returns the
// raw Splits. The `dataset` section then configures how they are served (see InMemoryConfig).
package datasets

import (
	"encoding/json"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
)

// Splits holds the examples of each split, keyed by split name (train.SplitTrain, train.SplitValid, train.SplitTest).
// A missing split is served as empty.
type Splits[X, Y any] map[string]train.Batch[X, Y]

// NumExamples returns the number of examples in the split, 0 if it is missing.
func (s Splits[X, Y]) NumExamples(split string) int {
	return s[split].Len()
}

// Validate checks that every split has as many labels as inputs.
func (s Splits[X, Y]) Validate() error {
	for name, split := range s {
		if len(split.Inputs) != len(split.Labels) {
			return errors.Errorf("split %q has %d inputs but %d labels", name, len(split.Inputs), len(split.Labels))
		}
	}
	return nil
}

// Reader reads the splits of a dataset, configured by the JSON parameters of the `dataset_reader` section
// (the component `name` included).
type Reader[X, Y any] func(params json.RawMessage) (Splits[X, Y], error)
