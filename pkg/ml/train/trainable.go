// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"iter"

	"github.com/pkg/errors"
)

// Inferer predicts labels for a slice of inputs. The result has the same length and order as inputs.
type Inferer[X, Y any] interface {
	Infer(inputs []X) ([]Y, error)
}

// Saver persists the model to a location defined by the model itself. Calling it more than
// once overwrites (or adds to) the previous checkpoint.
type Saver interface {
	Save() error
}

// BatchTrainer is a model trained incrementally, one batch at a time, by the Loop.
type BatchTrainer[X, Y any] interface {
	Inferer[X, Y]
	Saver

	// TrainOnBatch updates the model parameters with one batch.
	TrainOnBatch(batch Batch[X, Y]) error
}

// Fitter is a model (or a vocabulary) trained in one call over the whole train split.
type Fitter[X, Y any] interface {
	Saver

	// Fit trains on all the given examples.
	Fit(examples iter.Seq2[X, Y]) error
}

// LegacyTrainer is a model that handles the whole training by itself, with no reporting.
type LegacyTrainer[X, Y any] interface {
	Train(ds Dataset[X, Y]) error
}

// Strategy is how a model wants to be trained.
type Strategy int

const (
	// NotTrainable models are used as they are: training is skipped.
	NotTrainable Strategy = iota

	// BatchIncremental models implement BatchTrainer and are driven by Loop.
	BatchIncremental

	// WholeDatasetFit models implement Fitter, called once with the train split.
	WholeDatasetFit

	// LegacyOpaque models implement LegacyTrainer.
	LegacyOpaque
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case NotTrainable:
		return "NotTrainable"
	case BatchIncremental:
		return "BatchIncremental"
	case WholeDatasetFit:
		return "WholeDatasetFit"
	case LegacyOpaque:
		return "LegacyOpaque"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Describer is the capability descriptor every model declares.
type Describer interface {
	TrainingStrategy() Strategy
}

// ResolveStrategy returns the strategy declared by model, after checking that model
// implements the interface the strategy requires.
//
// A model that doesn't implement Describer is reported as NotTrainable.
func ResolveStrategy[X, Y any](model any) (Strategy, error) {
	describer, ok := model.(Describer)
	if !ok {
		return NotTrainable, nil
	}
	strategy := describer.TrainingStrategy()
	var implements bool
	switch strategy {
	case NotTrainable:
		implements = true
	case BatchIncremental:
		_, implements = model.(BatchTrainer[X, Y])
	case WholeDatasetFit:
		_, implements = model.(Fitter[X, Y])
	case LegacyOpaque:
		_, implements = model.(LegacyTrainer[X, Y])
	default:
		return strategy, errors.Errorf("model %T declared unknown training strategy %s", model, strategy)
	}
	if !implements {
		return strategy, errors.Errorf("model %T declares training strategy %s but doesn't implement its methods",
			model, strategy)
	}
	return strategy, nil
}
