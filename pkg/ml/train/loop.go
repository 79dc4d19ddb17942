// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"context"
	"time"

	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Loop trains a BatchTrainer one batch at a time, over as many epochs as configured, with
// periodic validation, early stopping on patience and checkpointing of the best model.
//
// One can attach functionality to it with hooks (see Observable), like progress bars or plots.
//
// A run always ends with a checkpoint: if no validation ever improved (or validation is
// disabled) the model is saved when the run stops.
type Loop[X, Y any] struct {
	Hooks

	model    BatchTrainer[X, Y]
	ds       Dataset[X, Y]
	config   Config
	metrics  []metrics.Named[Y]
	reporter *Reporter

	state  *State
	window window[Y]
}

// NewLoop creates a training loop for model over the train split of ds.
//
// The config is validated here, so configuration errors (e.g. an invalid MetricOptimization)
// are returned before any data is touched. Validation during training requires at least one
// metric: the first one drives early stopping.
//
// Reports are written to reporter, which can be nil to discard them.
func NewLoop[X, Y any](model BatchTrainer[X, Y], ds Dataset[X, Y], config Config,
	metricFns []metrics.Named[Y], reporter *Reporter) (*Loop[X, Y], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ValEveryNEpochs > 0 && len(metricFns) == 0 {
		return nil, errors.Wrapf(ErrConfig, "val_every_n_epochs=%d requires at least one metric",
			config.ValEveryNEpochs)
	}
	if reporter == nil {
		reporter = NewReporter(nil)
	}
	return &Loop[X, Y]{
		model:    model,
		ds:       ds,
		config:   config.Clone(),
		metrics:  metricFns,
		reporter: reporter,
	}, nil
}

// Config returns the configuration used by the loop.
func (loop *Loop[X, Y]) Config() Config {
	return loop.config
}

// State of the current (or last) run. It is nil before Run is called.
func (loop *Loop[X, Y]) State() *State {
	return loop.state
}

// Run trains until the epoch limit is reached, patience runs out or ctx is cancelled.
//
// Cancellation is not an error: it is observed at the top of every batch, and the run
// stops with phase StoppedInterrupt. Errors returned by the model or by hooks abort the run
// and are returned; no final save is attempted in that case, but the OnEnd hooks are still
// run (with the phase left as Running), so attached tools can release what they hold.
func (loop *Loop[X, Y]) Run(ctx context.Context) (*State, error) {
	state := newState(loop.config.MetricOptimization)
	loop.state = state
	loop.window.reset()
	if err := loop.run(ctx); err != nil {
		if endErr := loop.runEnd(state); endErr != nil {
			klog.Errorf("Loop.Run(): OnEnd hooks failed while aborting: %+v", endErr)
		}
		return state, err
	}
	if err := loop.runEnd(state); err != nil {
		return state, errors.WithMessagef(err, "Loop.Run(): failed end (epochs_done=%d)", state.EpochsDone)
	}
	return state, nil
}

// run executes the OnStart hooks, the epochs and the final save.
func (loop *Loop[X, Y]) run(ctx context.Context) error {
	if err := loop.runStart(loop.state); err != nil {
		return err
	}
	if err := loop.runEpochs(ctx); err != nil {
		return err
	}
	if !loop.state.Saved {
		return loop.save()
	}
	return nil
}

// runEpochs loops over epochs until the state reaches a stopped phase.
func (loop *Loop[X, Y]) runEpochs(ctx context.Context) error {
	state := loop.state
	for {
		if loop.interrupted(ctx) {
			return nil
		}
		for batch := range loop.ds.BatchGenerator(loop.config.BatchSize, SplitTrain, true) {
			if loop.interrupted(ctx) {
				return nil
			}
			if err := loop.step(batch); err != nil {
				return errors.WithMessagef(err, "Loop.Run(): failed batch (batches_seen=%d, epochs_done=%d)",
					state.BatchesSeen, state.EpochsDone)
			}
		}
		state.EpochsDone++

		if loop.config.ValEveryNEpochs > 0 && state.EpochsDone%loop.config.ValEveryNEpochs == 0 {
			if err := loop.validate(); err != nil {
				return errors.WithMessagef(err, "Loop.Run(): failed validation (epochs_done=%d)", state.EpochsDone)
			}
			if state.checkPatience(loop.config.ValidationPatience) {
				klog.Infof("Ran out of patience")
				return nil
			}
		}
		if state.checkEpochs(loop.config.Epochs) {
			return nil
		}
	}
}

// interrupted checks ctx and moves the state to StoppedInterrupt if it was cancelled.
func (loop *Loop[X, Y]) interrupted(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	loop.state.interrupt()
	klog.Infof("Stopped training")
	return true
}

// step trains on one batch, and emits the interim train report if one is due.
func (loop *Loop[X, Y]) step(batch Batch[X, Y]) error {
	state := loop.state
	logEvery := loop.config.LogEveryNBatches
	if logEvery > 0 {
		predictions, err := loop.model.Infer(batch.Inputs)
		if err != nil {
			return errors.WithMessage(err, "inference for train report")
		}
		loop.window.add(batch.Labels, predictions)
	}

	startTime := time.Now()
	if err := loop.model.TrainOnBatch(batch); err != nil {
		return err
	}
	state.recordBatch(batch.Len(), time.Since(startTime))

	if logEvery > 0 && state.BatchesSeen%logEvery == 0 {
		report := &TrainReport{
			EpochsDone:   state.EpochsDone,
			BatchesSeen:  state.BatchesSeen,
			ExamplesSeen: state.ExamplesSeen,
			Metrics:      metrics.Compute(loop.metrics, loop.window.yTrue, loop.window.yPred),
			TimeSpent:    Since(state.StartTime),
		}
		if err := loop.reporter.Write(Record{Train: report}); err != nil {
			return err
		}
		loop.window.reset()
	}
	return loop.runStep(state)
}

// validate evaluates on the valid split, saves the model if the first metric improved,
// and emits the validation report.
func (loop *Loop[X, Y]) validate() error {
	state := loop.state
	report, err := Evaluate[X, Y](loop.model, loop.metrics, loop.ds, loop.config.BatchSize, SplitValid,
		state.StartTime)
	if err != nil {
		return err
	}
	first := report.Metrics[0]
	if state.observeValidation(loop.config.MetricOptimization, first.Name, first.Score) {
		klog.Infof("New best %s of %g", first.Name, first.Score)
		if err := loop.save(); err != nil {
			return err
		}
	} else {
		klog.Infof("Did not improve on the %s of %g", first.Name, state.Best)
	}

	impatience := state.Impatience
	report.Impatience = &impatience
	if loop.config.ValidationPatience > 0 {
		limit := loop.config.ValidationPatience
		report.PatienceLimit = &limit
	}
	state.LastValidation = report
	if err := loop.reporter.Write(Record{Valid: report}); err != nil {
		return err
	}
	return loop.runValidation(state, report)
}

// save the model checkpoint.
func (loop *Loop[X, Y]) save() error {
	klog.Infof("Saving model")
	if err := loop.model.Save(); err != nil {
		return errors.WithMessage(err, "failed to save model")
	}
	loop.state.Saved = true
	return nil
}
