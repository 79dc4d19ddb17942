// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"slices"
	"time"
)

// Phase of the training loop state machine. It starts as Running and ends in one of the Stopped phases.
type Phase int

const (
	Running Phase = iota
	StoppedPatience
	StoppedEpochs
	StoppedInterrupt
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Running:
		return "Running"
	case StoppedPatience:
		return "StoppedPatience"
	case StoppedEpochs:
		return "StoppedEpochs"
	case StoppedInterrupt:
		return "StoppedInterrupt"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Stopped returns whether p is a terminal phase.
func (p Phase) Stopped() bool {
	return p != Running
}

// maxBatchDurations is the number of most recent batch durations kept in State.
const maxBatchDurations = 1024

// State of a training loop run. It is owned and changed only by the Loop: hooks receive it
// for reading only.
type State struct {
	Phase Phase

	BatchesSeen, EpochsDone, ExamplesSeen int

	// Best validation score so far, of the metric BestMetric. It starts as
	// Optimization.InitialBest.
	Best       float64
	BestMetric string

	// Impatience counts consecutive validations that didn't improve on Best.
	Impatience int

	// Saved is set once a checkpoint was saved.
	Saved bool

	// StartTime of the run.
	StartTime time.Time

	// LastValidation is the most recent validation report, or nil.
	LastValidation *EvalReport

	// BatchDurations of the most recent TrainOnBatch calls.
	BatchDurations []time.Duration
}

func newState(optimization Optimization) *State {
	return &State{
		Phase:     Running,
		Best:      optimization.InitialBest(),
		StartTime: time.Now(),
	}
}

// recordBatch accounts for one training batch of the given size.
func (s *State) recordBatch(size int, elapsed time.Duration) {
	s.BatchesSeen++
	s.ExamplesSeen += size
	if len(s.BatchDurations) >= maxBatchDurations {
		s.BatchDurations = s.BatchDurations[1:]
	}
	s.BatchDurations = append(s.BatchDurations, elapsed)
}

// observeValidation updates Best and Impatience with a new validation score, and returns
// whether it improved.
func (s *State) observeValidation(optimization Optimization, metricName string, score float64) (improved bool) {
	s.BestMetric = metricName
	if optimization.Improved(score, s.Best) {
		s.Best = score
		s.Impatience = 0
		return true
	}
	s.Impatience++
	return false
}

// checkPatience moves to StoppedPatience if patience is enabled (limit > 0) and exhausted.
func (s *State) checkPatience(limit int) bool {
	if limit > 0 && s.Impatience >= limit {
		s.Phase = StoppedPatience
		return true
	}
	return false
}

// checkEpochs moves to StoppedEpochs if the epoch limit is enabled (limit > 0) and reached.
func (s *State) checkEpochs(limit int) bool {
	if limit > 0 && s.EpochsDone >= limit {
		s.Phase = StoppedEpochs
		return true
	}
	return false
}

// interrupt moves to StoppedInterrupt.
func (s *State) interrupt() {
	s.Phase = StoppedInterrupt
}

// MedianBatchDuration returns the median duration of the most recent training batches. It returns 1
// millisecond if no batch was recorded (to avoid potential division by 0).
func (s *State) MedianBatchDuration() time.Duration {
	if len(s.BatchDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(s.BatchDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// window accumulates labels and predictions between two interim train reports.
type window[Y any] struct {
	yTrue, yPred []Y
}

func (w *window[Y]) add(labels, predictions []Y) {
	w.yTrue = append(w.yTrue, labels...)
	w.yPred = append(w.yPred, predictions...)
}

// reset starts a fresh window: windows never overlap.
func (w *window[Y]) reset() {
	w.yTrue = nil
	w.yPred = nil
}
