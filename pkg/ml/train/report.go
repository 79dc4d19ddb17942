// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/pkg/errors"
)

// Elapsed is a duration reported as "H:MM:SS", rounded to whole seconds.
type Elapsed time.Duration

// Since returns the time elapsed since start, rounded to whole seconds.
func Since(start time.Time) Elapsed {
	return Elapsed(time.Since(start).Round(time.Second))
}

// String implements fmt.Stringer.
func (e Elapsed) String() string {
	total := int64(time.Duration(e).Round(time.Second) / time.Second)
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%d:%02d:%02d", sign, total/3600, (total/60)%60, total%60)
}

// MarshalJSON implements json.Marshaler.
func (e Elapsed) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Elapsed) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return errors.Wrap(err, "time_spent must be a string")
	}
	var hours, minutes, seconds int64
	if _, err := fmt.Sscanf(str, "%d:%d:%d", &hours, &minutes, &seconds); err != nil {
		return errors.Wrapf(err, "time_spent %q is not formatted as H:MM:SS", str)
	}
	*e = Elapsed(time.Duration(hours*3600+minutes*60+seconds) * time.Second)
	return nil
}

// EvalReport is the result of evaluating a model on a split.
//
// Impatience and PatienceLimit are only set on validation reports emitted by the training loop.
type EvalReport struct {
	ExamplesSeen  int            `json:"examples_seen"`
	Metrics       metrics.Values `json:"metrics"`
	TimeSpent     Elapsed        `json:"time_spent"`
	Impatience    *int           `json:"impatience,omitempty"`
	PatienceLimit *int           `json:"patience_limit,omitempty"`
}

// TrainReport summarizes an interim window of training batches.
type TrainReport struct {
	EpochsDone   int            `json:"epochs_done"`
	BatchesSeen  int            `json:"batches_seen"`
	ExamplesSeen int            `json:"examples_seen"`
	Metrics      metrics.Values `json:"metrics"`
	TimeSpent    Elapsed        `json:"time_spent"`
}

// Record is one line of structured output: exactly one of its fields is set.
type Record struct {
	Train *TrainReport `json:"train,omitempty"`
	Valid *EvalReport  `json:"valid,omitempty"`
	Test  *EvalReport  `json:"test,omitempty"`
}

// Reporter writes Record values as JSON lines, in the order they are produced.
//
// It is safe for concurrent use, but the training loop only writes from one goroutine.
type Reporter struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewReporter returns a Reporter writing to w. A nil w discards all reports.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = io.Discard
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Reporter{w: w, enc: enc}
}

// Write one record as a line.
func (r *Reporter) Write(record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(record); err != nil {
		return errors.Wrap(err, "failed to write report")
	}
	if flusher, ok := r.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// ReportEval writes a report for the given split: SplitValid and SplitTest are supported.
func (r *Reporter) ReportEval(split string, report *EvalReport) error {
	switch split {
	case SplitValid:
		return r.Write(Record{Valid: report})
	case SplitTest:
		return r.Write(Record{Test: report})
	}
	return errors.Errorf("no report format for split %q", split)
}
