// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// ErrConfig is the sentinel wrapped by every configuration error: invalid option values,
// unknown metric or component names, malformed sections.
//
// Test for it with errors.Is.
var ErrConfig = errors.New("configuration error")

// Optimization is the direction in which the validation metric is optimized.
type Optimization string

const (
	Maximize Optimization = "maximize"
	Minimize Optimization = "minimize"
)

// Validate returns a configuration error if o is not one of Maximize or Minimize.
func (o Optimization) Validate() error {
	switch o {
	case Maximize, Minimize:
		return nil
	}
	return errors.Wrapf(ErrConfig, "metric_optimization has to be one of %q, got %q",
		[]Optimization{Maximize, Minimize}, o)
}

// InitialBest returns the sentinel used as the best score before any validation:
// -Inf when maximizing and +Inf when minimizing.
func (o Optimization) InitialBest() float64 {
	if o == Minimize {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

// Improved reports whether score is strictly better than best.
func (o Optimization) Improved(score, best float64) bool {
	if o == Minimize {
		return score < best
	}
	return score > best
}

// WholeSplit is the batch size that yields the entire split as one batch.
const WholeSplit = -1

// Config holds the training options. JSON field names follow the experiment
// configuration files.
//
// Create it with DefaultConfig and overwrite the fields you need: this is the
// field-by-field merge the training loop expects. MergeConfig does the same from a
// JSON section.
type Config struct {
	// Epochs to train for. 0 means unbounded: the loop relies on patience or interruption to stop.
	Epochs int `json:"epochs"`

	// BatchSize of training and evaluation batches. WholeSplit (-1) means one batch with the whole split.
	BatchSize int `json:"batch_size"`

	MetricOptimization Optimization `json:"metric_optimization"`

	// ValidationPatience is the number of consecutive non-improving validations tolerated. 0 disables it.
	ValidationPatience int `json:"validation_patience"`

	// ValEveryNEpochs runs a validation every so many epochs. 0 disables validation during training.
	ValEveryNEpochs int `json:"val_every_n_epochs"`

	// LogEveryNBatches emits an interim train report every so many batches. 0 disables it.
	LogEveryNBatches int `json:"log_every_n_batches"`

	// ValidateBest and TestBest ask the orchestrator to evaluate the saved model after training.
	ValidateBest bool `json:"validate_best"`
	TestBest     bool `json:"test_best"`

	// Metrics names, in reporting order. The first one drives early stopping.
	Metrics []string `json:"metrics"`
}

// DefaultConfig returns the configuration used for every option not given by the user.
func DefaultConfig() Config {
	return Config{
		Epochs:             0,
		BatchSize:          1,
		MetricOptimization: Maximize,
		ValidationPatience: 5,
		ValEveryNEpochs:    0,
		LogEveryNBatches:   0,
		ValidateBest:       true,
		TestBest:           true,
		Metrics:            []string{"accuracy"},
	}
}

// MergeConfig overlays the JSON object in section on top of DefaultConfig. Options
// present in section take precedence, the others keep their default.
//
// Unknown options, values of the wrong type and invalid values are configuration errors.
func MergeConfig(section json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(section)) == 0 {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(section))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(ErrConfig, "failed to parse train config: %v", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the option values that have no sensible fallback.
func (c Config) Validate() error {
	if err := c.MetricOptimization.Validate(); err != nil {
		return err
	}
	if c.BatchSize == 0 || c.BatchSize < WholeSplit {
		return errors.Wrapf(ErrConfig, "batch_size must be positive or %d (whole split), got %d",
			WholeSplit, c.BatchSize)
	}
	for _, check := range []struct {
		name  string
		value int
	}{
		{"epochs", c.Epochs},
		{"validation_patience", c.ValidationPatience},
		{"val_every_n_epochs", c.ValEveryNEpochs},
		{"log_every_n_batches", c.LogEveryNBatches},
	} {
		if check.value < 0 {
			return errors.Wrapf(ErrConfig, "%s must be >= 0, got %d", check.name, check.value)
		}
	}
	return nil
}

// Clone returns a copy of c that shares no memory with it.
func (c Config) Clone() Config {
	c.Metrics = slices.Clone(c.Metrics)
	return c
}

// DecodeParams decodes the parameters of a component section (dataset reader, dataset, model or
// vocabulary) into params, a pointer to a struct. The `name` key, used to select the component, is
// skipped. Unknown keys and values of the wrong type are configuration errors.
//
// An empty section leaves params untouched, so params can be pre-filled with defaults.
func DecodeParams(section json.RawMessage, params any) error {
	if len(bytes.TrimSpace(section)) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(section, &fields); err != nil {
		return errors.Wrapf(ErrConfig, "component parameters must be a JSON object: %v", err)
	}
	delete(fields, "name")
	stripped, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "failed to re-encode component parameters")
	}
	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return errors.Wrapf(ErrConfig, "invalid component parameters: %v", err)
	}
	return nil
}
