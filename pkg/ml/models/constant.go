// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
)

// ConstantName is the model name used in the configuration.
const ConstantName = "constant"

// Constant always predicts the configured `label`. It is not trainable, and the same in every mode.
type Constant struct {
	label string
}

var _ train.Inferer[[]float64, string] = (*Constant)(nil)

// NewConstant implements Constructor for the "constant" model.
func NewConstant(params json.RawMessage, _ Vocabs, _ Mode) (any, error) {
	var cfg struct {
		Label *string `json:"label"`
	}
	if err := train.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Label == nil {
		return nil, errors.Wrapf(train.ErrConfig, "constant model requires a \"label\"")
	}
	return &Constant{label: *cfg.Label}, nil
}

// TrainingStrategy implements train.Describer.
func (c *Constant) TrainingStrategy() train.Strategy {
	return train.NotTrainable
}

// Infer implements train.Inferer.
func (c *Constant) Infer(inputs [][]float64) ([]string, error) {
	predictions := make([]string, len(inputs))
	for ii := range predictions {
		predictions[ii] = c.label
	}
	return predictions, nil
}
