// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MajorityName is the model name used in the configuration.
const MajorityName = "majority"

type majorityState struct {
	Label string         `json:"label"`
	Count map[string]int `json:"count"`
}

// Majority always predicts the most frequent label of the train split, ties go to the smallest label.
//
// It trains (and saves) itself from the dataset, without reports.
type Majority struct {
	checkpoint
	state majorityState
}

var (
	_ train.LegacyTrainer[[]float64, string] = (*Majority)(nil)
	_ train.Inferer[[]float64, string]       = (*Majority)(nil)
)

// NewMajority implements Constructor for the "majority" model.
func NewMajority(params json.RawMessage, _ Vocabs, mode Mode) (any, error) {
	var cfg Persistence
	if err := train.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	m := &Majority{}
	if err := m.open(cfg, mode, &m.state); err != nil {
		return nil, err
	}
	return m, nil
}

// TrainingStrategy implements train.Describer.
func (m *Majority) TrainingStrategy() train.Strategy {
	return train.LegacyOpaque
}

// Train implements train.LegacyTrainer.
func (m *Majority) Train(ds train.Dataset[[]float64, string]) error {
	m.state = majorityState{Count: make(map[string]int)}
	for _, label := range ds.IterAll(train.SplitTrain) {
		m.state.Count[label]++
	}
	if len(m.state.Count) == 0 {
		return errors.New("majority: no training examples")
	}
	bestCount := 0
	for label, count := range m.state.Count {
		if count > bestCount || (count == bestCount && label < m.state.Label) {
			m.state.Label, bestCount = label, count
		}
	}
	klog.Infof("Majority label %q (%d examples)", m.state.Label, bestCount)
	return m.save(&m.state)
}

// Infer implements train.Inferer.
func (m *Majority) Infer(inputs [][]float64) ([]string, error) {
	if m.state.Count == nil {
		return nil, errors.New("majority: model not trained")
	}
	predictions := make([]string, len(inputs))
	for ii := range predictions {
		predictions[ii] = m.state.Label
	}
	return predictions, nil
}
