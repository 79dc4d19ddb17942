// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"iter"
	"maps"
	"slices"

	"github.com/gomlx/batchtrain/pkg/ml/train"
)

// LabelVocabName is the vocabulary name used in the configuration.
const LabelVocabName = "label_vocab"

type labelVocabState struct {
	Labels []string `json:"labels"`
}

// LabelVocab is the sorted set of labels seen in the train split.
type LabelVocab struct {
	checkpoint
	state labelVocabState
}

var (
	_ train.Fitter[[]float64, string] = (*LabelVocab)(nil)
	_ LabelSet                        = (*LabelVocab)(nil)
)

// NewLabelVocab implements Constructor for the "label_vocab" vocabulary.
func NewLabelVocab(params json.RawMessage, _ Vocabs, mode Mode) (any, error) {
	var cfg Persistence
	if err := train.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	v := &LabelVocab{}
	if err := v.open(cfg, mode, &v.state); err != nil {
		return nil, err
	}
	return v, nil
}

// TrainingStrategy implements train.Describer.
func (v *LabelVocab) TrainingStrategy() train.Strategy {
	return train.WholeDatasetFit
}

// Fit implements train.Fitter.
func (v *LabelVocab) Fit(examples iter.Seq2[[]float64, string]) error {
	set := make(map[string]struct{})
	for _, label := range examples {
		set[label] = struct{}{}
	}
	v.state.Labels = slices.Sorted(maps.Keys(set))
	return nil
}

// Labels implements LabelSet.
func (v *LabelVocab) Labels() []string {
	return v.state.Labels
}

// Save implements train.Saver.
func (v *LabelVocab) Save() error {
	return v.save(&v.state)
}
