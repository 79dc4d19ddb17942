// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"iter"
	"maps"
	"math"
	"slices"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
)

// NearestCentroidName is the model name used in the configuration.
const NearestCentroidName = "nearest_centroid"

type centroidState struct {
	Labels    []string    `json:"labels"`
	Centroids [][]float64 `json:"centroids"`
}

// NearestCentroid predicts the label whose mean training example is the closest (euclidean distance).
// Ties go to the first label in sorted order.
type NearestCentroid struct {
	checkpoint
	state centroidState
}

var (
	_ train.Fitter[[]float64, string]  = (*NearestCentroid)(nil)
	_ train.Inferer[[]float64, string] = (*NearestCentroid)(nil)
)

// NewNearestCentroid implements Constructor for the "nearest_centroid" model.
func NewNearestCentroid(params json.RawMessage, _ Vocabs, mode Mode) (any, error) {
	var cfg Persistence
	if err := train.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	m := &NearestCentroid{}
	if err := m.open(cfg, mode, &m.state); err != nil {
		return nil, err
	}
	return m, nil
}

// TrainingStrategy implements train.Describer.
func (m *NearestCentroid) TrainingStrategy() train.Strategy {
	return train.WholeDatasetFit
}

// Fit implements train.Fitter.
func (m *NearestCentroid) Fit(examples iter.Seq2[[]float64, string]) error {
	sums := make(map[string][]float64)
	counts := make(map[string]int)
	numFeatures := -1
	for x, label := range examples {
		if numFeatures < 0 {
			numFeatures = len(x)
		} else if len(x) != numFeatures {
			return errors.Errorf("nearest_centroid: examples with %d and %d features", numFeatures, len(x))
		}
		sum, found := sums[label]
		if !found {
			sum = make([]float64, numFeatures)
			sums[label] = sum
		}
		for ii, v := range x {
			sum[ii] += v
		}
		counts[label]++
	}
	if len(sums) == 0 {
		return errors.New("nearest_centroid: no training examples")
	}
	m.state.Labels = slices.Sorted(maps.Keys(sums))
	m.state.Centroids = make([][]float64, len(m.state.Labels))
	for ii, label := range m.state.Labels {
		centroid := sums[label]
		for jj := range centroid {
			centroid[jj] /= float64(counts[label])
		}
		m.state.Centroids[ii] = centroid
	}
	return nil
}

// Infer implements train.Inferer.
func (m *NearestCentroid) Infer(inputs [][]float64) ([]string, error) {
	if len(m.state.Centroids) == 0 {
		return nil, errors.New("nearest_centroid: model not fitted")
	}
	predictions := make([]string, len(inputs))
	for ii, x := range inputs {
		best, bestDist := -1, math.Inf(1)
		for jj, centroid := range m.state.Centroids {
			if len(x) != len(centroid) {
				return nil, errors.Errorf("nearest_centroid expects %d features, example %d has %d", len(centroid), ii, len(x))
			}
			var dist float64
			for kk, v := range x {
				d := v - centroid[kk]
				dist += d * d
			}
			if best < 0 || dist < bestDist {
				best, bestDist = jj, dist
			}
		}
		predictions[ii] = m.state.Labels[best]
	}
	return predictions, nil
}

// Save implements train.Saver.
func (m *NearestCentroid) Save() error {
	return m.save(&m.state)
}
