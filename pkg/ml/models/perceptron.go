// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"slices"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PerceptronName is the model name used in the configuration.
const PerceptronName = "perceptron"

// PerceptronConfig holds the parameters of the "perceptron" model section.
type PerceptronConfig struct {
	Persistence

	// LearningRate scales each update. Defaults to 1.
	LearningRate float64 `json:"learning_rate"`

	// LabelsVocab is the name of the vocabulary (a LabelSet) with the labels to classify.
	// Only used in ModeTrain. Defaults to "labels".
	LabelsVocab string `json:"labels_vocab"`
}

// LabelSet is a vocabulary of labels.
type LabelSet interface {
	Labels() []string
}

type perceptronState struct {
	Labels []string `json:"labels"`

	// Weights per label: the last element is the bias.
	Weights [][]float64 `json:"weights"`
}

// Perceptron is a multiclass perceptron: one linear scorer per label, the prediction is the label with the
// highest score. On a mistake, the weights of the true label move towards the example and the weights of the
// predicted label move away from it.
//
// The number of features is set by the first batch it is trained on.
type Perceptron struct {
	checkpoint
	learningRate float64
	state        perceptronState
	labelIndex   map[string]int
}

var _ train.BatchTrainer[[]float64, string] = (*Perceptron)(nil)

// NewPerceptron implements Constructor for the "perceptron" model.
func NewPerceptron(params json.RawMessage, vocabs Vocabs, mode Mode) (any, error) {
	cfg := PerceptronConfig{LearningRate: 1, LabelsVocab: "labels"}
	if err := train.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.Wrapf(train.ErrConfig, "perceptron learning_rate must be > 0, got %g", cfg.LearningRate)
	}
	p := &Perceptron{learningRate: cfg.LearningRate}
	if mode == ModeTrain {
		labelSet, ok := vocabs[cfg.LabelsVocab].(LabelSet)
		if !ok {
			return nil, errors.Wrapf(train.ErrConfig, "perceptron requires the label vocabulary %q, got %T",
				cfg.LabelsVocab, vocabs[cfg.LabelsVocab])
		}
		p.state.Labels = slices.Clone(labelSet.Labels())
		if len(p.state.Labels) == 0 {
			return nil, errors.Errorf("perceptron label vocabulary %q is empty", cfg.LabelsVocab)
		}
	}
	if err := p.open(cfg.Persistence, mode, &p.state); err != nil {
		return nil, err
	}
	p.labelIndex = make(map[string]int, len(p.state.Labels))
	for ii, label := range p.state.Labels {
		p.labelIndex[label] = ii
	}
	return p, nil
}

// TrainingStrategy implements train.Describer.
func (p *Perceptron) TrainingStrategy() train.Strategy {
	return train.BatchIncremental
}

// Labels the perceptron classifies into.
func (p *Perceptron) Labels() []string {
	return p.state.Labels
}

// NumFeatures returns the input dimension, or 0 if not trained yet.
func (p *Perceptron) NumFeatures() int {
	if len(p.state.Weights) == 0 {
		return 0
	}
	return len(p.state.Weights[0]) - 1
}

func (p *Perceptron) initWeights(numFeatures int) {
	p.state.Weights = make([][]float64, len(p.state.Labels))
	for ii := range p.state.Weights {
		p.state.Weights[ii] = make([]float64, numFeatures+1)
	}
	klog.V(1).Infof("perceptron: %d labels, %d features", len(p.state.Labels), numFeatures)
}

// predict returns the index of the label with the highest score: ties go to the lowest index.
func (p *Perceptron) predict(x []float64) int {
	best, bestScore := 0, 0.0
	for ii, w := range p.state.Weights {
		score := w[len(w)-1]
		for jj, v := range x {
			score += w[jj] * v
		}
		if ii == 0 || score > bestScore {
			best, bestScore = ii, score
		}
	}
	return best
}

// TrainOnBatch implements train.BatchTrainer.
func (p *Perceptron) TrainOnBatch(batch train.Batch[[]float64, string]) error {
	for ii, x := range batch.Inputs {
		if p.state.Weights == nil {
			p.initWeights(len(x))
		}
		if len(x) != p.NumFeatures() {
			return errors.Errorf("perceptron expects %d features, example has %d", p.NumFeatures(), len(x))
		}
		target, found := p.labelIndex[batch.Labels[ii]]
		if !found {
			return errors.Errorf("perceptron got label %q, not in its vocabulary %q", batch.Labels[ii], p.state.Labels)
		}
		predicted := p.predict(x)
		if predicted == target {
			continue
		}
		wTarget, wPredicted := p.state.Weights[target], p.state.Weights[predicted]
		for jj, v := range x {
			wTarget[jj] += p.learningRate * v
			wPredicted[jj] -= p.learningRate * v
		}
		wTarget[len(x)] += p.learningRate
		wPredicted[len(x)] -= p.learningRate
	}
	return nil
}

// Infer implements train.Inferer. Before any training it predicts the first label.
func (p *Perceptron) Infer(inputs [][]float64) ([]string, error) {
	predictions := make([]string, len(inputs))
	for ii, x := range inputs {
		if p.state.Weights == nil {
			predictions[ii] = p.state.Labels[0]
			continue
		}
		if len(x) != p.NumFeatures() {
			return nil, errors.Errorf("perceptron expects %d features, example %d has %d", p.NumFeatures(), ii, len(x))
		}
		predictions[ii] = p.state.Labels[p.predict(x)]
	}
	return predictions, nil
}

// Save implements train.Saver.
func (p *Perceptron) Save() error {
	return p.save(&p.state)
}
