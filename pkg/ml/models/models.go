// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models implements a registry of model constructors, keyed by the name used in the
// experiment configuration, and a few simple models over numeric features ([]float64) with
// string labels:
//
//   - "perceptron": multiclass perceptron, trained one batch at a time (train.BatchIncremental).
//   - "nearest_centroid": classifies by the closest per-label mean, fit in one pass (train.WholeDatasetFit).
//   - "majority": predicts the most frequent label, trains itself from the dataset (train.LegacyOpaque).
//   - "label_vocab": the sorted set of labels, used as a vocabulary by other models (train.WholeDatasetFit).
//   - "constant": predicts a fixed label, not trainable (train.NotTrainable).
//
// Every trainable model persists itself with package checkpoints in its `save_path` directory, and
// in ModeInfer it is restored from the latest checkpoint in `load_path` (defaults to `save_path`).
package models

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/batchtrain/pkg/ml/checkpoints"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
)

// Mode in which a model is constructed.
type Mode int

const (
	// ModeTrain constructs a model to be trained: a fresh one.
	ModeTrain Mode = iota

	// ModeInfer constructs a model from its latest checkpoint, which must exist.
	ModeInfer
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeInfer {
		return "infer"
	}
	return "train"
}

// Vocabs holds the fitted vocabularies, by their name in the experiment configuration.
type Vocabs map[string]any

// Constructor of a model from the parameters of its section (including the `name` key), the fitted
// vocabularies and the mode.
type Constructor func(params json.RawMessage, vocabs Vocabs, mode Mode) (any, error)

// Registry maps model names to constructors. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Default returns a registry with all the models of this package.
func Default() *Registry {
	return NewRegistry().
		Register(PerceptronName, NewPerceptron).
		Register(NearestCentroidName, NewNearestCentroid).
		Register(MajorityName, NewMajority).
		Register(LabelVocabName, NewLabelVocab).
		Register(ConstantName, NewConstant)
}

// Register the constructor with the given name, replacing any previous one.
// It returns the registry, so calls can be chained.
func (r *Registry) Register(name string, constructor Constructor) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = constructor
	return r
}

// Names of the registered models, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.constructors))
}

// ComponentName returns the `name` of a component section.
func ComponentName(section json.RawMessage) (string, error) {
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(section, &named); err != nil {
		return "", errors.Wrapf(train.ErrConfig, "component section must be a JSON object: %v", err)
	}
	if named.Name == "" {
		return "", errors.Wrapf(train.ErrConfig, "component section has no \"name\": %s", section)
	}
	return named.Name, nil
}

// New constructs the model configured by section, selected by its `name`.
// An unknown name is a configuration error.
func (r *Registry) New(section json.RawMessage, vocabs Vocabs, mode Mode) (any, error) {
	name, err := ComponentName(section)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	constructor, found := r.constructors[name]
	r.mu.RUnlock()
	if !found {
		return nil, errors.Wrapf(train.ErrConfig, "unknown model %q, registered models are %q", name, r.Names())
	}
	model, err := constructor(section, vocabs, mode)
	if err != nil {
		return nil, errors.WithMessagef(err, "building model %q in %s mode", name, mode)
	}
	return model, nil
}

// Persistence parameters shared by the trainable models.
type Persistence struct {
	// SavePath is the directory where the model checkpoints are saved.
	SavePath string `json:"save_path"`

	// LoadPath is the directory from where the model is loaded in ModeInfer. Defaults to SavePath.
	LoadPath string `json:"load_path"`

	// KeepCheckpoints is the number of checkpoints kept in SavePath, -1 keeps all. Defaults to 1.
	KeepCheckpoints int `json:"keep_checkpoints"`

	// Compression of the checkpoints saved: "gzip" (the default) or "uncompressed".
	// Loading detects the compression of each checkpoint.
	Compression string `json:"compression"`
}

// checkpoint is embedded by the models to save and restore their state.
type checkpoint struct {
	handler *checkpoints.Handler
}

// open the checkpoint directory for the mode. In ModeInfer it restores the latest checkpoint into state.
func (c *checkpoint) open(p Persistence, mode Mode, state any) error {
	if mode == ModeInfer {
		loadPath := p.LoadPath
		if loadPath == "" {
			loadPath = p.SavePath
		}
		if loadPath == "" {
			return errors.Wrapf(train.ErrConfig, "load_path or save_path required to load model")
		}
		handler, err := checkpoints.Load().Dir(loadPath).Done()
		if err != nil {
			return err
		}
		if _, err = handler.LoadLatest(state); err != nil {
			return err
		}
		c.handler = handler
		return nil
	}
	if p.SavePath == "" {
		return errors.Wrapf(train.ErrConfig, "save_path required to train model")
	}
	keep := p.KeepCheckpoints
	if keep == 0 {
		keep = 1
	}
	compression, err := checkpoints.ParseBinFormat(p.Compression)
	if err != nil {
		return errors.Wrapf(train.ErrConfig, "compression: %v", err)
	}
	handler, err := checkpoints.Build().Dir(p.SavePath).Keep(keep).WithCompression(compression).Done()
	if err != nil {
		return err
	}
	c.handler = handler
	return nil
}

// save the state to a new checkpoint.
func (c *checkpoint) save(state any) error {
	if c.handler == nil {
		return errors.New("model has no checkpoint directory configured")
	}
	return c.handler.Save(state)
}

// CheckpointDir returns the directory the model saves to (or, in ModeInfer, was loaded from).
func (c *checkpoint) CheckpointDir() string {
	return c.handler.Dir()
}
