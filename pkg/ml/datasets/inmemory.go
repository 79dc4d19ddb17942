// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"encoding/json"
	"iter"
	"math/rand"
	"sync"
	"time"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InMemoryName is the name of the `dataset` component served by InMemory.
const InMemoryName = "in_memory"

// InMemoryConfig are the parameters of the `dataset` section.
type InMemoryConfig struct {
	// Seed for the shuffling of the train split. If nil the current time is used.
	Seed *int64 `json:"seed"`

	// Shuffle enables shuffling when the training loop requests it. Defaults to true.
	Shuffle bool `json:"shuffle"`

	// TakeN limits the number of batches yielded per pass over a split. 0 means no limit.
	TakeN int `json:"take_n"`

	// ReadAhead is the number of batches prepared in the background while the previous ones are consumed.
	// 0 disables it.
	ReadAhead int `json:"read_ahead"`
}

// DefaultInMemoryConfig returns the parameters used for the options not given in the `dataset` section.
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{Shuffle: true}
}

// InMemory implements train.Dataset over examples held in memory.
//
// Shuffling follows the configured policy: when enabled, every shuffled pass draws a new permutation
// from the dataset's random number generator, so a seeded dataset is reproducible.
// Unshuffled passes are always in the original order.
type InMemory[X, Y any] struct {
	name   string
	splits Splits[X, Y]

	// muSampling serializes the use of the random number generator.
	muSampling sync.Mutex

	shuffle   bool
	takeN     int
	readAhead int

	// randomNumberGenerator used when shuffling, allows for deterministic datasets.
	randomNumberGenerator *rand.Rand
}

var _ train.Dataset[int, int] = (*InMemory[int, int])(nil)

// NewInMemory creates a dataset serving the given splits. It is shuffled with a random number generator
// seeded with the current time, see WithRand and Shuffle to change that.
func NewInMemory[X, Y any](name string, splits Splits[X, Y]) (*InMemory[X, Y], error) {
	if err := splits.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", name)
	}
	if splits == nil {
		splits = make(Splits[X, Y])
	}
	return &InMemory[X, Y]{
		name:                  name,
		splits:                splits,
		shuffle:               true,
		randomNumberGenerator: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// BuildInMemory creates the dataset from the parameters of the `dataset` section (see InMemoryConfig).
func BuildInMemory[X, Y any](name string, splits Splits[X, Y], params json.RawMessage) (*InMemory[X, Y], error) {
	config := DefaultInMemoryConfig()
	if err := train.DecodeParams(params, &config); err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", InMemoryName)
	}
	if config.TakeN < 0 {
		return nil, errors.Wrapf(train.ErrConfig, "dataset %q: take_n must be >= 0, got %d", InMemoryName, config.TakeN)
	}
	if config.ReadAhead < 0 {
		return nil, errors.Wrapf(train.ErrConfig, "dataset %q: read_ahead must be >= 0, got %d",
			InMemoryName, config.ReadAhead)
	}
	ds, err := NewInMemory(name, splits)
	if err != nil {
		return nil, err
	}
	ds.Shuffle(config.Shuffle).TakeN(config.TakeN).WithReadAhead(config.ReadAhead)
	if config.Seed != nil {
		ds.WithRand(rand.New(rand.NewSource(*config.Seed)))
	}
	for _, split := range []string{train.SplitTrain, train.SplitValid, train.SplitTest} {
		klog.V(1).Infof("Dataset %q: %d examples in split %q", name, splits.NumExamples(split), split)
	}
	return ds, nil
}

// Name of the dataset.
func (mds *InMemory[X, Y]) Name() string {
	return mds.name
}

// NumExamples in the given split.
func (mds *InMemory[X, Y]) NumExamples(split string) int {
	return mds.splits.NumExamples(split)
}

// Shuffle enables or disables shuffling. When disabled, requests for shuffled batches are served in order.
//
// It returns the modified InMemory, so calls can be cascaded if one wants.
func (mds *InMemory[X, Y]) Shuffle(enabled bool) *InMemory[X, Y] {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.shuffle = enabled
	return mds
}

// WithRand sets the random number generator (RNG) for shuffling. This allows for repeatable
// deterministic sampling, if one wants. The default is to use an RNG initialized with the current
// nanosecond time.
//
// It returns the modified InMemory, so calls can be cascaded if one wants.
func (mds *InMemory[X, Y]) WithRand(rng *rand.Rand) *InMemory[X, Y] {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.randomNumberGenerator = rng
	return mds
}

// TakeN limits the number of batches yielded by each call to BatchGenerator. If n <= 0 there is no limit.
//
// It returns the modified InMemory, so calls can be cascaded if one wants.
func (mds *InMemory[X, Y]) TakeN(n int) *InMemory[X, Y] {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.takeN = n
	return mds
}

// WithReadAhead sets the number of batches prepared in a background goroutine, see ReadAhead.
// If n <= 0 batches are prepared only when requested.
//
// It returns the modified InMemory, so calls can be cascaded if one wants.
func (mds *InMemory[X, Y]) WithReadAhead(n int) *InMemory[X, Y] {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.readAhead = n
	return mds
}

// permutation returns the order in which to yield the examples of a split of size n.
func (mds *InMemory[X, Y]) permutation(n int, shuffle bool) []int {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	if shuffle && mds.shuffle {
		return mds.randomNumberGenerator.Perm(n)
	}
	order := make([]int, n)
	for ii := range order {
		order[ii] = ii
	}
	return order
}

// BatchGenerator implements train.Dataset.
//
// The permutation of a shuffled pass is drawn when iteration starts, not when BatchGenerator is called.
func (mds *InMemory[X, Y]) BatchGenerator(batchSize int, split string, shuffle bool) iter.Seq[train.Batch[X, Y]] {
	mds.muSampling.Lock()
	readAhead := mds.readAhead
	mds.muSampling.Unlock()
	return ReadAhead(mds.batches(batchSize, split, shuffle), readAhead)
}

func (mds *InMemory[X, Y]) batches(batchSize int, split string, shuffle bool) iter.Seq[train.Batch[X, Y]] {
	return func(yield func(train.Batch[X, Y]) bool) {
		data := mds.splits[split]
		numExamples := data.Len()
		if numExamples == 0 {
			return
		}
		if batchSize == train.WholeSplit || batchSize > numExamples {
			batchSize = numExamples
		}
		if batchSize <= 0 {
			batchSize = 1
		}
		mds.muSampling.Lock()
		takeN := mds.takeN
		mds.muSampling.Unlock()

		order := mds.permutation(numExamples, shuffle)
		for start, count := 0, 0; start < numExamples; start, count = start+batchSize, count+1 {
			if takeN > 0 && count >= takeN {
				return
			}
			indices := order[start:min(start+batchSize, numExamples)]
			batch := train.Batch[X, Y]{
				Inputs: make([]X, len(indices)),
				Labels: make([]Y, len(indices)),
			}
			for ii, idx := range indices {
				batch.Inputs[ii] = data.Inputs[idx]
				batch.Labels[ii] = data.Labels[idx]
			}
			if !yield(batch) {
				return
			}
		}
	}
}

// IterAll implements train.Dataset. It yields the examples in their original order.
func (mds *InMemory[X, Y]) IterAll(split string) iter.Seq2[X, Y] {
	return func(yield func(X, Y) bool) {
		data := mds.splits[split]
		for ii, input := range data.Inputs {
			if !yield(input, data.Labels[ii]) {
				return
			}
		}
	}
}
