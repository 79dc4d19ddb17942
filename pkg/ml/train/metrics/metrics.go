// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds a library of metrics computed over complete splits, a Registry
// to resolve them by name and Values, the ordered result reported by the training loop.
//
// A metric is a pure function of the true and the predicted labels: it is computed once
// over everything accumulated (a whole split or a logging window), never per batch.
package metrics

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// Fn is a metric: a pure function of the true and predicted labels, both of the same length.
type Fn[Y any] func(yTrue, yPred []Y) float64

// Named binds a metric function to its name.
type Named[Y any] struct {
	Name string
	Fn   Fn[Y]
}

// ErrUnknownMetric is returned by Registry.Resolve for names not registered.
var ErrUnknownMetric = errors.New("unknown metric")

// Registry maps metric names to functions.
type Registry[Y any] struct {
	fns map[string]Fn[Y]
}

// NewRegistry returns an empty Registry.
func NewRegistry[Y any]() *Registry[Y] {
	return &Registry[Y]{fns: make(map[string]Fn[Y])}
}

// Register adds or replaces the metric with the given name. It returns the registry, so calls can be chained.
func (r *Registry[Y]) Register(name string, fn Fn[Y]) *Registry[Y] {
	r.fns[name] = fn
	return r
}

// Names returns the registered metric names, sorted.
func (r *Registry[Y]) Names() []string {
	return slices.Sorted(maps.Keys(r.fns))
}

// Resolve returns the metrics with the given names, in the same order.
// Any unknown name returns an error wrapping ErrUnknownMetric.
func (r *Registry[Y]) Resolve(names []string) ([]Named[Y], error) {
	resolved := make([]Named[Y], 0, len(names))
	for _, name := range names {
		fn, found := r.fns[name]
		if !found {
			return nil, errors.Wrapf(ErrUnknownMetric, "metric %q is not one of %q", name, r.Names())
		}
		resolved = append(resolved, Named[Y]{Name: name, Fn: fn})
	}
	return resolved, nil
}

// Compute evaluates every metric over the given labels, preserving the order of fns.
func Compute[Y any](fns []Named[Y], yTrue, yPred []Y) Values {
	values := make(Values, 0, len(fns))
	for _, named := range fns {
		values = append(values, Value{Name: named.Name, Score: named.Fn(yTrue, yPred)})
	}
	return values
}
