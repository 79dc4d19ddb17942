// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"iter"
	"slices"

	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(state *State) error

// OnStepFn is the type of OnStep hooks, called after each training batch.
type OnStepFn func(state *State) error

// OnValidationFn is the type of OnValidation hooks, called after each validation report.
type OnValidationFn func(state *State, report *EvalReport) error

// OnEndFn is the type of OnEnd hooks, called after the final save of a run.
// They are also called when the run is aborted by an error, in which case the phase is still Running.
type OnEndFn func(state *State) error

// Observable is implemented by anything that accepts training hooks, in particular Loop.
//
// It allows tools (progress bars, plots, checkpointing) to attach to a Loop without
// knowing its input and label types.
type Observable interface {
	OnStart(name string, priority Priority, fn OnStartFn)
	OnStep(name string, priority Priority, fn OnStepFn)
	OnValidation(name string, priority Priority, fn OnValidationFn)
	OnEnd(name string, priority Priority, fn OnEndFn)
}

// Hooks holds the registered hooks. It implements Observable and is embedded in Loop.
type Hooks struct {
	onStart      priorityHooks[OnStartFn]
	onStep       priorityHooks[OnStepFn]
	onValidation priorityHooks[OnValidationFn]
	onEnd        priorityHooks[OnEndFn]
}

var _ Observable = (*Hooks)(nil)

// OnStart adds a hook with given priority and name (for error reporting) to the start of a run.
func (h *Hooks) OnStart(name string, priority Priority, fn OnStartFn) {
	h.onStart.Add(priority, name, fn)
}

// OnStep adds a hook with given priority and name (for error reporting) called after each training batch.
func (h *Hooks) OnStep(name string, priority Priority, fn OnStepFn) {
	h.onStep.Add(priority, name, fn)
}

// OnValidation adds a hook with given priority and name (for error reporting) called after each
// validation during training.
func (h *Hooks) OnValidation(name string, priority Priority, fn OnValidationFn) {
	h.onValidation.Add(priority, name, fn)
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a run,
// after the final save. It also runs when the run fails.
func (h *Hooks) OnEnd(name string, priority Priority, fn OnEndFn) {
	h.onEnd.Add(priority, name, fn)
}

func (h *Hooks) runStart(state *State) error {
	for hook := range h.onStart.All() {
		if err := hook.fn(state); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

func (h *Hooks) runStep(state *State) error {
	for hook := range h.onStep.All() {
		if err := hook.fn(state); err != nil {
			return errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
		}
	}
	return nil
}

func (h *Hooks) runValidation(state *State, report *EvalReport) error {
	for hook := range h.onValidation.All() {
		if err := hook.fn(state, report); err != nil {
			return errors.WithMessagef(err, "OnValidation(hook %q)", hook.name)
		}
	}
	return nil
}

func (h *Hooks) runEnd(state *State) error {
	for hook := range h.onEnd.All() {
		if err := hook.fn(state); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks of type F per priority. The zero value is ready to use.
type priorityHooks[F any] struct {
	hooks map[Priority][]hookWithName[F]
}

// Add hook at the given priority.
func (h *priorityHooks[F]) Add(priority Priority, name string, fn F) {
	if h.hooks == nil {
		h.hooks = make(map[Priority][]hookWithName[F])
	}
	h.hooks[priority] = append(h.hooks[priority], hookWithName[F]{name: name, fn: fn})
}

// All returns an iterator over all registered hooks in priority order. Hooks with the same
// priority are returned in the order they were added.
func (h *priorityHooks[F]) All() iter.Seq[hookWithName[F]] {
	return func(yield func(hookWithName[F]) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
