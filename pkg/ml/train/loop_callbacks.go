// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"math"
	"time"

	"github.com/gomlx/exceptions"
)

type everyNSteps struct {
	n, count int
	fn       OnStepFn
}

func (eN *everyNSteps) onStep(state *State) error {
	eN.count++
	if eN.count%eN.n != 0 {
		return nil
	}
	return eN.fn(state)
}

// EveryNSteps registers a OnStep hook on the loop that is called every N training batches.
//
// Notice that it does not call `fn` at the last step (except by coincidence).
func EveryNSteps(loop Observable, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNSteps(n=%d): n must be > 0", n)
	}
	eN := &everyNSteps{n: n, fn: fn}
	fullName := fmt.Sprintf("EveryNSteps(%d): %s", n, name)
	loop.OnStep(fullName, priority, eN.onStep)
}

type periodicCallback struct {
	last    time.Time
	period  time.Duration
	started bool
	fn      OnStepFn
}

func (p *periodicCallback) onStep(state *State) error {
	if !p.started {
		// Start the clock.
		p.started = true
		p.last = time.Now()
		return nil
	}
	elapsed := time.Since(p.last)
	if elapsed < p.period {
		return nil
	}

	err := p.fn(state)
	p.last = time.Now()
	return err
}

// PeriodicCallback registers an `OnStep` hook on the loop that is called every period of time.
// The period counts after the execution of `fn`: this discounts the time to run it (in case it is expensive)
// and it discounts cases where the execution is paused. By other hand, `fn` is not executed exactly at every
// `period` time.
//
// If callOnEnd is set, it will also call at the end of the loop.
func PeriodicCallback(loop Observable, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	p := &periodicCallback{
		period: period,
		fn:     fn,
	}
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	loop.OnStep(fullName, priority, p.onStep)
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(state *State) error { return p.fn(state) })
	}
}

// ExponentialCallback registers an `OnStep` hook on the loop that is called at exponentially increasing number
// of batches in between, starting with startStep, and growing at geometric factor of exponentialFactor.
//
// If callOnEnd is set, it will also call at the end of the loop.
//
// Example: This will call at batches 100, 100+100*1.2 = 220, 220+100*1.2^2 = 364, ...
//
//	ExponentialCallback(loop, 100, 1.2, false, "my_callback", 100, myCallback)
func ExponentialCallback(loop Observable, startStep int, exponentialFactor float64, callOnEnd bool,
	name string, priority Priority, fn OnStepFn) {
	if startStep <= 0 || exponentialFactor <= 1 {
		exceptions.Panicf("Invalid parameters for ExponentialCallback(startStep=%d, exponentialFactor=%f), startStep must be > 0 and exponentialFactor must be > 1", startStep, exponentialFactor)
	}
	e := &exponentialCallback{
		currentStepSkip:   startStep,
		nextStepToCall:    startStep,
		exponentialFactor: exponentialFactor,
		fn:                fn,
	}
	fullName := fmt.Sprintf("ExponentialCallback(%d, %f): %s", startStep, exponentialFactor, name)
	loop.OnStep(fullName, priority, e.onStep)
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(state *State) error { return e.fn(state) })
	}
}

type exponentialCallback struct {
	currentStepSkip, nextStepToCall int
	exponentialFactor               float64
	fn                              OnStepFn
}

func (e *exponentialCallback) bump() {
	e.currentStepSkip = int(math.Round(float64(e.currentStepSkip) * e.exponentialFactor))
	e.nextStepToCall += e.currentStepSkip
}

func (e *exponentialCallback) onStep(state *State) error {
	if state.BatchesSeen < e.nextStepToCall {
		return nil
	}
	e.bump()
	return e.fn(state)
}
