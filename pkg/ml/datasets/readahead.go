// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"iter"
	"sync"
)

// ReadAhead returns a sequence that reads up to bufferSize elements of seq in a background
// goroutine, so that when the next element is requested it is (hopefully) ready.
//
// The order of the elements is preserved. If the consumer stops early, the background goroutine
// is stopped before the iteration returns, so no goroutine is leaked.
//
// If bufferSize <= 0, seq is returned unchanged.
func ReadAhead[T any](seq iter.Seq[T], bufferSize int) iter.Seq[T] {
	if bufferSize <= 0 {
		return seq
	}
	return func(yield func(T) bool) {
		buffer := make(chan T, bufferSize)
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(buffer)
			for e := range seq {
				select {
				case buffer <- e:
				case <-stop:
					return
				}
			}
		}()
		defer func() {
			close(stop)
			wg.Wait()
		}()
		for e := range buffer {
			if !yield(e) {
				return
			}
		}
	}
}
