// SPDX-License-Identifier: AGPL-3.0-only

// Package worker provides managed background goroutines with cooperative
// termination.
package worker

import (
	"errors"
	"sync"
	"time"
)

// ErrHaltTimeout is returned by HaltWithTimeout when one or more goroutines
// failed to terminate in time.
var ErrHaltTimeout = errors.New("worker: goroutines failed to halt in time")

// Worker is a set of managed background goroutines.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once

	haltCh chan interface{}
}

// Go executes the function fn in a new goroutine.  Multiple goroutines may
// be started under the same Worker.  It is the function's responsibility to
// monitor the channel returned by HaltCh and to return.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals all goroutines started under a Worker to terminate, and
// waits till all goroutines have returned.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	close(w.haltCh)
	w.Wait()
}

// HaltWithTimeout is Halt with an upper bound on how long to wait for the
// goroutines to return.  A timeout leaves the stragglers running and
// returns ErrHaltTimeout.
func (w *Worker) HaltWithTimeout(d time.Duration) error {
	w.initOnce.Do(w.init)
	close(w.haltCh)

	doneCh := make(chan interface{})
	go func() {
		defer close(doneCh)
		w.Wait()
	}()
	select {
	case <-doneCh:
		return nil
	case <-time.After(d):
		return ErrHaltTimeout
	}
}

// HaltCh returns the channel that will be closed on a call to Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
}
