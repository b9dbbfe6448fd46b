// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authblock.
//
// go-authblock is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package sequence runs tasks one at a time, in the order they were posted,
// on a single worker goroutine. Components that complete work on other
// goroutines post their continuations here so shared state is only touched
// from one place.
package sequence

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("sequence: runner closed")

// Runner is a FIFO task queue drained by one goroutine.
type Runner struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// New starts a Runner.
func New() *Runner {
	r := &Runner{done: make(chan struct{})}
	r.cond = sync.NewCond(&r.mu)
	go r.loop()
	return r
}

// Post queues task. Tasks run in post order and never concurrently.
func (r *Runner) Post(task func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.queue = append(r.queue, task)
	r.cond.Signal()
	return nil
}

// Flush blocks until every task posted before it has run.
func (r *Runner) Flush() error {
	ran := make(chan struct{})
	if err := r.Post(func() { close(ran) }); err != nil {
		return err
	}
	<-ran
	return nil
}

// Close stops accepting tasks, runs the queued ones and waits for the worker
// to exit. It must not be called from a task.
func (r *Runner) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.cond.Broadcast()
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for !r.closed && len(r.queue) == 0 {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		task := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		task()
	}
}
