// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Actor errors
var (
	ErrActorStopped = errors.New("actor is not running")
	ErrQueueFull    = errors.New("actor queue is full")
)

// Job is one unit of work run by an Actor.
type Job func(ctx context.Context) error

// Result reports the outcome of a job.
type Result struct {
	Err      error
	Name     string
	Duration time.Duration
}

// ActorMetrics tracks operational metrics for an Actor.
type ActorMetrics struct {
	JobsRun        int64         // Jobs that ran to completion
	JobFailures    int64         // Jobs that returned an error
	JobsRejected   int64         // Submissions refused because the queue was full
	ResultsDropped int64         // Results discarded because nobody read them
	LastLatency    time.Duration // Duration of the last job
}

type namedJob struct {
	run  Job
	name string
}

// Actor runs submitted jobs one at a time on its own goroutine, keeping
// slow device round trips off the caller's goroutine. Results are
// delivered in submission order on Results.
type Actor struct {
	jobs     chan namedJob
	results  chan Result
	stopChan chan struct{}
	wg       sync.WaitGroup
	// Atomic counters for metrics
	jobsRun        atomic.Int64
	jobFailures    atomic.Int64
	jobsRejected   atomic.Int64
	resultsDropped atomic.Int64
	lastLatency    atomic.Int64 // in nanoseconds
	// Running state to prevent multiple goroutines
	running atomic.Bool
}

// NewActor creates a stopped actor that queues up to queueSize jobs.
func NewActor(queueSize int) *Actor {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Actor{
		jobs:     make(chan namedJob, queueSize),
		results:  make(chan Result, queueSize),
		stopChan: make(chan struct{}, 1),
	}
}

// Start launches the job loop. Jobs run with ctx; cancelling it stops the
// loop as well.
func (a *Actor) Start(ctx context.Context) error {
	if a.running.CompareAndSwap(false, true) {
		a.wg.Add(1)
		go a.loop(ctx)
	}
	return nil
}

func (a *Actor) loop(ctx context.Context) {
	defer a.wg.Done()
	defer a.running.Store(false)

	for {
		select {
		case job := <-a.jobs:
			a.run(ctx, job)
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Actor) run(ctx context.Context, job namedJob) {
	start := time.Now()
	err := job.run(ctx)
	elapsed := time.Since(start)

	a.jobsRun.Add(1)
	a.lastLatency.Store(elapsed.Nanoseconds())
	if err != nil {
		a.jobFailures.Add(1)
	}

	select {
	case a.results <- Result{Name: job.name, Err: err, Duration: elapsed}:
	default:
		a.resultsDropped.Add(1)
	}
}

// Submit queues a job without blocking.
func (a *Actor) Submit(name string, job Job) error {
	if !a.running.Load() {
		return ErrActorStopped
	}
	select {
	case a.jobs <- namedJob{name: name, run: job}:
		return nil
	default:
		a.jobsRejected.Add(1)
		return ErrQueueFull
	}
}

// Results returns the channel job outcomes are delivered on.
func (a *Actor) Results() <-chan Result {
	return a.results
}

// Stop stops the actor after the running job, if any, and waits for the
// loop goroutine to exit. Queued jobs that have not started are dropped.
func (a *Actor) Stop(_ context.Context) error {
	select {
	case a.stopChan <- struct{}{}:
	default:
	}
	a.wg.Wait()
	// An actor that was never started leaves the signal unread.
	select {
	case <-a.stopChan:
	default:
	}
	return nil
}

// GetMetrics returns current operational metrics.
func (a *Actor) GetMetrics() ActorMetrics {
	return ActorMetrics{
		JobsRun:        a.jobsRun.Load(),
		JobFailures:    a.jobFailures.Load(),
		JobsRejected:   a.jobsRejected.Load(),
		ResultsDropped: a.resultsDropped.Load(),
		LastLatency:    time.Duration(a.lastLatency.Load()),
	}
}
