// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package task provides Future, a single background computation whose
// outcome is polled from the frame goroutine or waited on by a caller
// that is willing to block.
//
// The worker writes the result and error exactly once and then closes
// the done channel; the close publishes both fields to any goroutine
// that observes it. Polling (IsCompleted) never blocks and Wait sleeps
// on the channel instead of spinning.
//
// Cancel is cooperative: it cancels the context passed to the work
// function, which is expected to check it between steps. A cancelled
// Future completes with the context's error. Nothing is notified
// beyond that; callers must not expect a callback after Cancel.
package task

import (
	"context"
	"fmt"
	"sync"
)

// Runner schedules jobs. *workpool.Pool satisfies it.
type Runner interface {
	Submit(job func(ctx context.Context)) error
}

// Future is the outcome of one background computation.
type Future[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	result T
	err    error
}

// Start schedules work on runner and returns its Future. If runner
// rejects the job, the Future is already completed with that error.
// The work function's context is cancelled by Cancel or when the
// runner cancels the job's own context (pool shutdown).
func Start[T any](runner Runner, work func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(context.Background())
	future := &Future[T]{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	err := runner.Submit(func(runnerCtx context.Context) {
		stop := context.AfterFunc(runnerCtx, cancel)
		defer stop()
		future.run(work)
	})
	if err != nil {
		var zero T
		future.complete(zero, err)
	}
	return future
}

// Completed returns a Future that has already finished with result and
// err. Used where a synchronous path needs to hand back the same shape
// as an asynchronous one.
func Completed[T any](result T, err error) *Future[T] {
	ctx, cancel := context.WithCancel(context.Background())
	future := &Future[T]{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	future.complete(result, err)
	return future
}

func (f *Future[T]) run(work func(ctx context.Context) (T, error)) {
	var zero T
	defer func() {
		if recovered := recover(); recovered != nil {
			f.complete(zero, fmt.Errorf("task panicked: %v", recovered))
		}
	}()

	if err := f.ctx.Err(); err != nil {
		f.complete(zero, err)
		return
	}
	result, err := work(f.ctx)
	if err == nil && f.ctx.Err() != nil {
		// Cancelled while the last step ran; the result is discarded.
		f.complete(zero, f.ctx.Err())
		return
	}
	f.complete(result, err)
}

func (f *Future[T]) complete(result T, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		f.cancel()
	})
}

// Done returns a channel closed when the Future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsCompleted reports whether the Future has finished, successfully or
// not. Never blocks.
func (f *Future[T]) IsCompleted() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the Future finished without error.
func (f *Future[T]) IsSuccessful() bool {
	return f.IsCompleted() && f.err == nil
}

// Result returns the computed value, or the zero value if the Future
// has not completed or failed.
func (f *Future[T]) Result() T {
	if !f.IsCompleted() {
		var zero T
		return zero
	}
	return f.result
}

// Err returns the failure, or nil if the Future has not completed or
// succeeded.
func (f *Future[T]) Err() error {
	if !f.IsCompleted() {
		return nil
	}
	return f.err
}

// ErrorMessage returns Err as text, or "" when there is no error.
func (f *Future[T]) ErrorMessage() string {
	if err := f.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Wait blocks until the Future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the work function to stop. Safe to call at any time and
// more than once.
func (f *Future[T]) Cancel() { f.cancel() }
