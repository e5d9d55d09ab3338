// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workpool runs background jobs on a fixed set of worker
// goroutines fed by an unbounded FIFO queue.
//
// Bundle reads, decodes, and asset loads are submitted from the frame
// goroutine and must never block it, so Submit only appends to the
// queue. The number of concurrently running jobs is bounded by the
// worker count no matter how many loads are requested in one frame.
//
// Workers are supervised by an errgroup. Close stops accepting jobs,
// cancels the context handed to running jobs, lets the workers drain
// whatever is still queued (each drained job sees a cancelled context
// and is expected to return promptly), and waits for them to exit.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workpool: closed")

// Pool is a bounded set of workers. Submit and Close are safe for
// concurrent use.
type Pool struct {
	mu      sync.Mutex
	ready   *sync.Cond
	queue   []func(context.Context)
	closed  bool
	running int

	workers int
	cancel  context.CancelFunc
	group   *errgroup.Group
	logger  *slog.Logger
}

// New starts a pool with the given number of workers. A non-positive
// count uses GOMAXPROCS. A nil logger discards output.
func New(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(base)

	pool := &Pool{
		workers: workers,
		cancel:  cancel,
		group:   group,
		logger:  logger.With("component", "workpool"),
	}
	pool.ready = sync.NewCond(&pool.mu)

	for range workers {
		group.Go(func() error {
			pool.work(ctx)
			return nil
		})
	}
	return pool
}

// Submit queues job. The job receives a context that is cancelled when
// the pool closes. Submit never blocks on worker availability.
func (p *Pool) Submit(job func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, job)
	p.ready.Signal()
	return nil
}

// Workers returns the worker count.
func (p *Pool) Workers() int { return p.workers }

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Running returns the number of jobs currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close stops the pool and waits for every worker to exit. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.ready.Broadcast()
	p.mu.Unlock()

	p.cancel()
	return p.group.Wait()
}

func (p *Pool) work(ctx context.Context) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.ready.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.running++
		p.mu.Unlock()

		p.run(ctx, job)

		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}
}

// run executes one job, keeping a panicking job from taking the worker
// down with it.
func (p *Pool) run(ctx context.Context, job func(context.Context)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("job panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	job(ctx)
}
