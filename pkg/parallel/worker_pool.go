// Package parallel runs independent jobs on a bounded pool of goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWorkers is min(NumCPU, 8), at least 2.
func DefaultWorkers() int {
	return min(max(runtime.NumCPU(), 2), 8)
}

// Result is the outcome of one job.
type Result[T any, R any] struct {
	Input    T
	Value    R
	Err      error
	Duration time.Duration

	done bool
}

// Pool maps inputs to results with at most Workers jobs in flight.
type Pool[T any, R any] struct {
	workers int
}

// NewPool returns a pool of n workers; n <= 0 selects DefaultWorkers.
func NewPool[T any, R any](n int) *Pool[T, R] {
	if n <= 0 {
		n = DefaultWorkers()
	}
	return &Pool[T, R]{workers: n}
}

// Workers returns the pool size.
func (p *Pool[T, R]) Workers() int { return p.workers }

// Map runs fn over inputs. Results keep the input order. Jobs not started
// before ctx is canceled carry ctx.Err().
func (p *Pool[T, R]) Map(ctx context.Context, inputs []T, fn func(ctx context.Context, in T) (R, error)) []Result[T, R] {
	if len(inputs) == 0 {
		return nil
	}
	results := make([]Result[T, R], len(inputs))
	next := make(chan int)

	var wg sync.WaitGroup
	for range min(p.workers, len(inputs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range next {
				start := time.Now()
				v, err := fn(ctx, inputs[idx])
				results[idx] = Result[T, R]{
					Input:    inputs[idx],
					Value:    v,
					Err:      err,
					Duration: time.Since(start),
					done:     true,
				}
			}
		}()
	}

feed:
	for i := range inputs {
		select {
		case <-ctx.Done():
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if !results[i].done {
				results[i] = Result[T, R]{Input: inputs[i], Err: err}
			}
		}
	}
	return results
}

// ProgressTracker reports a completion count on a fixed interval until
// stopped.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	callback  func(completed, total int64)
	interval  time.Duration
	stopCh    chan struct{}
	stopped   atomic.Bool
}

// NewProgressTracker creates a tracker; interval defaults to 500ms.
func NewProgressTracker(total int64, callback func(completed, total int64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressTracker{
		total:    total,
		callback: callback,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins reporting in a background goroutine.
func (pt *ProgressTracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pt.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pt.stopCh:
				return
			case <-ticker.C:
				if pt.callback != nil {
					pt.callback(pt.completed.Load(), pt.total)
				}
			}
		}
	}()
}

func (pt *ProgressTracker) Increment() { pt.completed.Add(1) }

func (pt *ProgressTracker) Completed() int64 { return pt.completed.Load() }

// Stop is safe to call more than once.
func (pt *ProgressTracker) Stop() {
	if pt.stopped.CompareAndSwap(false, true) {
		close(pt.stopCh)
	}
}
