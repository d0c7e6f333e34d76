package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// WorkerPool runs independent work items on a bounded number of goroutines.
type WorkerPool struct {
	// workerCount is the number of concurrent workers to start
	workerCount int

	// logger for structured logging
	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// NewWorkerPool creates a new worker pool with the given configuration
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	return &WorkerPool{
		workerCount: workerCount,
		logger:      logger,
	}
}

// Run calls fn for every index in [0, n) and waits for all calls to return.
// It reports how many calls failed and how many were skipped because ctx was
// done before they started. A panicking call is recovered and counted as
// failed; it never takes down the other workers.
func (p *WorkerPool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) (failed, skipped int) {
	if n <= 0 {
		return 0, 0
	}

	items := make(chan int)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	workers := min(p.workerCount, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range items {
				if err := p.call(ctx, i, fn); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			skipped = n - i
			break
		}
		select {
		case <-ctx.Done():
			skipped = n - i
		case items <- i:
			continue
		}
		break
	}
	close(items)
	wg.Wait()

	return failed, skipped
}

func (p *WorkerPool) call(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("work item panicked",
				"item", i,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("work item %d panicked: %v", i, r)
		}
	}()
	return fn(ctx, i)
}
