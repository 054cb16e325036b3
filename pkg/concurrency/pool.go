// Package concurrency moves trade side effects off the trading loop.
// Journal writes and notifications run here so a slow disk or webhook
// never delays the next cycle.
package concurrency

import (
	"fmt"
	"time"

	"github.com/alitto/pond"

	"premium_trader/internal/core"
)

// PoolConfig sizes one side-effect pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // a full queue rejects the task instead of stalling the cycle
}

// WorkerPool wraps alitto/pond with the trading loop's submission
// policy. A panicking task is contained and logged, never allowed to
// take the engine down with it.
type WorkerPool struct {
	pool   *pond.WorkerPool
	cfg    PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a pool sized for trade-event fan-out.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 256
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Trade event handler panicked", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		cfg:    cfg,
		logger: log,
	}
}

// Submit queues a task. In non-blocking mode a full queue returns an
// error; the caller decides whether the dropped work matters.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.cfg.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("pool %q full, task dropped (capacity %d)", wp.cfg.Name, wp.cfg.MaxCapacity)
		}
		return nil
	}

	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait queues a task and blocks until it has run.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		defer close(done)
		task()
	})
	<-done
}

// Backlog reports tasks queued but not yet started.
func (wp *WorkerPool) Backlog() uint64 {
	return wp.pool.WaitingTasks()
}

// Stop drains the queue and shuts the workers down. Pending journal
// writes and notifications complete before shutdown proceeds.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}
