// Package workerpool starts and tears down the goroutines backing a single controller as one
// cancellation group. The controllers register only their event loop: the query timer is a
// ticker inside that loop, and the serial reader goroutine belongs to serialport.RealPort.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/fornellas/slogxt/log"
)

type worker struct {
	name       string
	fn         func(context.Context) error
	cancelFunc context.CancelFunc
	errCh      chan error
}

// Pool manages a group of workers and coordinates their cancellation and shutdown.
type Pool struct {
	workers []*worker
	logger  *slog.Logger
}

func New() *Pool {
	return &Pool{}
}

// Add registers a worker to be started. Workers are kept in reverse registration order: Cancel
// targets the most recently registered one, and Wait cancels and joins the rest in that order.
func (p *Pool) Add(name string, fn func(context.Context) error) {
	p.workers = append([]*worker{{name: name, fn: fn}}, p.workers...)
}

func (p *Pool) Start(ctx context.Context) {
	ctx, logger := log.MustWithGroup(ctx, "WorkerPool")
	p.logger = logger
	logger.Debug("Starting workers")
	for _, w := range p.workers {
		workerCtx, workerLogger := log.MustWithGroup(ctx, w.name)
		workerCtx, w.cancelFunc = context.WithCancel(workerCtx)
		w.errCh = make(chan error, 1)
		go func(w *worker) {
			var err error
			defer func() {
				workerLogger.Debug("Finished", "err", err)
				p.Cancel()
				if r := recover(); r != nil {
					workerLogger.Debug("Panic", "recovered", r, "stack", string(debug.Stack()))
					w.errCh <- fmt.Errorf("panic: %v", r)
				} else {
					w.errCh <- err
				}
			}()
			workerLogger.Debug("Starting")
			err = w.fn(workerCtx)
		}(w)
	}
	logger.Debug("All workers started")
}

// Cancel cancels the most recently registered worker; Wait then cancels the rest. Every worker
// also calls it as it exits. It is a no-op before Start.
func (p *Pool) Cancel() {
	if p.logger == nil || len(p.workers) == 0 {
		return
	}
	w := p.workers[0]
	p.logger.Debug("Cancelling", "name", w.name)
	w.cancelFunc()
}

// Wait cancels every worker except the most recently registered one (cancelled by Cancel, which
// the owner or any exiting worker calls) and joins them all, returning each one's terminal error.
func (p *Pool) Wait() map[string]error {
	if p.logger == nil {
		return nil
	}
	logger := p.logger.WithGroup("Wait")
	logger.Debug("Waiting for all workers")
	errMap := map[string]error{}
	for i, w := range p.workers {
		workerLogger := logger.WithGroup(w.name)
		if i > 0 {
			workerLogger.Debug("Cancelling")
			w.cancelFunc()
		}
		workerLogger.Debug("Waiting")
		errMap[w.name] = <-w.errCh
	}
	p.workers = nil
	logger.Debug("All workers returned")
	return errMap
}
