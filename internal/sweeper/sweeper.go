// Package sweeper runs the periodic reconciliation jobs: fixed-interval
// background loops fully decoupled from request traffic. A failed pass is
// logged and retried on the next tick; it never stops the loop.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Func performs one sweep pass as of now and reports how many items it pruned.
type Func func(ctx context.Context, now time.Time) (int, error)

// Runner drives one sweep function on a fixed interval.
type Runner struct {
	name     string
	interval time.Duration
	sweep    Func

	stop chan struct{}
	done chan struct{}
}

func New(name string, interval time.Duration, sweep Func) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		sweep:    sweep,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Call Stop to shut it down.
func (r *Runner) Start() {
	go r.run()
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Runner) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Runner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	pruned, err := r.sweep(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("sweep pass failed", "job", r.name, "err", err)
		return
	}
	if pruned > 0 {
		slog.Info("sweep pass complete", "job", r.name, "pruned", pruned)
	}
}
