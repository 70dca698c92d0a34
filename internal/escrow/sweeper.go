package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sweeper periodically marks long-expired held transactions abandoned.
// No timer fires a transition on its own in the engine; this is the optional
// operational job that converts an expired, un-acted transaction into its
// terminal state. Disabled unless started.
type Sweeper struct {
	service  *Service
	store    Store
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper. grace is how far past the dispute deadline a
// held transaction must be before it is written off.
func NewSweeper(service *Service, store Store, interval, grace time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		store:    store,
		interval: interval,
		grace:    grace,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (sw *Sweeper) Running() bool {
	return sw.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.running.Store(true)
	defer sw.running.Store(false)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (sw *Sweeper) Stop() {
	select {
	case sw.stop <- struct{}{}:
	default:
	}
}

func (sw *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.Error("panic in escrow sweeper", "panic", fmt.Sprint(r))
		}
	}()
	sw.sweep(ctx)
}

func (sw *Sweeper) sweep(ctx context.Context) {
	cutoff := sw.service.clock.Now().Add(-sw.grace)

	txs, err := sw.store.List(ctx)
	if err != nil {
		sw.logger.Warn("sweeper failed to list transactions", "error", err)
		return
	}

	for _, t := range txs {
		// Only never-acted held transactions get written off; anything the
		// parties touched stays for a human decision.
		if t.Status != StatusHeld || !t.DisputeDeadline.Before(cutoff) {
			continue
		}
		if _, err := sw.service.MarkAbandoned(ctx, t.Code); err != nil {
			sw.logger.Warn("failed to abandon expired transaction",
				"code", t.Code, "error", err)
			continue
		}
		sw.logger.Info("abandoned expired transaction",
			"code", t.Code, "deadline", t.DisputeDeadline)
	}
}
