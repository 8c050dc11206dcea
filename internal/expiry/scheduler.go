package expiry

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/metrics"
)

// Source lists orders whose payment window has run out.
type Source interface {
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Expirer cancels one order if it is still due once its lock is held.
type Expirer interface {
	ExpireIfDue(ctx context.Context, id string) (bool, error)
}

// Scheduler scans for overdue unpaid orders on a fixed interval and cancels
// them with bounded concurrency.
type Scheduler struct {
	source   Source
	expirer  Expirer
	logger   *logger.Logger
	interval time.Duration
	batch    int
	workers  int
	now      func() time.Time
}

func NewScheduler(source Source, expirer Expirer, interval time.Duration, batch, workers int, log *logger.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		source:   source,
		expirer:  expirer,
		logger:   log,
		interval: interval,
		batch:    batch,
		workers:  workers,
		now:      time.Now,
	}
}

// Run scans once immediately, then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("expiry scheduler started", "interval", s.interval, "batch", s.batch, "workers", s.workers)
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("expiry scan failed", err)
	}
}

// RunOnce performs one scan and returns how many orders it cancelled. A batch
// that comes back full is followed by another scan straight away.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.ObserveExpiryScan(time.Since(start)) }()

	total := 0
	for {
		ids, err := s.source.ListExpirable(ctx, s.now(), s.batch)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		var cancelled atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				ok, err := s.expirer.ExpireIfDue(gctx, id)
				if err != nil {
					// one bad order must not stop the rest of the batch
					s.logger.Warn("expire order failed", "order_id", id, err)
					return nil
				}
				if ok {
					cancelled.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		n := int(cancelled.Load())
		total += n
		metrics.RecordExpiry(n)
		if n > 0 {
			s.logger.Info("expired unpaid orders", "count", n)
		}
		// Anything skipped (receipt won, hold set) would be listed again, so only
		// continue while this round made progress on a full page.
		if len(ids) < s.batch || n == 0 || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
