package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/elonfeng/pricewatch/internal/store"
	"github.com/elonfeng/pricewatch/pkg/alert"
	"github.com/elonfeng/pricewatch/pkg/fetch"
	"go.uber.org/zap"
)

// ErrCycleRunning is returned by TryRunCycle when a cycle is already in
// progress.
var ErrCycleRunning = errors.New("tracking cycle already running")

// Extractor pulls a price out of fetched page bytes.
type Extractor interface {
	Extract(body []byte) (price float64, ok bool)
}

// Scheduler runs periodic tracking cycles over all subscribed products.
type Scheduler struct {
	store         store.Store
	fetcher       fetch.Fetcher
	extractor     Extractor
	evaluator     *alert.Evaluator
	logger        *zap.Logger
	cycleInterval time.Duration
	recheckWindow time.Duration

	mu sync.Mutex // held while a cycle is running
}

// New creates a new scheduler.
func New(
	s store.Store,
	fetcher fetch.Fetcher,
	extractor Extractor,
	evaluator *alert.Evaluator,
	logger *zap.Logger,
	cycleInterval, recheckWindow time.Duration,
) *Scheduler {
	if cycleInterval == 0 {
		cycleInterval = 30 * time.Minute
	}
	if recheckWindow == 0 {
		recheckWindow = 10 * time.Minute
	}
	return &Scheduler{
		store:         s,
		fetcher:       fetcher,
		extractor:     extractor,
		evaluator:     evaluator,
		logger:        logger,
		cycleInterval: cycleInterval,
		recheckWindow: recheckWindow,
	}
}

// Run starts the scheduler loop: one cycle immediately, then one per
// interval. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cycleInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler: initial cycle")
	s.tryCycle(ctx)

	s.logger.Info("scheduler running", zap.Duration("interval", s.cycleInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tryCycle(ctx)
		}
	}
}

func (s *Scheduler) tryCycle(ctx context.Context) {
	if err := s.TryRunCycle(ctx); err != nil {
		s.logger.Warn("cycle skipped", zap.Error(err))
	}
}

// TryRunCycle runs one tracking cycle unless one is already in
// progress. This is also the manual trigger behind the track command
// and the /api/track endpoint.
func (s *Scheduler) TryRunCycle(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrCycleRunning
	}
	defer s.mu.Unlock()

	s.runCycle(ctx)
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()

	items, err := s.store.ListTracked(ctx)
	if err != nil {
		s.logger.Error("list tracked", zap.Error(err))
		return
	}

	// Group subscription tuples by product so each due product is
	// fetched once per cycle and the result fans out to every
	// subscriber. The throttle key is the product, not the tuple.
	byProduct := make(map[int64][]store.TrackedItem)
	var order []int64
	for _, it := range items {
		if _, seen := byProduct[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		byProduct[it.ProductID] = append(byProduct[it.ProductID], it)
	}

	checked, alerts := 0, 0
	for _, productID := range order {
		tuples := byProduct[productID]
		p := tuples[0]

		if p.LastChecked != nil && time.Since(*p.LastChecked) < s.recheckWindow {
			continue
		}

		body, err := s.fetcher.Fetch(ctx, p.URL)
		if err != nil {
			// last_checked stays untouched so the next tick retries.
			s.logger.Warn("fetch failed", zap.String("url", p.URL), zap.Error(err))
			continue
		}

		newPrice, ok := s.extractor.Extract(body)
		if !ok {
			s.logger.Warn("no price found", zap.String("url", p.URL))
			continue
		}

		now := time.Now().UTC()
		if err := s.store.RecordPrice(ctx, productID, newPrice, now); err != nil {
			s.logger.Error("record price",
				zap.Int64("product_id", productID), zap.Error(err))
			continue
		}
		checked++

		for i := range tuples {
			t := tuples[i]
			fired := s.evaluator.Check(ctx, &alert.Notification{
				Product:    t.Name,
				URL:        t.URL,
				Price:      newPrice,
				Target:     t.TargetPrice,
				Email:      t.Email,
				Preference: t.AlertPreference,
				At:         now,
			})
			if fired {
				alerts++
			}
		}
	}

	s.logger.Info("tracking cycle completed",
		zap.Int("products", len(order)),
		zap.Int("checked", checked),
		zap.Int("alerts", alerts),
		zap.Duration("took", time.Since(start)))
}
