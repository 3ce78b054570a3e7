package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/efreitasn/tradeledger/internal/metrics"
)

// ExpiryStore is the part of the record store the sweeper needs.
type ExpiryStore interface {
	ListExpiryCandidates(ctx context.Context, before domain.Date) ([]*domain.Trade, error)
	ExpireBatch(ctx context.Context, ids []uuid.UUID, before domain.Date) ([]*domain.Trade, error)
}

// ExpirySweeper flags trades whose maturity date has passed as expired.
type ExpirySweeper struct {
	interval time.Duration
	store    ExpiryStore
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewExpirySweeper creates a sweeper that runs every interval once started.
// A 24h interval is aligned to local midnight.
func NewExpirySweeper(interval time.Duration, store ExpiryStore, logger *zap.Logger, m *metrics.Metrics) *ExpirySweeper {
	return &ExpirySweeper{
		interval: interval,
		store:    store,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Sweep marks every non-expired trade maturing before today as expired
// in one batch write that touches only the flag. Trades updated between the
// read and the write are skipped by the store. It returns the number of
// trades expired. No write is issued when nothing qualifies.
func (e *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	today := domain.DateOf(e.now())

	candidates, err := e.store.ListExpiryCandidates(ctx, today)
	if err != nil {
		e.metrics.SweepFailure()
		return 0, &domain.StoreError{Op: "list expiry candidates", Err: err}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, t := range candidates {
		ids[i] = t.TradeID
	}
	written, err := e.store.ExpireBatch(ctx, ids, today)
	if err != nil {
		e.metrics.SweepFailure()
		return 0, &domain.StoreError{Op: "expire batch", Err: err}
	}

	e.metrics.Expired(len(written))
	e.logger.Info("trades expired",
		zap.Int("candidates", len(candidates)),
		zap.Int("expired", len(written)),
		zap.Stringer("before", today),
	)
	return len(written), nil
}

// Start launches a background goroutine that sweeps on schedule until
// ctx is cancelled.
func (e *ExpirySweeper) Start(ctx context.Context) {
	go func() {
		timer := time.NewTimer(e.firstDelay(e.now()))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.run(ctx)
		}

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.run(ctx)
			}
		}
	}()
}

func (e *ExpirySweeper) run(ctx context.Context) {
	if _, err := e.Sweep(ctx); err != nil {
		e.logger.Error("expiry sweep failed", zap.Error(err))
	}
}

// firstDelay returns the wait before the first sweep: until the next
// midnight for a daily interval, otherwise one interval.
func (e *ExpirySweeper) firstDelay(now time.Time) time.Duration {
	if e.interval != 24*time.Hour {
		return e.interval
	}
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}
