package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/efreitasn/tradeledger/internal/event"
	"github.com/efreitasn/tradeledger/internal/fallback"
	"github.com/efreitasn/tradeledger/internal/metrics"
)

// TradeStore is the authoritative current-state store. Upsert must be a
// conditional write that fails with domain.ErrStaleVersion when the stored
// record already carries a higher version.
type TradeStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Trade, error)
	Upsert(ctx context.Context, t *domain.Trade) (*domain.Trade, error)
	List(ctx context.Context) ([]*domain.Trade, error)
	FindByBookAndCounterParty(ctx context.Context, bookID, counterPartyID string) (*domain.Trade, error)
}

// HistoryStore is the append-only snapshot trail.
type HistoryStore interface {
	Append(ctx context.Context, h *domain.TradeHistory) error
}

// Announcer publishes accepted changes. Publish must not fail the caller.
type Announcer interface {
	Publish(ctx context.Context, change domain.TradeChange, topic string)
}

// TradeService applies versioned trade changes to the record store and
// mirrors every accepted write to the history store.
type TradeService struct {
	trades        TradeStore
	history       HistoryStore
	announcer     Announcer
	announceTopic string
	recorder      fallback.Recorder
	logger        *zap.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	announcing sync.WaitGroup
}

// NewTradeService creates a TradeService without announcements.
func NewTradeService(trades TradeStore, history HistoryStore, recorder fallback.Recorder, logger *zap.Logger, m *metrics.Metrics) *TradeService {
	return &TradeService{
		trades:   trades,
		history:  history,
		recorder: recorder,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// AnnounceTo makes the service publish every accepted change to topic.
// Call it before the service is shared.
func (s *TradeService) AnnounceTo(a Announcer, topic string) {
	s.announcer = a
	s.announceTopic = topic
}

// Submit validates change against the business rules and the stored
// record, then creates or updates the trade.
//
// An update resets Expired to false, including a resubmission at the same
// version. A history write failure is logged and recorded but does not
// fail the call.
func (s *TradeService) Submit(ctx context.Context, change domain.TradeChange) (*domain.Trade, error) {
	if err := change.Validate(); err != nil {
		s.metrics.Submit(metrics.OutcomeRejected)
		return nil, err
	}

	today := domain.DateOf(s.now())
	if change.MaturityDate.Before(today) {
		s.metrics.Submit(metrics.OutcomeRejected)
		return nil, &domain.InvalidTradeError{Message: "Trade maturity date cannot be in the past"}
	}

	var existing *domain.Trade
	if change.HasID() {
		t, err := s.trades.Get(ctx, change.TradeID)
		switch {
		case err == nil:
			existing = t
		case errors.Is(err, domain.ErrTradeNotFound):
		default:
			s.metrics.Submit(metrics.OutcomeFailed)
			return nil, &domain.StoreError{Op: "get", Err: err}
		}
	}

	var next *domain.Trade
	outcome := metrics.OutcomeCreated
	if existing != nil {
		if change.Version < existing.Version {
			s.metrics.Submit(metrics.OutcomeRejected)
			return nil, staleVersionError()
		}
		next = existing.Clone()
		next.Version = change.Version
		next.CounterPartyID = change.CounterPartyID
		next.BookID = change.BookID
		next.MaturityDate = change.MaturityDate
		next.Expired = false
		outcome = metrics.OutcomeUpdated
	} else {
		id := change.TradeID
		if id == uuid.Nil {
			id = uuid.New()
		}
		next = &domain.Trade{
			TradeID:        id,
			Version:        change.Version,
			CounterPartyID: change.CounterPartyID,
			BookID:         change.BookID,
			MaturityDate:   change.MaturityDate,
			CreatedDate:    today,
		}
	}

	stored, err := s.trades.Upsert(ctx, next)
	if err != nil {
		if errors.Is(err, domain.ErrStaleVersion) {
			s.metrics.Submit(metrics.OutcomeRejected)
			return nil, staleVersionError()
		}
		s.metrics.Submit(metrics.OutcomeFailed)
		return nil, &domain.StoreError{Op: "upsert", Err: err}
	}
	s.metrics.Submit(outcome)

	s.mirror(ctx, stored, today)
	s.announce(ctx, stored)

	s.logger.Info("trade accepted",
		zap.String("trade_id", stored.TradeID.String()),
		zap.Int64("version", stored.Version),
		zap.String("outcome", outcome),
	)
	return stored, nil
}

// List returns every trade.
func (s *TradeService) List(ctx context.Context) ([]*domain.Trade, error) {
	trades, err := s.trades.List(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "list", Err: err}
	}
	return trades, nil
}

// Get returns the trade with the given id.
func (s *TradeService) Get(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	t, err := s.trades.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTradeNotFound) {
			return nil, err
		}
		return nil, &domain.StoreError{Op: "get", Err: err}
	}
	return t, nil
}

// FindByBookAndCounterParty returns the first trade of the book held with
// the counterparty.
func (s *TradeService) FindByBookAndCounterParty(ctx context.Context, bookID, counterPartyID string) (*domain.Trade, error) {
	if bookID == "" || counterPartyID == "" {
		return nil, &domain.InvalidTradeError{Message: "bookId and counterPartyId are required"}
	}
	t, err := s.trades.FindByBookAndCounterParty(ctx, bookID, counterPartyID)
	if err != nil {
		if errors.Is(err, domain.ErrTradeNotFound) {
			return nil, err
		}
		return nil, &domain.StoreError{Op: "find", Err: err}
	}
	return t, nil
}

// Wait blocks until in-flight announcements and dispatched publishes have
// returned. Callers must stop Submit and Dispatch traffic first.
func (s *TradeService) Wait() {
	s.announcing.Wait()
}

func (s *TradeService) mirror(ctx context.Context, t *domain.Trade, today domain.Date) {
	h := domain.NewTradeHistory(t, today)
	err := s.history.Append(ctx, h)
	if err == nil {
		return
	}

	s.metrics.HistoryFailure()
	s.logger.Error("failed to write trade history",
		zap.String("trade_id", t.TradeID.String()),
		zap.Int64("version", t.Version),
		zap.Error(err),
	)

	payload, _ := event.Encode(domain.ChangeOf(t))
	rerr := s.recorder.Record(context.WithoutCancel(ctx), fallback.Failure{
		Kind:    fallback.KindHistory,
		TradeID: t.TradeID,
		Cause:   err,
		Payload: payload,
		At:      s.now(),
	})
	if rerr != nil {
		s.logger.Error("failed to record history failure",
			zap.String("trade_id", t.TradeID.String()),
			zap.Error(rerr),
		)
	}
}

func (s *TradeService) announce(ctx context.Context, t *domain.Trade) {
	if s.announcer == nil {
		return
	}
	s.Dispatch(ctx, s.announcer, domain.ChangeOf(t), s.announceTopic)
}

// Dispatch publishes change through a in the background, detached from
// ctx's cancellation. Wait covers dispatched publishes too.
func (s *TradeService) Dispatch(ctx context.Context, a Announcer, change domain.TradeChange, topic string) {
	ctx = context.WithoutCancel(ctx)
	s.announcing.Add(1)
	go func() {
		defer s.announcing.Done()
		a.Publish(ctx, change, topic)
	}()
}

func staleVersionError() error {
	return &domain.InvalidTradeError{Message: "Trade version is lower than existing version"}
}
