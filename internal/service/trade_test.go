package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/efreitasn/tradeledger/internal/fallback"
	"github.com/efreitasn/tradeledger/internal/store"
)

var (
	testNow   = time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)
	testToday = domain.DateOf(testNow)
)

// failingHistoryStore rejects every append.
type failingHistoryStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingHistoryStore) Append(context.Context, *domain.TradeHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("history store unavailable")
}

// brokenTradeStore fails every operation.
type brokenTradeStore struct {
	upserts int
}

func (b *brokenTradeStore) Get(context.Context, uuid.UUID) (*domain.Trade, error) {
	return nil, errors.New("connection refused")
}

func (b *brokenTradeStore) Upsert(context.Context, *domain.Trade) (*domain.Trade, error) {
	b.upserts++
	return nil, errors.New("connection refused")
}

func (b *brokenTradeStore) List(context.Context) ([]*domain.Trade, error) {
	return nil, errors.New("connection refused")
}

func (b *brokenTradeStore) FindByBookAndCounterParty(context.Context, string, string) (*domain.Trade, error) {
	return nil, errors.New("connection refused")
}

// racingTradeStore loses every conditional write, as if a newer version
// landed between the read and the write.
type racingTradeStore struct {
	*store.MemoryTradeStore
}

func (r racingTradeStore) Upsert(context.Context, *domain.Trade) (*domain.Trade, error) {
	return nil, domain.ErrStaleVersion
}

// mockAnnouncer records published changes.
type mockAnnouncer struct {
	mu      sync.Mutex
	changes []domain.TradeChange
	topics  []string
}

func (m *mockAnnouncer) Publish(_ context.Context, c domain.TradeChange, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, c)
	m.topics = append(m.topics, topic)
}

// blockingAnnouncer holds every publish until release is closed.
type blockingAnnouncer struct {
	release chan struct{}
	done    chan domain.TradeChange
}

func (b *blockingAnnouncer) Publish(ctx context.Context, c domain.TradeChange, _ string) {
	<-b.release
	if ctx.Err() != nil {
		return
	}
	b.done <- c
}

// mockRecorder records every failure it receives.
type mockRecorder struct {
	mu       sync.Mutex
	failures []fallback.Failure
}

func (m *mockRecorder) Record(_ context.Context, f fallback.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

type testEnv struct {
	svc      *TradeService
	trades   *store.MemoryTradeStore
	history  *store.MemoryHistoryStore
	recorder *mockRecorder
}

func newTestEnv() *testEnv {
	trades := store.NewMemoryTradeStore()
	history := store.NewMemoryHistoryStore()
	rec := &mockRecorder{}
	svc := NewTradeService(trades, history, rec, zap.NewNop(), nil)
	svc.now = func() time.Time { return testNow }
	return &testEnv{svc: svc, trades: trades, history: history, recorder: rec}
}

func validChange() domain.TradeChange {
	return domain.TradeChange{
		Version:        1,
		CounterPartyID: "CP1",
		BookID:         "B1",
		MaturityDate:   testToday.AddDays(30),
	}
}

func assertInvalid(t *testing.T, err error) {
	t.Helper()
	var invalid *domain.InvalidTradeError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTradeError, got %v", err)
	}
}

// --- Submit tests ---

func TestSubmit_CreatesTrade(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	got, err := env.svc.Submit(ctx, validChange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TradeID == uuid.Nil {
		t.Fatal("expected a generated trade id")
	}
	if got.Expired {
		t.Error("new trade must not be expired")
	}
	if got.CreatedDate != testToday {
		t.Errorf("created date = %s, want %s", got.CreatedDate, testToday)
	}
	if got.Version != 1 || got.BookID != "B1" || got.CounterPartyID != "CP1" {
		t.Errorf("unexpected trade: %+v", got)
	}

	hist, _ := env.history.ListByTrade(ctx, got.TradeID)
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}
	if hist[0].ID == got.TradeID || hist[0].RecordedDate != testToday || hist[0].Version != 1 {
		t.Errorf("unexpected history row: %+v", hist[0])
	}
}

func TestSubmit_CreatesWithSuppliedID(t *testing.T) {
	env := newTestEnv()
	c := validChange()
	c.TradeID = uuid.New()

	got, err := env.svc.Submit(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TradeID != c.TradeID {
		t.Errorf("trade id = %s, want %s", got.TradeID, c.TradeID)
	}
}

func TestSubmit_ConcreteScenario(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	created, err := env.svc.Submit(ctx, validChange())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	again := validChange()
	again.TradeID = created.TradeID
	updated, err := env.svc.Submit(ctx, again)
	if err != nil {
		t.Fatalf("same-version resubmit should update: %v", err)
	}
	if updated.TradeID != created.TradeID || updated.Expired {
		t.Errorf("unexpected update result: %+v", updated)
	}

	stale := again
	stale.Version = 0
	_, err = env.svc.Submit(ctx, stale)
	assertInvalid(t, err)

	if env.history.Len() != 2 {
		t.Errorf("expected 2 history rows, got %d", env.history.Len())
	}
}

func TestSubmit_UpdateResetsExpiredAndKeepsCreatedDate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := uuid.New()
	created := testToday.AddDays(-90)
	env.trades.Upsert(ctx, &domain.Trade{
		TradeID:        id,
		Version:        3,
		CounterPartyID: "CP1",
		BookID:         "B1",
		MaturityDate:   testToday.AddDays(-1),
		CreatedDate:    created,
		Expired:        true,
	})

	c := domain.TradeChange{
		TradeID:        id,
		Version:        4,
		CounterPartyID: "CP2",
		BookID:         "B2",
		MaturityDate:   testToday,
	}
	got, err := env.svc.Submit(ctx, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Expired {
		t.Error("update must reset expired")
	}
	if got.CreatedDate != created {
		t.Errorf("created date = %s, want %s", got.CreatedDate, created)
	}
	if got.CounterPartyID != "CP2" || got.BookID != "B2" || got.MaturityDate != testToday || got.Version != 4 {
		t.Errorf("fields not updated: %+v", got)
	}
}

func TestSubmit_RejectsPastMaturity(t *testing.T) {
	env := newTestEnv()
	c := validChange()
	c.MaturityDate = testToday.AddDays(-1)

	_, err := env.svc.Submit(context.Background(), c)
	assertInvalid(t, err)
	if env.history.Len() != 0 {
		t.Error("rejected submit must not write history")
	}
}

func TestSubmit_MaturityTodayIsAccepted(t *testing.T) {
	env := newTestEnv()
	c := validChange()
	c.MaturityDate = testToday

	if _, err := env.svc.Submit(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmit_RejectsMalformedChange(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		name   string
		mutate func(*domain.TradeChange)
	}{
		{"negative version", func(c *domain.TradeChange) { c.Version = -1 }},
		{"missing counterparty", func(c *domain.TradeChange) { c.CounterPartyID = "" }},
		{"missing book", func(c *domain.TradeChange) { c.BookID = "" }},
		{"missing maturity", func(c *domain.TradeChange) { c.MaturityDate = domain.Date{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChange()
			tt.mutate(&c)
			_, err := env.svc.Submit(context.Background(), c)
			assertInvalid(t, err)
		})
	}
}

func TestSubmit_HistoryFailureIsAbsorbed(t *testing.T) {
	trades := store.NewMemoryTradeStore()
	history := &failingHistoryStore{}
	rec := &mockRecorder{}
	core, logs := observer.New(zapcore.ErrorLevel)
	svc := NewTradeService(trades, history, rec, zap.New(core), nil)
	svc.now = func() time.Time { return testNow }

	got, err := svc.Submit(context.Background(), validChange())
	if err != nil {
		t.Fatalf("history failure must not fail submit: %v", err)
	}
	stored, err := trades.Get(context.Background(), got.TradeID)
	if err != nil || *stored != *got {
		t.Fatalf("record store = %+v, %v; want %+v", stored, err, got)
	}
	if history.calls != 1 {
		t.Errorf("history calls = %d, want 1", history.calls)
	}
	if len(rec.failures) != 1 || rec.failures[0].Kind != fallback.KindHistory || rec.failures[0].TradeID != got.TradeID {
		t.Errorf("unexpected fallback recordings: %+v", rec.failures)
	}
	if logs.FilterMessage("failed to write trade history").Len() != 1 {
		t.Errorf("expected history failure to be logged, got %v", logs.All())
	}
}

func TestSubmit_StoreFailure(t *testing.T) {
	history := store.NewMemoryHistoryStore()
	svc := NewTradeService(&brokenTradeStore{}, history, &mockRecorder{}, zap.NewNop(), nil)
	svc.now = func() time.Time { return testNow }

	c := validChange()
	c.TradeID = uuid.New()
	_, err := svc.Submit(context.Background(), c)

	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if history.Len() != 0 {
		t.Error("failed write must not reach the history store")
	}
}

func TestSubmit_UpsertFailureSkipsHistoryAndAnnounce(t *testing.T) {
	trades := &brokenTradeStore{}
	history := store.NewMemoryHistoryStore()
	ann := &mockAnnouncer{}
	svc := NewTradeService(trades, history, &mockRecorder{}, zap.NewNop(), nil)
	svc.AnnounceTo(ann, "trade-events")
	svc.now = func() time.Time { return testNow }

	_, err := svc.Submit(context.Background(), validChange())
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "upsert" {
		t.Fatalf("expected upsert StoreError, got %v", err)
	}
	svc.Wait()
	if trades.upserts != 1 || history.Len() != 0 || len(ann.changes) != 0 {
		t.Errorf("upserts=%d history=%d announced=%d", trades.upserts, history.Len(), len(ann.changes))
	}
}

func TestSubmit_LostConditionalWriteIsStale(t *testing.T) {
	trades := racingTradeStore{store.NewMemoryTradeStore()}
	history := store.NewMemoryHistoryStore()
	svc := NewTradeService(trades, history, &mockRecorder{}, zap.NewNop(), nil)
	svc.now = func() time.Time { return testNow }

	_, err := svc.Submit(context.Background(), validChange())
	assertInvalid(t, err)
	if history.Len() != 0 {
		t.Error("lost write must not reach the history store")
	}
}

func TestSubmit_AnnouncesAcceptedChange(t *testing.T) {
	env := newTestEnv()
	ann := &mockAnnouncer{}
	env.svc.AnnounceTo(ann, "trade-events")

	got, err := env.svc.Submit(context.Background(), validChange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.svc.Wait()

	if len(ann.changes) != 1 {
		t.Fatalf("expected 1 announcement, got %d", len(ann.changes))
	}
	if ann.changes[0] != domain.ChangeOf(got) {
		t.Errorf("announced %+v, want %+v", ann.changes[0], domain.ChangeOf(got))
	}
	if ann.topics[0] != "trade-events" {
		t.Errorf("topic = %q, want %q", ann.topics[0], "trade-events")
	}
}

func TestDispatch_WaitCoversPublish(t *testing.T) {
	env := newTestEnv()
	ann := &blockingAnnouncer{release: make(chan struct{}), done: make(chan domain.TradeChange, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	env.svc.Dispatch(ctx, ann, validChange(), "audit")
	cancel()

	waited := make(chan struct{})
	go func() {
		env.svc.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned before the dispatched publish finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(ann.release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the publish finished")
	}
	select {
	case got := <-ann.done:
		if got != validChange() {
			t.Errorf("published %+v, want %+v", got, validChange())
		}
	default:
		t.Fatal("publish ran with a cancelled context")
	}
}

func TestSubmit_ConcurrentSameTrade(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := uuid.New()

	var wg sync.WaitGroup
	for v := int64(1); v <= 20; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			c := validChange()
			c.TradeID = id
			c.Version = v
			env.svc.Submit(ctx, c)
		}(v)
	}
	wg.Wait()

	got, err := env.trades.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != 20 {
		t.Errorf("version = %d, want 20", got.Version)
	}
}

// --- Query tests ---

func TestList_ReturnsAllTrades(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	empty, err := env.svc.List(ctx)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("List on empty store = %v, %v", empty, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Submit(ctx, validChange()); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	all, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 trades, got %d", len(all))
	}
}

func TestList_StoreFailure(t *testing.T) {
	svc := NewTradeService(&brokenTradeStore{}, store.NewMemoryHistoryStore(), &mockRecorder{}, zap.NewNop(), nil)

	_, err := svc.List(context.Background())
	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrTradeNotFound) {
		t.Fatalf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestFindByBookAndCounterParty(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	created, _ := env.svc.Submit(ctx, validChange())

	got, err := env.svc.FindByBookAndCounterParty(ctx, "B1", "CP1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TradeID != created.TradeID {
		t.Errorf("found %s, want %s", got.TradeID, created.TradeID)
	}

	if _, err := env.svc.FindByBookAndCounterParty(ctx, "B9", "CP1"); !errors.Is(err, domain.ErrTradeNotFound) {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}
	_, err = env.svc.FindByBookAndCounterParty(ctx, "", "CP1")
	assertInvalid(t, err)
}
