package domain

import (
	"github.com/google/uuid"
)

// Trade is the current-state record of one financial position.
type Trade struct {
	TradeID        uuid.UUID
	Version        int64
	CounterPartyID string
	BookID         string
	MaturityDate   Date
	CreatedDate    Date
	Expired        bool
}

// Clone returns a copy of the trade. Stores hand out clones so callers
// cannot mutate stored state.
func (t *Trade) Clone() *Trade {
	c := *t
	return &c
}

// TradeHistory is an immutable snapshot of a Trade taken when a write was
// accepted.
type TradeHistory struct {
	ID             uuid.UUID
	TradeID        uuid.UUID
	Version        int64
	CounterPartyID string
	BookID         string
	MaturityDate   Date
	CreatedDate    Date
	Expired        bool
	RecordedDate   Date
}

// NewTradeHistory snapshots t with a fresh history id.
func NewTradeHistory(t *Trade, recorded Date) *TradeHistory {
	return &TradeHistory{
		ID:             uuid.New(),
		TradeID:        t.TradeID,
		Version:        t.Version,
		CounterPartyID: t.CounterPartyID,
		BookID:         t.BookID,
		MaturityDate:   t.MaturityDate,
		CreatedDate:    t.CreatedDate,
		Expired:        t.Expired,
		RecordedDate:   recorded,
	}
}

// TradeChange is an incoming create or update. A uuid.Nil TradeID means
// "assign a new identifier".
type TradeChange struct {
	TradeID        uuid.UUID
	Version        int64
	CounterPartyID string
	BookID         string
	MaturityDate   Date
}

// HasID reports whether the change names an existing identifier.
func (c TradeChange) HasID() bool {
	return c.TradeID != uuid.Nil
}

// Validate checks the shape of the change. Business rules that need the
// current date or the stored record are applied by the service.
func (c TradeChange) Validate() error {
	if c.Version < 0 {
		return &InvalidTradeError{Message: "version must be >= 0"}
	}
	if c.CounterPartyID == "" {
		return &InvalidTradeError{Message: "counterPartyId is required"}
	}
	if c.BookID == "" {
		return &InvalidTradeError{Message: "bookId is required"}
	}
	if c.MaturityDate.IsZero() {
		return &InvalidTradeError{Message: "maturityDate is required"}
	}
	return nil
}

// ChangeOf builds the change that reproduces t.
func ChangeOf(t *Trade) TradeChange {
	return TradeChange{
		TradeID:        t.TradeID,
		Version:        t.Version,
		CounterPartyID: t.CounterPartyID,
		BookID:         t.BookID,
		MaturityDate:   t.MaturityDate,
	}
}
