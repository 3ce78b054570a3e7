package store

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// historyRecord is the trade_history row. IDs are kept as text so the same
// model works on Postgres and SQLite.
type historyRecord struct {
	ID             string    `gorm:"primaryKey;size:36"`
	TradeID        string    `gorm:"size:36;not null;index"`
	Version        int64     `gorm:"not null"`
	CounterPartyID string    `gorm:"not null"`
	BookID         string    `gorm:"not null"`
	MaturityDate   time.Time `gorm:"type:date;not null"`
	CreatedDate    time.Time `gorm:"type:date;not null"`
	Expired        bool      `gorm:"not null"`
	RecordedDate   time.Time `gorm:"type:date;not null"`
}

func (historyRecord) TableName() string { return "trade_history" }

// GormHistoryStore is the durable history store. Rows are only ever
// inserted.
type GormHistoryStore struct {
	db *gorm.DB
}

// OpenHistoryDB opens a gorm connection to the Postgres history database.
func OpenHistoryDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return db, nil
}

// NewGormHistoryStore wraps an open gorm connection.
func NewGormHistoryStore(db *gorm.DB) *GormHistoryStore {
	return &GormHistoryStore{db: db}
}

// Migrate creates the trade_history table if missing.
func (s *GormHistoryStore) Migrate() error {
	return s.db.AutoMigrate(&historyRecord{})
}

// Append inserts one snapshot. Errors are returned as-is; isolating the
// caller from them is the service's job.
func (s *GormHistoryStore) Append(ctx context.Context, h *domain.TradeHistory) error {
	rec := historyRecord{
		ID:             h.ID.String(),
		TradeID:        h.TradeID.String(),
		Version:        h.Version,
		CounterPartyID: h.CounterPartyID,
		BookID:         h.BookID,
		MaturityDate:   h.MaturityDate.Time(),
		CreatedDate:    h.CreatedDate.Time(),
		Expired:        h.Expired,
		RecordedDate:   h.RecordedDate.Time(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append trade history %s: %w", h.TradeID, err)
	}
	return nil
}

// ListByTrade returns the snapshots of one trade, oldest version first.
func (s *GormHistoryStore) ListByTrade(ctx context.Context, tradeID uuid.UUID) ([]*domain.TradeHistory, error) {
	var recs []historyRecord
	err := s.db.WithContext(ctx).
		Where("trade_id = ?", tradeID.String()).
		Order("version ASC").
		Order("recorded_date ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]*domain.TradeHistory, 0, len(recs))
	for _, r := range recs {
		h, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (r historyRecord) toDomain() (*domain.TradeHistory, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("history id %q: %w", r.ID, err)
	}
	tradeID, err := uuid.Parse(r.TradeID)
	if err != nil {
		return nil, fmt.Errorf("history trade_id %q: %w", r.TradeID, err)
	}
	return &domain.TradeHistory{
		ID:             id,
		TradeID:        tradeID,
		Version:        r.Version,
		CounterPartyID: r.CounterPartyID,
		BookID:         r.BookID,
		MaturityDate:   domain.DateOf(r.MaturityDate.UTC()),
		CreatedDate:    domain.DateOf(r.CreatedDate.UTC()),
		Expired:        r.Expired,
		RecordedDate:   domain.DateOf(r.RecordedDate.UTC()),
	}, nil
}
