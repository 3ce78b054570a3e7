package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id         uuid PRIMARY KEY,
	version          bigint  NOT NULL CHECK (version >= 0),
	counter_party_id text    NOT NULL,
	book_id          text    NOT NULL,
	maturity_date    date    NOT NULL,
	created_date     date    NOT NULL,
	expired          boolean NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS trades_unexpired_maturity_idx ON trades (maturity_date) WHERE NOT expired;
CREATE INDEX IF NOT EXISTS trades_book_counter_party_idx ON trades (book_id, counter_party_id);
`

const tradeColumns = `trade_id::text, version, counter_party_id, book_id, maturity_date, created_date, expired`

// upsertTrade only replaces a row whose version is not higher than the
// incoming one, and never touches created_date. No returned row means the
// write lost to a newer version.
const upsertTrade = `
INSERT INTO trades (trade_id, version, counter_party_id, book_id, maturity_date, created_date, expired)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
ON CONFLICT (trade_id) DO UPDATE SET
	version          = EXCLUDED.version,
	counter_party_id = EXCLUDED.counter_party_id,
	book_id          = EXCLUDED.book_id,
	maturity_date    = EXCLUDED.maturity_date,
	expired          = EXCLUDED.expired
WHERE trades.version <= EXCLUDED.version
RETURNING ` + tradeColumns

const expireTrades = `
UPDATE trades SET expired = true
WHERE trade_id = ANY($1::uuid[]) AND NOT expired AND maturity_date < $2
RETURNING ` + tradeColumns

// PostgresTradeStore is the durable record store backed by a pgx pool.
type PostgresTradeStore struct {
	DB *pgxpool.Pool
}

// NewPostgresTradeStore wraps an open pool.
func NewPostgresTradeStore(db *pgxpool.Pool) *PostgresTradeStore {
	return &PostgresTradeStore{DB: db}
}

// ConnectPostgres opens and pings a pgx pool.
func ConnectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the trades table and its indexes if missing.
func (s *PostgresTradeStore) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, tradesSchema)
	return err
}

// Get returns the trade with the given ID, or domain.ErrTradeNotFound.
func (s *PostgresTradeStore) Get(ctx context.Context, id uuid.UUID) (*domain.Trade, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = $1::uuid`, id.String())
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTradeNotFound
	}
	return t, err
}

// Upsert writes t unless the stored row has a higher version, in which
// case it returns domain.ErrStaleVersion.
func (s *PostgresTradeStore) Upsert(ctx context.Context, t *domain.Trade) (*domain.Trade, error) {
	stored, err := scanTrade(s.DB.QueryRow(ctx, upsertTrade, upsertArgs(t)...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStaleVersion
	}
	return stored, err
}

// ExpireBatch flips the expired flag of the listed trades in one statement.
// The candidate condition is re-checked per row, so a trade updated since
// it was listed is left alone.
func (s *PostgresTradeStore) ExpireBatch(ctx context.Context, ids []uuid.UUID, before domain.Date) ([]*domain.Trade, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return s.query(ctx, expireTrades, keys, before.Time())
}

// List returns all trades ordered by ID.
func (s *PostgresTradeStore) List(ctx context.Context) ([]*domain.Trade, error) {
	return s.query(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY trade_id`)
}

// ListExpiryCandidates returns trades not yet expired whose maturity date
// is strictly before the given date.
func (s *PostgresTradeStore) ListExpiryCandidates(ctx context.Context, before domain.Date) ([]*domain.Trade, error) {
	return s.query(ctx, `SELECT `+tradeColumns+` FROM trades WHERE NOT expired AND maturity_date < $1 ORDER BY trade_id`, before.Time())
}

// FindByBookAndCounterParty returns the first trade (by ID order) for the
// book and counterparty, or domain.ErrTradeNotFound.
func (s *PostgresTradeStore) FindByBookAndCounterParty(ctx context.Context, bookID, counterPartyID string) (*domain.Trade, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE book_id = $1 AND counter_party_id = $2 ORDER BY trade_id LIMIT 1`, bookID, counterPartyID)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTradeNotFound
	}
	return t, err
}

func (s *PostgresTradeStore) query(ctx context.Context, sql string, args ...any) ([]*domain.Trade, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func upsertArgs(t *domain.Trade) []any {
	return []any{
		t.TradeID.String(),
		t.Version,
		t.CounterPartyID,
		t.BookID,
		t.MaturityDate.Time(),
		t.CreatedDate.Time(),
		t.Expired,
	}
}

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		id                string
		t                 domain.Trade
		maturity, created time.Time
	)
	if err := row.Scan(&id, &t.Version, &t.CounterPartyID, &t.BookID, &maturity, &created, &t.Expired); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("scan trade_id %q: %w", id, err)
	}
	t.TradeID = parsed
	t.MaturityDate = domain.DateOf(maturity)
	t.CreatedDate = domain.DateOf(created)
	return &t, nil
}
