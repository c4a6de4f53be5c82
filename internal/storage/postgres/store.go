// Package postgres implements the round archive on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/raffle_layer/internal/storage"
)

// Store implements storage.Archive backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Archive = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Open connects to dsn, applies migrations and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type roundRow struct {
	RoundID     string    `db:"round_id"`
	Number      int64     `db:"round_number"`
	Winner      string    `db:"winner"`
	WinnerIndex int       `db:"winner_index"`
	Pot         string    `db:"pot"`
	Entrants    int       `db:"entrants"`
	RequestID   int64     `db:"request_id"`
	RandomValue string    `db:"random_value"`
	StartedAt   time.Time `db:"started_at"`
	DrawnAt     time.Time `db:"drawn_at"`
}

const roundColumns = `round_id, round_number, winner, winner_index, pot, entrants, request_id, random_value, started_at, drawn_at`

func toRow(rec storage.RoundRecord) roundRow {
	return roundRow{
		RoundID:     rec.RoundID,
		Number:      rec.Number,
		Winner:      rec.Winner.Hex(),
		WinnerIndex: rec.WinnerIndex,
		Pot:         decimal(rec.Pot),
		Entrants:    rec.Entrants,
		RequestID:   int64(rec.RequestID),
		RandomValue: decimal(rec.RandomValue),
		StartedAt:   rec.StartedAt.UTC(),
		DrawnAt:     rec.DrawnAt.UTC(),
	}
}

func (r roundRow) record() (storage.RoundRecord, error) {
	pot, err := uint256.FromDecimal(r.Pot)
	if err != nil {
		return storage.RoundRecord{}, fmt.Errorf("round %s: pot: %w", r.RoundID, err)
	}
	random, err := uint256.FromDecimal(r.RandomValue)
	if err != nil {
		return storage.RoundRecord{}, fmt.Errorf("round %s: random value: %w", r.RoundID, err)
	}
	return storage.RoundRecord{
		RoundID:     r.RoundID,
		Number:      r.Number,
		Winner:      common.HexToAddress(r.Winner),
		WinnerIndex: r.WinnerIndex,
		Pot:         pot,
		Entrants:    r.Entrants,
		RequestID:   uint64(r.RequestID),
		RandomValue: random,
		StartedAt:   r.StartedAt,
		DrawnAt:     r.DrawnAt,
	}, nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// SaveRound inserts a record. Saving the same round twice is a no-op.
func (s *Store) SaveRound(ctx context.Context, rec storage.RoundRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO raffle_rounds (`+roundColumns+`)
		VALUES (:round_id, :round_number, :winner, :winner_index, :pot, :entrants, :request_id, :random_value, :started_at, :drawn_at)
		ON CONFLICT (round_id) DO NOTHING
	`, toRow(rec))
	if err != nil {
		return fmt.Errorf("save round %s: %w", rec.RoundID, err)
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (storage.RoundRecord, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM raffle_rounds WHERE round_id = $1`, roundID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RoundRecord{}, fmt.Errorf("%w: %s", storage.ErrNotFound, roundID)
	}
	if err != nil {
		return storage.RoundRecord{}, fmt.Errorf("get round %s: %w", roundID, err)
	}
	return row.record()
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]storage.RoundRecord, error) {
	query := `SELECT ` + roundColumns + ` FROM raffle_rounds ORDER BY drawn_at DESC, round_number DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []roundRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}

	out := make([]storage.RoundRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
