// Package storage defines the archive of completed raffle rounds.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNotFound is returned when a round is not in the archive.
var ErrNotFound = errors.New("round not found")

// RoundRecord is a paid-out round.
type RoundRecord struct {
	RoundID     string         `json:"round_id"`
	Number      int64          `json:"number"`
	Winner      common.Address `json:"winner"`
	WinnerIndex int            `json:"winner_index"`
	Pot         *uint256.Int   `json:"pot"`
	Entrants    int            `json:"entrants"`
	RequestID   uint64         `json:"request_id"`
	RandomValue *uint256.Int   `json:"random_value"`
	StartedAt   time.Time      `json:"started_at"`
	DrawnAt     time.Time      `json:"drawn_at"`
}

// Archive persists round records.
type Archive interface {
	SaveRound(ctx context.Context, rec RoundRecord) error
	GetRound(ctx context.Context, roundID string) (RoundRecord, error)
	// ListRounds returns the most recently drawn rounds first. A non-positive
	// limit returns all rounds.
	ListRounds(ctx context.Context, limit int) ([]RoundRecord, error)
}
