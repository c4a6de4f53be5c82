package raffle

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Participant identifies an entrant.
type Participant = common.Address

// Round is the ledger of one raffle round.
type Round struct {
	ID        string
	Number    int64
	Entrants  []Participant
	Pot       *uint256.Int
	StartedAt time.Time
}

// ledger holds the entry fee and the current round. Entrant order is the
// selection order, duplicates included.
type ledger struct {
	fee   *uint256.Int
	round Round
}

func newLedger(fee *uint256.Int, now time.Time) ledger {
	return ledger{
		fee: new(uint256.Int).Set(fee),
		round: Round{
			ID:        uuid.NewString(),
			Number:    1,
			Pot:       new(uint256.Int),
			StartedAt: now,
		},
	}
}

func (l *ledger) checkFee(payment *uint256.Int) error {
	if payment == nil || !payment.Eq(l.fee) {
		got := "0"
		if payment != nil {
			got = payment.Dec()
		}
		return fmt.Errorf("%w: got %s, want %s", ErrWrongEntryFee, got, l.fee.Dec())
	}
	return nil
}

func (l *ledger) add(p Participant, payment *uint256.Int) error {
	pot, overflow := new(uint256.Int).AddOverflow(l.round.Pot, payment)
	if overflow {
		return ErrPotOverflow
	}
	l.round.Entrants = append(l.round.Entrants, p)
	l.round.Pot = pot
	return nil
}

func (l *ledger) count() int {
	return len(l.round.Entrants)
}

func (l *ledger) at(i int) (Participant, error) {
	if i < 0 || i >= len(l.round.Entrants) {
		return Participant{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(l.round.Entrants))
	}
	return l.round.Entrants[i], nil
}

func (l *ledger) pot() *uint256.Int {
	return new(uint256.Int).Set(l.round.Pot)
}

// snapshot captures the round for a draw. The entrant slice is capped so a
// later append can never write into it.
func (l *ledger) snapshot() Round {
	n := len(l.round.Entrants)
	return Round{
		ID:        l.round.ID,
		Number:    l.round.Number,
		Entrants:  l.round.Entrants[:n:n],
		Pot:       l.pot(),
		StartedAt: l.round.StartedAt,
	}
}

// reset starts the next round with a fresh entrant list.
func (l *ledger) reset(now time.Time) {
	l.round = Round{
		ID:        uuid.NewString(),
		Number:    l.round.Number + 1,
		Pot:       new(uint256.Int),
		StartedAt: now,
	}
}
