package raffle

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// Payer transfers the pot to the winner.
type Payer interface {
	Pay(ctx context.Context, to Participant, amount *uint256.Int) error
}

// RoundResult describes a round that was paid out. It is the payload of the
// winner-picked notification.
type RoundResult struct {
	RoundID     string
	RoundNumber int64
	RequestID   RequestID
	RandomValue *uint256.Int
	WinnerIndex int
	Winner      Participant
	Pot         *uint256.Int
	Entrants    int
	StartedAt   time.Time
	RequestedAt time.Time
	DrawnAt     time.Time
}

// selectWinner picks entrants[randomValue mod len(entrants)]. entrants must
// not be empty.
func selectWinner(randomValue *uint256.Int, entrants []Participant) Resolution {
	n := uint256.NewInt(uint64(len(entrants)))
	idx := new(uint256.Int).Mod(randomValue, n).Uint64()
	return Resolution{
		RandomValue: new(uint256.Int).Set(randomValue),
		WinnerIndex: int(idx),
		Winner:      entrants[idx],
	}
}

// pay transfers the snapshot pot to the resolved winner. On failure the
// resolution stays attached to the pending draw so only the same winner can
// be paid later.
func (s *Service) pay(ctx context.Context, draw *PendingDraw, res Resolution) (*RoundResult, error) {
	amount := new(uint256.Int).Set(draw.Round.Pot)
	if err := s.payer.Pay(ctx, res.Winner, amount); err != nil {
		draw.Resolution = &res
		return nil, &PayoutFailedError{Winner: res.Winner, Amount: amount, Err: err}
	}

	now := s.now()
	result := &RoundResult{
		RoundID:     draw.Round.ID,
		RoundNumber: draw.Round.Number,
		RequestID:   draw.RequestID,
		RandomValue: res.RandomValue,
		WinnerIndex: res.WinnerIndex,
		Winner:      res.Winner,
		Pot:         amount,
		Entrants:    len(draw.Round.Entrants),
		StartedAt:   draw.Round.StartedAt,
		RequestedAt: draw.RequestedAt,
		DrawnAt:     now,
	}

	s.recentWinner = res.Winner
	s.draw.clear()
	s.ledger.reset(now)
	s.state = StateOpen
	return result, nil
}
