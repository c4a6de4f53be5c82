package raffle

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RequestID correlates a randomness response with the draw that asked for it.
type RequestID = uint64

// RandomnessRequest carries the provider parameters verbatim.
type RandomnessRequest struct {
	KeyHash              common.Hash
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
	Consumer             common.Address
}

// RandomnessProvider accepts randomness requests and answers them later
// through RawFulfillRandomWords. RequestRandomWords is called without the
// raffle lock held and may query the raffle, but must not deliver the
// response before it returns.
type RandomnessProvider interface {
	RequestRandomWords(ctx context.Context, req RandomnessRequest) (RequestID, error)
}

// Resolution is a winner chosen for a draw whose payout has not gone through.
type Resolution struct {
	RandomValue *uint256.Int
	WinnerIndex int
	Winner      Participant
}

// PendingDraw is the single in-flight draw.
type PendingDraw struct {
	RequestID   RequestID
	Round       Round
	RequestedAt time.Time
	// Resolution is set once randomness arrived but the payout failed.
	Resolution *Resolution
}

// correlator tracks at most one pending draw and the highest request id seen.
type correlator struct {
	pending *PendingDraw
	lastID  RequestID
}

func (c *correlator) open(id RequestID, round Round, now time.Time) error {
	if id == 0 || id <= c.lastID {
		return fmt.Errorf("%w: provider returned stale request id %d", ErrRandomnessRequest, id)
	}
	c.lastID = id
	c.pending = &PendingDraw{RequestID: id, Round: round, RequestedAt: now}
	return nil
}

// match returns the pending draw for id. A draw that already has a
// resolution no longer matches, so a response cannot be replayed.
func (c *correlator) match(id RequestID) (*PendingDraw, error) {
	switch {
	case c.pending == nil:
		return nil, fmt.Errorf("%w: %d (no draw pending)", ErrUnknownRequest, id)
	case c.pending.RequestID != id:
		return nil, fmt.Errorf("%w: %d (pending %d)", ErrUnknownRequest, id, c.pending.RequestID)
	case c.pending.Resolution != nil:
		return nil, fmt.Errorf("%w: %d (already resolved)", ErrUnknownRequest, id)
	}
	return c.pending, nil
}

func (c *correlator) clear() {
	c.pending = nil
}
