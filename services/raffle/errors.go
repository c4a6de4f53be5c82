package raffle

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Sentinel errors returned by the Service. Callers match them with errors.Is;
// the returned error usually wraps one with the offending value.
var (
	ErrWrongEntryFee   = errors.New("wrong entry fee")
	ErrRoundNotOpen    = errors.New("raffle not open")
	ErrDrawNotEligible = errors.New("draw not eligible")
	// ErrUnknownRequest is returned for a randomness response that does not
	// match the live pending draw, including a replay of a settled one.
	ErrUnknownRequest  = errors.New("unknown randomness request")
	ErrPayoutFailed    = errors.New("payout failed")
	ErrIndexOutOfRange = errors.New("entrant index out of range")
	ErrOnlyCoordinator = errors.New("caller is not the randomness coordinator")
	ErrNoRandomWords   = errors.New("no random words delivered")
	// ErrNoPayoutPending is returned by RetryPayout when no winner is locked
	// in awaiting a transfer.
	ErrNoPayoutPending = errors.New("no payout pending")
	// ErrRandomnessRequest wraps a provider failure to accept a request, or
	// a request id the raffle refused because it was not above the last one.
	ErrRandomnessRequest = errors.New("randomness request rejected")
	ErrPotOverflow       = errors.New("pot overflow")
	ErrInvalidConfig     = errors.New("invalid raffle config")
)

// DrawNotEligibleError reports the ledger figures at the time a draw was refused.
type DrawNotEligibleError struct {
	Pot      *uint256.Int
	Entrants int
	State    State
	Reason   string
}

func (e *DrawNotEligibleError) Error() string {
	msg := fmt.Sprintf("%s: pot=%s entrants=%d state=%s", ErrDrawNotEligible, dec(e.Pot), e.Entrants, e.State)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Is matches ErrDrawNotEligible.
func (e *DrawNotEligibleError) Is(target error) bool {
	return target == ErrDrawNotEligible
}

// PayoutFailedError wraps the transfer error returned by the Payer.
type PayoutFailedError struct {
	Winner Participant
	Amount *uint256.Int
	Err    error
}

func (e *PayoutFailedError) Error() string {
	return fmt.Sprintf("%s: %s to %s: %v", ErrPayoutFailed, dec(e.Amount), e.Winner.Hex(), e.Err)
}

// Is matches ErrPayoutFailed.
func (e *PayoutFailedError) Is(target error) bool {
	return target == ErrPayoutFailed
}

func (e *PayoutFailedError) Unwrap() error {
	return e.Err
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
