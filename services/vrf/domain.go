// Package vrf implements an in-process verifiable randomness coordinator:
// funded subscriptions, a request queue keyed by sequential ids, proofs over
// a secp256k1 key and asynchronous delivery to consumer callbacks.
package vrf

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Request limits.
const (
	MaxRequestConfirmations = 200
	MaxNumWords             = 500
	MaxConsumers            = 100
	DefaultMaxGasLimit      = 2_500_000
)

var (
	ErrInvalidSubscription   = errors.New("invalid subscription")
	ErrInvalidConsumer       = errors.New("invalid consumer")
	ErrTooManyConsumers      = errors.New("too many consumers")
	ErrInsufficientBalance   = errors.New("insufficient subscription balance")
	ErrInvalidKeyHash        = errors.New("invalid key hash")
	ErrInvalidConfirmations  = errors.New("invalid request confirmations")
	ErrInvalidNumWords       = errors.New("invalid number of words")
	ErrGasLimitTooBig        = errors.New("callback gas limit too big")
	ErrNonexistentRequest    = errors.New("nonexistent request")
	ErrNoConsumerAttached    = errors.New("no callback attached for consumer")
	ErrInvalidProof          = errors.New("invalid randomness proof")
	ErrCoordinatorRunning    = errors.New("fulfiller already running")
	ErrInvalidFundingAmount  = errors.New("invalid funding amount")
	ErrInvalidCoordinatorKey = errors.New("invalid coordinator key")
)

// Consumer receives random words for the requests it made.
type Consumer interface {
	RawFulfillRandomWords(ctx context.Context, caller common.Address, requestID uint64, words []*uint256.Int) error
}

// Subscription funds requests made by its consumers.
type Subscription struct {
	ID           uint64           `json:"id"`
	Owner        common.Address   `json:"owner"`
	Balance      *uint256.Int     `json:"balance"`
	Consumers    []common.Address `json:"consumers"`
	RequestCount uint64           `json:"request_count"`
}

func (s *Subscription) clone() Subscription {
	out := *s
	out.Balance = new(uint256.Int).Set(s.Balance)
	out.Consumers = append([]common.Address(nil), s.Consumers...)
	return out
}

func (s *Subscription) hasConsumer(addr common.Address) bool {
	for _, c := range s.Consumers {
		if c == addr {
			return true
		}
	}
	return false
}

// Request is a randomness request awaiting fulfilment.
type Request struct {
	ID                   uint64         `json:"id"`
	SubscriptionID       uint64         `json:"subscription_id"`
	Consumer             common.Address `json:"consumer"`
	KeyHash              common.Hash    `json:"key_hash"`
	NumWords             uint32         `json:"num_words"`
	CallbackGasLimit     uint32         `json:"callback_gas_limit"`
	RequestConfirmations uint16         `json:"request_confirmations"`
	BlockNumber          uint64         `json:"block_number"`
	RequestedAt          time.Time      `json:"requested_at"`
}

// ReadyAt returns the first block at which the request may be fulfilled.
func (r Request) ReadyAt() uint64 {
	return r.BlockNumber + uint64(r.RequestConfirmations)
}

// Fulfillment records the delivery of one request.
type Fulfillment struct {
	RequestID   uint64       `json:"request_id"`
	Payment     *uint256.Int `json:"payment"`
	Proof       Proof        `json:"proof"`
	Success     bool         `json:"success"`
	Error       string       `json:"error,omitempty"`
	FulfilledAt time.Time    `json:"fulfilled_at"`
}
