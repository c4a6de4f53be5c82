// Package raffle implements the raffle engine: a paid-entry ledger, a draw
// trigger, correlation of asynchronous randomness responses and the payout
// to a single winner per round.
package raffle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/pkg/units"
)

// Config is fixed for the lifetime of a Service.
type Config struct {
	EntryFee *uint256.Int
	Interval time.Duration

	// Provider parameters, passed through to RandomnessProvider untouched.
	KeyHash              common.Hash
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	RequestConfirmations uint16
	NumWords             uint32

	// Coordinator is the only caller allowed to deliver randomness.
	Coordinator common.Address
	// Address is the raffle's own identity: the consumer and escrow account.
	Address common.Address
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	if c.EntryFee == nil || c.EntryFee.IsZero() {
		return fmt.Errorf("%w: entry fee must be positive", ErrInvalidConfig)
	}
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	}
	if c.Coordinator == (common.Address{}) {
		return fmt.Errorf("%w: coordinator address required", ErrInvalidConfig)
	}
	if c.NumWords == 0 {
		c.NumWords = 1
	}
	return nil
}

// EventLog receives raffle notifications.
type EventLog interface {
	Log(event events.Event)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEventLog sets the notification sink.
func WithEventLog(log EventLog) Option {
	return func(s *Service) {
		if log != nil {
			s.events = log
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the raffle state machine. It is the only writer of the raffle
// state; every mutating call runs under one mutex. Notifications are
// published and the randomness provider is called with the mutex released,
// so both may call back into the Service.
type Service struct {
	mu       sync.RWMutex
	started  *sync.Cond
	cfg      Config
	provider RandomnessProvider
	payer    Payer
	log      *logger.Logger
	events   EventLog
	now      func() time.Time

	state        State
	ledger       ledger
	draw         correlator
	recentWinner Participant
	// starting is true while a randomness request is in flight.
	starting bool
}

// New creates a Service in the OPEN state with an empty first round.
func New(cfg Config, provider RandomnessProvider, payer Payer, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil || payer == nil {
		return nil, fmt.Errorf("%w: provider and payer are required", ErrInvalidConfig)
	}

	s := &Service{
		cfg:      cfg,
		provider: provider,
		payer:    payer,
		log:      logger.NewDefault("raffle"),
		events:   events.Discard{},
		now:      time.Now,
		state:    StateOpen,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = sync.NewCond(&s.mu)
	s.cfg.EntryFee = new(uint256.Int).Set(cfg.EntryFee)
	s.ledger = newLedger(cfg.EntryFee, s.now())
	s.publishGauges()
	return s, nil
}

// update runs fn under the write lock and publishes whatever notifications
// it produced once the lock is released, even if fn failed.
func (s *Service) update(fn func() ([]events.Event, error)) error {
	s.mu.Lock()
	evs, err := fn()
	s.publishGauges()
	s.mu.Unlock()

	for _, e := range evs {
		s.events.Log(e)
	}
	return err
}

func (s *Service) publishGauges() {
	metrics.SetRound(int(s.state), s.ledger.count(), units.ToFloat(s.ledger.round.Pot))
}

// Enter records a paid entry into the open round. The payment must equal the
// entry fee exactly; the fee is checked before the state.
func (s *Service) Enter(ctx context.Context, participant Participant, payment *uint256.Int) error {
	return s.update(func() ([]events.Event, error) {
		if err := s.ledger.checkFee(payment); err != nil {
			metrics.RecordRejection("enter", "wrong_fee")
			return nil, err
		}
		if s.state != StateOpen {
			metrics.RecordRejection("enter", "not_open")
			return nil, fmt.Errorf("%w: state %s", ErrRoundNotOpen, s.state)
		}
		if s.starting {
			metrics.RecordRejection("enter", "draw_starting")
			return nil, fmt.Errorf("%w: draw starting", ErrRoundNotOpen)
		}
		if err := s.ledger.add(participant, payment); err != nil {
			metrics.RecordRejection("enter", "overflow")
			return nil, err
		}

		metrics.RecordEntry()
		round := s.ledger.round
		s.log.WithField("participant", participant.Hex()).
			WithField("round", round.Number).
			WithField("entrants", len(round.Entrants)).
			Debug("raffle entered")

		return []events.Event{
			events.NewEvent(events.EventEntered).
				Component("raffle").
				Round(round.Number).
				Participant(participant.Hex()).
				At(s.now()).
				Metadata("entrants", strconv.Itoa(len(round.Entrants))).
				Metadata("pot", round.Pot.Dec()).
				Build(),
		}, nil
	})
}

func (s *Service) conditionLocked() DrawCondition {
	return DrawCondition{
		State:    s.state,
		Entrants: s.ledger.count(),
		Pot:      s.ledger.round.Pot,
		Elapsed:  s.now().Sub(s.ledger.round.StartedAt),
		Interval: s.cfg.Interval,
		Starting: s.starting,
	}
}

// DrawCondition returns the current predicate input.
func (s *Service) DrawCondition() DrawCondition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.conditionLocked()
	c.Pot = new(uint256.Int).Set(c.Pot)
	return c
}

// IsDrawDue reports whether a draw may start now. It has no side effects and
// is safe for any caller.
func (s *Service) IsDrawDue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conditionLocked().Due()
}

// CheckUpkeep is IsDrawDue for keeper-style callers.
func (s *Service) CheckUpkeep(ctx context.Context) bool {
	return s.IsDrawDue()
}

// StartDrawIfEligible re-evaluates the draw predicate and, when it holds,
// requests randomness and moves the raffle to CALCULATING. Nothing changes
// unless the provider accepts the request.
//
// The provider is called without the lock held. Until its answer is recorded
// entries and further starts are refused, and a response for the request
// waits for the draw to be opened.
func (s *Service) StartDrawIfEligible(ctx context.Context) (RequestID, error) {
	var round Round
	err := s.update(func() ([]events.Event, error) {
		cond := s.conditionLocked()
		if !cond.Due() {
			metrics.RecordRejection("start_draw", "not_eligible")
			return nil, &DrawNotEligibleError{
				Pot:      new(uint256.Int).Set(cond.Pot),
				Entrants: cond.Entrants,
				State:    cond.State,
				Reason:   cond.Reason(),
			}
		}
		s.starting = true
		round = s.ledger.snapshot()
		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	reqID, reqErr := s.provider.RequestRandomWords(ctx, RandomnessRequest{
		KeyHash:              s.cfg.KeyHash,
		SubscriptionID:       s.cfg.SubscriptionID,
		RequestConfirmations: s.cfg.RequestConfirmations,
		CallbackGasLimit:     s.cfg.CallbackGasLimit,
		NumWords:             s.cfg.NumWords,
		Consumer:             s.cfg.Address,
	})

	var id RequestID
	err = s.update(func() ([]events.Event, error) {
		s.starting = false
		s.started.Broadcast()

		if reqErr != nil {
			metrics.RecordRejection("start_draw", "provider")
			s.log.WithError(reqErr).Warn("randomness request rejected")
			return nil, fmt.Errorf("%w: %w", ErrRandomnessRequest, reqErr)
		}
		now := s.now()
		if err := s.draw.open(reqID, round, now); err != nil {
			metrics.RecordRejection("start_draw", "stale_request")
			s.log.WithError(err).
				WithField("request_id", reqID).
				WithField("round", round.Number).
				Warn("randomness request refused, provider still holds it")
			return nil, err
		}
		s.state = StateCalculating
		id = reqID

		metrics.RecordDrawRequested()
		s.log.WithField("request_id", reqID).
			WithField("round", round.Number).
			WithField("entrants", len(round.Entrants)).
			WithField("pot", round.Pot.Dec()).
			Info("draw requested")

		return []events.Event{
			events.NewEvent(events.EventDrawRequested).
				Component("raffle").
				Round(round.Number).
				RequestID(reqID).
				At(now).
				Metadata("entrants", strconv.Itoa(len(round.Entrants))).
				Metadata("pot", round.Pot.Dec()).
				Build(),
		}, nil
	})
	return id, err
}

// PerformUpkeep is StartDrawIfEligible for keeper-style callers.
func (s *Service) PerformUpkeep(ctx context.Context) (RequestID, error) {
	return s.StartDrawIfEligible(ctx)
}

// ResolveDraw consumes the randomness for the pending draw: it selects the
// winner, pays the pot and starts the next round. Only the configured
// coordinator may call it, and only with the id of the live pending draw.
func (s *Service) ResolveDraw(ctx context.Context, caller common.Address, requestID RequestID, randomValue *uint256.Int) error {
	return s.update(func() ([]events.Event, error) {
		if caller != s.cfg.Coordinator {
			metrics.RecordRejection("resolve", "not_coordinator")
			return nil, fmt.Errorf("%w: %s", ErrOnlyCoordinator, caller.Hex())
		}
		for s.starting {
			s.started.Wait()
		}
		draw, err := s.draw.match(requestID)
		if err != nil {
			metrics.RecordRejection("resolve", "unknown_request")
			s.log.WithField("request_id", requestID).Warn("unmatched randomness response")
			return nil, err
		}
		if randomValue == nil {
			randomValue = new(uint256.Int)
		}
		return s.settle(ctx, draw, selectWinner(randomValue, draw.Round.Entrants))
	})
}

// RawFulfillRandomWords is the coordinator callback. The first word decides
// the winner.
func (s *Service) RawFulfillRandomWords(ctx context.Context, caller common.Address, requestID RequestID, words []*uint256.Int) error {
	if caller != s.cfg.Coordinator {
		metrics.RecordRejection("resolve", "not_coordinator")
		return fmt.Errorf("%w: %s", ErrOnlyCoordinator, caller.Hex())
	}
	if len(words) == 0 {
		metrics.RecordRejection("resolve", "no_words")
		return ErrNoRandomWords
	}
	return s.ResolveDraw(ctx, caller, requestID, words[0])
}

// RetryPayout re-attempts the transfer to the winner locked in by a failed
// payout. The winner cannot change between attempts.
func (s *Service) RetryPayout(ctx context.Context) error {
	return s.update(func() ([]events.Event, error) {
		draw := s.draw.pending
		if draw == nil || draw.Resolution == nil {
			return nil, ErrNoPayoutPending
		}
		s.log.WithField("request_id", draw.RequestID).
			WithField("winner", draw.Resolution.Winner.Hex()).
			Info("retrying payout")
		return s.settle(ctx, draw, *draw.Resolution)
	})
}

// settle pays the resolved winner and builds the matching notification.
func (s *Service) settle(ctx context.Context, draw *PendingDraw, res Resolution) ([]events.Event, error) {
	result, err := s.pay(ctx, draw, res)
	if err != nil {
		metrics.RecordPayoutFailure()
		s.log.WithError(err).
			WithField("request_id", draw.RequestID).
			WithField("winner", res.Winner.Hex()).
			Warn("payout failed, draw stays pending")
		return []events.Event{
			events.NewEvent(events.EventPayoutFailed).
				Component("raffle").
				Round(draw.Round.Number).
				RequestID(draw.RequestID).
				Participant(res.Winner.Hex()).
				At(s.now()).
				Metadata("amount", draw.Round.Pot.Dec()).
				Metadata("winner_index", strconv.Itoa(res.WinnerIndex)).
				ErrorFrom(err).
				Build(),
		}, err
	}

	metrics.RecordWinner(result.DrawnAt.Sub(result.RequestedAt))
	s.log.WithField("request_id", result.RequestID).
		WithField("round", result.RoundNumber).
		WithField("winner", result.Winner.Hex()).
		WithField("winner_index", result.WinnerIndex).
		WithField("pot", result.Pot.Dec()).
		Info("winner picked")

	return []events.Event{
		events.NewEvent(events.EventWinnerPicked).
			Component("raffle").
			Round(result.RoundNumber).
			RequestID(result.RequestID).
			Participant(result.Winner.Hex()).
			At(result.DrawnAt).
			Metadata("pot", result.Pot.Dec()).
			Metadata("winner_index", strconv.Itoa(result.WinnerIndex)).
			Payload(*result).
			Build(),
	}, nil
}

// PayoutPending reports whether a winner is locked in awaiting a successful
// payout.
func (s *Service) PayoutPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draw.pending != nil && s.draw.pending.Resolution != nil
}

// EntrantCount returns the number of entries in the current round.
func (s *Service) EntrantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.count()
}

// EntrantAt returns the entrant at index i of the current round.
func (s *Service) EntrantAt(i int) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.at(i)
}

// PotBalance returns a copy of the current pot.
func (s *Service) PotBalance() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.pot()
}

// State returns the raffle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RecentWinner returns the most recent winner, the zero address before the
// first payout.
func (s *Service) RecentWinner() Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentWinner
}

// EntryFee returns a copy of the entry fee.
func (s *Service) EntryFee() *uint256.Int {
	return new(uint256.Int).Set(s.cfg.EntryFee)
}

// Interval returns the minimum round length.
func (s *Service) Interval() time.Duration {
	return s.cfg.Interval
}

// Address returns the raffle's own identity.
func (s *Service) Address() common.Address {
	return s.cfg.Address
}

// RoundStartedAt returns when the current round started.
func (s *Service) RoundStartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.round.StartedAt
}

// RoundNumber returns the 1-based number of the current round.
func (s *Service) RoundNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.round.Number
}

// PendingRequest returns the id of the in-flight draw, if any.
func (s *Service) PendingRequest() (RequestID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draw.pending == nil {
		return 0, false
	}
	return s.draw.pending.RequestID, true
}

// Status is an operator snapshot of the raffle.
type Status struct {
	State          State     `json:"state"`
	Round          int64     `json:"round"`
	RoundID        string    `json:"round_id"`
	Entrants       int       `json:"entrants"`
	Pot            string    `json:"pot"`
	EntryFee       string    `json:"entry_fee"`
	Interval       string    `json:"interval"`
	RoundStartedAt time.Time `json:"round_started_at"`
	RecentWinner   string    `json:"recent_winner"`
	PendingRequest uint64    `json:"pending_request,omitempty"`
	PayoutPending  bool      `json:"payout_pending"`
	DrawDue        bool      `json:"draw_due"`
	BlockedBy      string    `json:"blocked_by,omitempty"`
}

// Status returns a consistent snapshot of the raffle.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond := s.conditionLocked()
	st := Status{
		State:          s.state,
		Round:          s.ledger.round.Number,
		RoundID:        s.ledger.round.ID,
		Entrants:       s.ledger.count(),
		Pot:            s.ledger.round.Pot.Dec(),
		EntryFee:       s.cfg.EntryFee.Dec(),
		Interval:       s.cfg.Interval.String(),
		RoundStartedAt: s.ledger.round.StartedAt,
		RecentWinner:   s.recentWinner.Hex(),
		DrawDue:        cond.Due(),
		BlockedBy:      cond.Reason(),
	}
	if p := s.draw.pending; p != nil {
		st.PendingRequest = p.RequestID
		st.PayoutPending = p.Resolution != nil
	}
	return st
}
