package vrf

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/services/raffle"
)

// Config configures a Coordinator.
type Config struct {
	// Address is the identity the coordinator calls consumers with.
	Address common.Address
	// Key proves the random words. A fresh key is generated when nil.
	Key *ProvingKey
	// BaseFee is charged per fulfilment; GasPrice is charged per unit of
	// callback gas limit.
	BaseFee     *uint256.Int
	GasPrice    *uint256.Int
	MaxGasLimit uint32
	// BlockTime is the fulfiller tick.
	BlockTime time.Duration
}

// EventLog receives coordinator notifications.
type EventLog interface {
	Log(event events.Event)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEventLog sets the notification sink.
func WithEventLog(log EventLog) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.events = log
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator accepts randomness requests from subscribed consumers and
// fulfils them once enough blocks have passed.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config
	key *ProvingKey
	pub VerifyingKey

	log    *logger.Logger
	events EventLog
	now    func() time.Time

	block         uint64
	nextSubID     uint64
	nextRequestID uint64
	subscriptions map[uint64]*Subscription
	requests      map[uint64]Request
	consumers     map[common.Address]Consumer
	fulfillments  map[uint64]Fulfillment

	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ raffle.RandomnessProvider = (*Coordinator)(nil)

// NewCoordinator creates a coordinator at block 1 with no subscriptions.
func NewCoordinator(cfg Config, opts ...Option) (*Coordinator, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("coordinator address required")
	}
	if cfg.Key == nil {
		key, err := GenerateProvingKey()
		if err != nil {
			return nil, err
		}
		cfg.Key = key
	}
	if cfg.BaseFee == nil {
		cfg.BaseFee = uint256.NewInt(250_000_000_000_000_000) // 0.25
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = uint256.NewInt(1_000_000_000)
	}
	if cfg.MaxGasLimit == 0 {
		cfg.MaxGasLimit = DefaultMaxGasLimit
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = time.Second
	}

	c := &Coordinator{
		cfg:           cfg,
		key:           cfg.Key,
		pub:           cfg.Key.Public(),
		log:           logger.NewDefault("vrf"),
		events:        events.Discard{},
		now:           time.Now,
		block:         1,
		subscriptions: make(map[uint64]*Subscription),
		requests:      make(map[uint64]Request),
		consumers:     make(map[common.Address]Consumer),
		fulfillments:  make(map[uint64]Fulfillment),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the coordinator identity.
func (c *Coordinator) Address() common.Address {
	return c.cfg.Address
}

// KeyHash returns the hash of the proving key; requests must carry it.
func (c *Coordinator) KeyHash() common.Hash {
	return c.pub.KeyHash()
}

// PublicKey returns the verifying key.
func (c *Coordinator) PublicKey() VerifyingKey {
	return c.pub
}

// Fee returns the amount charged for a fulfilment with the given gas limit.
func (c *Coordinator) Fee(callbackGasLimit uint32) *uint256.Int {
	fee := new(uint256.Int).Mul(c.cfg.GasPrice, uint256.NewInt(uint64(callbackGasLimit)))
	return fee.Add(fee, c.cfg.BaseFee)
}

// CreateSubscription opens an empty subscription owned by owner.
func (c *Coordinator) CreateSubscription(owner common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subscriptions[id] = &Subscription{ID: id, Owner: owner, Balance: new(uint256.Int)}
	c.log.WithField("subscription_id", id).WithField("owner", owner.Hex()).Info("subscription created")
	return id, nil
}

// FundSubscription adds amount to the subscription balance.
func (c *Coordinator) FundSubscription(subID uint64, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidFundingAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	sub.Balance = new(uint256.Int).Add(sub.Balance, amount)
	c.log.WithField("subscription_id", subID).WithField("balance", sub.Balance.Dec()).Debug("subscription funded")
	return nil
}

// AddConsumer allows addr to request randomness billed to the subscription.
func (c *Coordinator) AddConsumer(subID uint64, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if sub.hasConsumer(addr) {
		return nil
	}
	if len(sub.Consumers) >= MaxConsumers {
		return ErrTooManyConsumers
	}
	sub.Consumers = append(sub.Consumers, addr)
	return nil
}

// RemoveConsumer revokes a consumer. Its pending requests are still fulfilled.
func (c *Coordinator) RemoveConsumer(subID uint64, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	for i, existing := range sub.Consumers {
		if existing == addr {
			sub.Consumers = append(sub.Consumers[:i], sub.Consumers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConsumer, addr.Hex())
}

// GetSubscription returns a copy of the subscription.
func (c *Coordinator) GetSubscription(subID uint64) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	return sub.clone(), nil
}

// Attach binds the callback target for a consumer address.
func (c *Coordinator) Attach(addr common.Address, consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[addr] = consumer
}

// RequestRandomWords validates and queues a request. It returns at once; the
// words are delivered later by FulfillRandomWords.
func (c *Coordinator) RequestRandomWords(ctx context.Context, req raffle.RandomnessRequest) (uint64, error) {
	c.mu.Lock()
	if err := c.validateLocked(req); err != nil {
		c.mu.Unlock()
		return 0, err
	}

	c.nextRequestID++
	r := Request{
		ID:                   c.nextRequestID,
		SubscriptionID:       req.SubscriptionID,
		Consumer:             req.Consumer,
		KeyHash:              req.KeyHash,
		NumWords:             req.NumWords,
		CallbackGasLimit:     req.CallbackGasLimit,
		RequestConfirmations: req.RequestConfirmations,
		BlockNumber:          c.block,
		RequestedAt:          c.now(),
	}
	c.requests[r.ID] = r
	c.subscriptions[req.SubscriptionID].RequestCount++
	pending := len(c.requests)
	c.mu.Unlock()

	metrics.RecordRandomnessRequest()
	metrics.SetPendingRequests(pending)
	c.log.WithField("request_id", r.ID).
		WithField("consumer", r.Consumer.Hex()).
		WithField("block", r.BlockNumber).
		Info("randomness requested")
	c.events.Log(events.NewEvent(events.EventRandomnessRequested).
		Component("vrf").
		RequestID(r.ID).
		Participant(r.Consumer.Hex()).
		At(r.RequestedAt).
		Metadata("subscription_id", strconv.FormatUint(r.SubscriptionID, 10)).
		Metadata("block", strconv.FormatUint(r.BlockNumber, 10)).
		Build())

	return r.ID, nil
}

func (c *Coordinator) validateLocked(req raffle.RandomnessRequest) error {
	if req.KeyHash != c.pub.KeyHash() {
		return fmt.Errorf("%w: %s", ErrInvalidKeyHash, req.KeyHash.Hex())
	}
	sub, ok := c.subscriptions[req.SubscriptionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, req.SubscriptionID)
	}
	if !sub.hasConsumer(req.Consumer) {
		return fmt.Errorf("%w: %s not added to subscription %d", ErrInvalidConsumer, req.Consumer.Hex(), sub.ID)
	}
	if req.RequestConfirmations > MaxRequestConfirmations {
		return fmt.Errorf("%w: %d > %d", ErrInvalidConfirmations, req.RequestConfirmations, MaxRequestConfirmations)
	}
	if req.CallbackGasLimit > c.cfg.MaxGasLimit {
		return fmt.Errorf("%w: %d > %d", ErrGasLimitTooBig, req.CallbackGasLimit, c.cfg.MaxGasLimit)
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return fmt.Errorf("%w: %d", ErrInvalidNumWords, req.NumWords)
	}
	return nil
}

// FulfillRandomWords proves and delivers the words for one request. The
// request is removed before the consumer is called, so it can never be
// delivered twice. A failing callback still consumes the request and its fee;
// the outcome is in the returned Fulfillment.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, requestID uint64) (Fulfillment, error) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok {
		c.mu.Unlock()
		return Fulfillment{}, fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	sub := c.subscriptions[req.SubscriptionID]
	payment := c.Fee(req.CallbackGasLimit)
	if sub.Balance.Lt(payment) {
		c.mu.Unlock()
		return Fulfillment{}, fmt.Errorf("%w: subscription %d has %s, needs %s",
			ErrInsufficientBalance, sub.ID, sub.Balance.Dec(), payment.Dec())
	}

	proof, err := c.prove(req)
	if err != nil {
		c.mu.Unlock()
		return Fulfillment{}, err
	}
	sub.Balance = new(uint256.Int).Sub(sub.Balance, payment)
	delete(c.requests, requestID)
	consumer := c.consumers[req.Consumer]
	pending := len(c.requests)
	c.mu.Unlock()

	metrics.SetPendingRequests(pending)

	var cbErr error
	if consumer == nil {
		cbErr = fmt.Errorf("%w: %s", ErrNoConsumerAttached, req.Consumer.Hex())
	} else {
		cbErr = consumer.RawFulfillRandomWords(ctx, c.cfg.Address, requestID, proof.Words)
	}

	f := Fulfillment{
		RequestID:   requestID,
		Payment:     payment,
		Proof:       proof,
		Success:     cbErr == nil,
		FulfilledAt: c.now(),
	}
	if cbErr != nil {
		f.Error = cbErr.Error()
	}

	c.mu.Lock()
	c.fulfillments[requestID] = f
	c.mu.Unlock()

	metrics.RecordFulfillment(f.Success)
	b := events.NewEvent(events.EventRandomnessFulfilled).
		Component("vrf").
		RequestID(requestID).
		Participant(req.Consumer.Hex()).
		At(f.FulfilledAt).
		Metadata("payment", payment.Dec()).
		Metadata("output", proof.Output.Hex()).
		Payload(f)
	if cbErr != nil {
		c.log.WithError(cbErr).WithField("request_id", requestID).Warn("consumer callback failed")
		b = events.NewEvent(events.EventFulfillFailed).
			Component("vrf").
			RequestID(requestID).
			Participant(req.Consumer.Hex()).
			At(f.FulfilledAt).
			Metadata("payment", payment.Dec()).
			ErrorFrom(cbErr).
			Payload(f)
	} else {
		c.log.WithField("request_id", requestID).WithField("payment", payment.Dec()).Info("randomness fulfilled")
	}
	c.events.Log(b.Build())

	return f, nil
}

func (c *Coordinator) prove(req Request) (Proof, error) {
	seed := RequestSeed(req.KeyHash, req.ID, req.Consumer, req.SubscriptionID, req.BlockNumber)
	output, sig, err := c.key.Evaluate(seed)
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		KeyHash:        req.KeyHash,
		RequestID:      req.ID,
		Consumer:       req.Consumer,
		SubscriptionID: req.SubscriptionID,
		BlockNumber:    req.BlockNumber,
		Seed:           seed,
		Signature:      sig,
		Output:         output,
		Words:          ExpandWords(output, req.NumWords),
	}, nil
}

// Verify checks a proof against the coordinator key.
func (c *Coordinator) Verify(p Proof) error {
	return c.pub.Verify(p)
}

// Fulfillment returns the delivery record for a request.
func (c *Coordinator) Fulfillment(requestID uint64) (Fulfillment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fulfillments[requestID]
	return f, ok
}

// PendingRequests returns the queued requests in id order.
func (c *Coordinator) PendingRequests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Coordinator) pendingLocked() []Request {
	out := make([]Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
