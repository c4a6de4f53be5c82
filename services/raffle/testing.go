package raffle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TestCoordinator is the coordinator identity used by the test helpers.
var TestCoordinator = common.HexToAddress("0x00000000000000000000000000000000000c0de0")

// MockRandomnessProvider hands out sequential request ids and records every
// request. It never calls back; tests deliver randomness themselves.
type MockRandomnessProvider struct {
	mu       sync.Mutex
	nextID   RequestID
	requests []RandomnessRequest
	err      error
}

// NewMockRandomnessProvider creates a provider whose first id is 1.
func NewMockRandomnessProvider() *MockRandomnessProvider {
	return &MockRandomnessProvider{}
}

// RequestRandomWords records the request and returns the next id.
func (m *MockRandomnessProvider) RequestRandomWords(ctx context.Context, req RandomnessRequest) (RequestID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.nextID++
	m.requests = append(m.requests, req)
	return m.nextID, nil
}

// FailWith makes subsequent requests fail with err; nil restores success.
func (m *MockRandomnessProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the accepted requests.
func (m *MockRandomnessProvider) Requests() []RandomnessRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RandomnessRequest(nil), m.requests...)
}

// Payment is one transfer seen by RecordingPayer.
type Payment struct {
	To     Participant
	Amount *uint256.Int
}

// RecordingPayer records successful payments and can be told to fail.
type RecordingPayer struct {
	mu       sync.Mutex
	payments []Payment
	attempts int
	err      error
}

// NewRecordingPayer creates a payer that accepts every payment.
func NewRecordingPayer() *RecordingPayer {
	return &RecordingPayer{}
}

// Pay records the payment unless the payer is failing.
func (p *RecordingPayer) Pay(ctx context.Context, to Participant, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil {
		return p.err
	}
	p.payments = append(p.payments, Payment{To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// FailWith makes subsequent payments fail with err; nil restores success.
func (p *RecordingPayer) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Payments returns the successful payments.
func (p *RecordingPayer) Payments() []Payment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Payment(nil), p.payments...)
}

// Attempts returns the number of Pay calls, failed ones included.
func (p *RecordingPayer) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
