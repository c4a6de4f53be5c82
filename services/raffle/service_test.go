package raffle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/pkg/units"
)

var (
	p1 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	p2 = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	p3 = common.HexToAddress("0x00000000000000000000000000000000000000a3")

	raffleAddr = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	start      = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

const interval = 30 * time.Second

type fixture struct {
	svc      *Service
	provider *MockRandomnessProvider
	payer    *RecordingPayer
	clock    *ManualClock
	events   *events.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith builds a fixture around provider and log. A nil provider
// means the fixture's mock; a nil log discards.
func newFixtureWith(t *testing.T, provider RandomnessProvider, log *logger.Logger) *fixture {
	t.Helper()
	f := &fixture{
		provider: NewMockRandomnessProvider(),
		payer:    NewRecordingPayer(),
		clock:    NewManualClock(start),
		events:   events.NewJournal(100),
	}
	if provider == nil {
		provider = f.provider
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	svc, err := New(Config{
		EntryFee:             units.Whole(1),
		Interval:             interval,
		KeyHash:              common.HexToHash("0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"),
		SubscriptionID:       1,
		CallbackGasLimit:     100000,
		RequestConfirmations: 1,
		Coordinator:          TestCoordinator,
		Address:              raffleAddr,
	}, provider, f.payer,
		WithLogger(log),
		WithEventLog(f.events),
		WithClock(f.clock.Now),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

// providerFunc adapts a function to RandomnessProvider.
type providerFunc func(ctx context.Context, req RandomnessRequest) (RequestID, error)

func (fn providerFunc) RequestRandomWords(ctx context.Context, req RandomnessRequest) (RequestID, error) {
	return fn(ctx, req)
}

// within fails the test if fn does not return before the deadline.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not return, engine lock still held")
	}
}

func (f *fixture) enter(t *testing.T, ps ...Participant) {
	t.Helper()
	for _, p := range ps {
		if err := f.svc.Enter(context.Background(), p, units.Whole(1)); err != nil {
			t.Fatalf("Enter(%s): %v", p.Hex(), err)
		}
	}
}

func (f *fixture) startDraw(t *testing.T) RequestID {
	t.Helper()
	f.clock.Advance(interval + time.Second)
	id, err := f.svc.StartDrawIfEligible(context.Background())
	if err != nil {
		t.Fatalf("StartDrawIfEligible: %v", err)
	}
	return id
}

func (f *fixture) resolve(id RequestID, v uint64) error {
	return f.svc.ResolveDraw(context.Background(), TestCoordinator, id, uint256.NewInt(v))
}

func (f *fixture) checkPotInvariant(t *testing.T) {
	t.Helper()
	want := new(uint256.Int).Mul(f.svc.EntryFee(), uint256.NewInt(uint64(f.svc.EntrantCount())))
	if got := f.svc.PotBalance(); !got.Eq(want) {
		t.Errorf("pot = %s, want fee x entrants = %s", got.Dec(), want.Dec())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	provider, payer := NewMockRandomnessProvider(), NewRecordingPayer()
	valid := Config{EntryFee: units.Whole(1), Interval: interval, Coordinator: TestCoordinator}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil fee", func(c *Config) { c.EntryFee = nil }},
		{"zero fee", func(c *Config) { c.EntryFee = new(uint256.Int) }},
		{"negative interval", func(c *Config) { c.Interval = -time.Second }},
		{"no coordinator", func(c *Config) { c.Coordinator = common.Address{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := New(cfg, provider, payer); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	t.Run("nil provider", func(t *testing.T) {
		if _, err := New(valid, nil, payer); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestNew_InitialState(t *testing.T) {
	f := newFixture(t)

	if f.svc.State() != StateOpen {
		t.Errorf("State() = %s, want OPEN", f.svc.State())
	}
	if f.svc.EntrantCount() != 0 || !f.svc.PotBalance().IsZero() {
		t.Error("new raffle should have an empty ledger")
	}
	if f.svc.RoundNumber() != 1 {
		t.Errorf("RoundNumber() = %d, want 1", f.svc.RoundNumber())
	}
	if f.svc.RecentWinner() != (common.Address{}) {
		t.Error("RecentWinner() should be zero before the first payout")
	}
	if !f.svc.RoundStartedAt().Equal(start) {
		t.Errorf("RoundStartedAt() = %v, want %v", f.svc.RoundStartedAt(), start)
	}
	if f.svc.Interval() != interval {
		t.Errorf("Interval() = %v", f.svc.Interval())
	}
	if _, ok := f.svc.PendingRequest(); ok {
		t.Error("no request should be pending")
	}
}

func TestEnter(t *testing.T) {
	f := newFixture(t)

	f.enter(t, p1, p2, p1)

	if f.svc.EntrantCount() != 3 {
		t.Fatalf("EntrantCount() = %d, want 3", f.svc.EntrantCount())
	}
	for i, want := range []Participant{p1, p2, p1} {
		got, err := f.svc.EntrantAt(i)
		if err != nil || got != want {
			t.Errorf("EntrantAt(%d) = %s, %v; want %s", i, got.Hex(), err, want.Hex())
		}
	}
	f.checkPotInvariant(t)

	entered := f.events.RecentByType(events.EventEntered, 10)
	if len(entered) != 3 {
		t.Fatalf("entered events = %d, want 3", len(entered))
	}
	if entered[0].Participant != p1.Hex() || entered[0].Metadata["entrants"] != "3" {
		t.Errorf("latest entered event = %+v", entered[0])
	}
}

func TestEnter_WrongFee(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)

	for name, payment := range map[string]*uint256.Int{
		"less": units.MustParseAmount("0.5"),
		"more": units.Whole(2),
		"zero": new(uint256.Int),
		"nil":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			err := f.svc.Enter(context.Background(), p2, payment)
			if !errors.Is(err, ErrWrongEntryFee) {
				t.Fatalf("err = %v, want ErrWrongEntryFee", err)
			}
			if f.svc.EntrantCount() != 1 || f.svc.State() != StateOpen {
				t.Error("rejected entry changed the ledger")
			}
			f.checkPotInvariant(t)
		})
	}
}

func TestEnter_FeeCheckedBeforeState(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)
	f.startDraw(t)

	err := f.svc.Enter(context.Background(), p2, units.Whole(2))
	if !errors.Is(err, ErrWrongEntryFee) {
		t.Errorf("err = %v, want ErrWrongEntryFee", err)
	}
}

func TestEntrantAt_OutOfRange(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.EntrantAt(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("EntrantAt(0) on empty ledger err = %v", err)
	}
	f.enter(t, p1)
	for _, i := range []int{-1, 1, 100} {
		if _, err := f.svc.EntrantAt(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("EntrantAt(%d) err = %v, want ErrIndexOutOfRange", i, err)
		}
	}
}

func TestIsDrawDue(t *testing.T) {
	t.Run("no entrants regardless of elapsed time", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24 * time.Hour)
		if f.svc.IsDrawDue() {
			t.Error("IsDrawDue() = true with no entrants")
		}
	})

	t.Run("interval not elapsed", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1)
		f.clock.Advance(interval - time.Second)
		if f.svc.IsDrawDue() {
			t.Error("IsDrawDue() = true before the interval")
		}
	})

	t.Run("exactly at interval", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1)
		f.clock.Advance(interval)
		if !f.svc.IsDrawDue() || !f.svc.CheckUpkeep(context.Background()) {
			t.Error("IsDrawDue() = false once the interval elapsed")
		}
	})

	t.Run("calculating", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1)
		f.startDraw(t)
		if f.svc.IsDrawDue() {
			t.Error("IsDrawDue() = true while calculating")
		}
	})

	t.Run("no side effects", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1)
		f.clock.Advance(interval)
		before := f.events.Count()
		for i := 0; i < 5; i++ {
			f.svc.IsDrawDue()
		}
		if f.svc.State() != StateOpen || f.events.Count() != before || len(f.provider.Requests()) != 0 {
			t.Error("IsDrawDue() mutated the raffle")
		}
	})
}

func TestStartDrawIfEligible(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2)

	id := f.startDraw(t)

	if id != 1 {
		t.Errorf("request id = %d, want 1", id)
	}
	if f.svc.State() != StateCalculating {
		t.Errorf("State() = %s, want CALCULATING", f.svc.State())
	}
	if pending, ok := f.svc.PendingRequest(); !ok || pending != id {
		t.Errorf("PendingRequest() = %d, %v", pending, ok)
	}
	if f.svc.EntrantCount() != 2 {
		t.Error("starting a draw must not touch the ledger")
	}

	reqs := f.provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("provider saw %d requests, want 1", len(reqs))
	}
	req := reqs[0]
	if req.NumWords != 1 || req.CallbackGasLimit != 100000 || req.RequestConfirmations != 1 || req.SubscriptionID != 1 || req.Consumer != raffleAddr {
		t.Errorf("unexpected request parameters: %+v", req)
	}

	requested := f.events.RecentByType(events.EventDrawRequested, 1)
	if len(requested) != 1 || requested[0].RequestID != id {
		t.Errorf("draw requested event = %+v", requested)
	}
}

func TestStartDrawIfEligible_SecondCallFails(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)
	f.startDraw(t)

	_, err := f.svc.StartDrawIfEligible(context.Background())
	var notEligible *DrawNotEligibleError
	if !errors.As(err, &notEligible) {
		t.Fatalf("err = %v, want *DrawNotEligibleError", err)
	}
	if notEligible.State != StateCalculating || notEligible.Entrants != 1 || !notEligible.Pot.Eq(units.Whole(1)) {
		t.Errorf("error figures = %+v", notEligible)
	}
	if len(f.provider.Requests()) != 1 {
		t.Error("second draw reached the provider")
	}
}

func TestStartDrawIfEligible_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2)
	f.clock.Advance(interval)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, rejected int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartDrawIfEligible(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDrawNotEligible):
				rejected++
			}
		}()
	}
	wg.Wait()

	if ok != 1 || rejected != 7 {
		t.Errorf("succeeded %d, rejected %d; want 1 and 7", ok, rejected)
	}
}

func TestStartDrawIfEligible_ProviderRejects(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)
	f.clock.Advance(interval)
	boom := errors.New("subscription not funded")
	f.provider.FailWith(boom)

	_, err := f.svc.StartDrawIfEligible(context.Background())
	if !errors.Is(err, ErrRandomnessRequest) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrRandomnessRequest wrapping provider error", err)
	}
	if f.svc.State() != StateOpen {
		t.Error("rejected request moved the raffle to CALCULATING")
	}
	if _, ok := f.svc.PendingRequest(); ok {
		t.Error("rejected request left a pending draw")
	}

	f.provider.FailWith(nil)
	if _, err := f.svc.StartDrawIfEligible(context.Background()); err != nil {
		t.Errorf("retry after provider recovered: %v", err)
	}
}

func TestStartDrawIfEligible_ProviderRunsWithoutLock(t *testing.T) {
	var f *fixture
	var (
		state       State
		due         bool
		enterErr    error
		secondStart error
		status      Status
	)
	f = newFixtureWith(t, providerFunc(func(ctx context.Context, req RandomnessRequest) (RequestID, error) {
		state = f.svc.State()
		due = f.svc.IsDrawDue()
		status = f.svc.Status()
		enterErr = f.svc.Enter(ctx, p2, units.Whole(1))
		_, secondStart = f.svc.StartDrawIfEligible(ctx)
		return f.provider.RequestRandomWords(ctx, req)
	}), nil)
	f.enter(t, p1)
	f.clock.Advance(interval)

	var id RequestID
	var err error
	within(t, 3*time.Second, func() {
		id, err = f.svc.StartDrawIfEligible(context.Background())
	})
	if err != nil {
		t.Fatalf("StartDrawIfEligible: %v", err)
	}

	if state != StateOpen || due {
		t.Errorf("during request: state %s, due %v; want OPEN and not due", state, due)
	}
	if status.BlockedBy != "draw starting" {
		t.Errorf("during request: BlockedBy = %q", status.BlockedBy)
	}
	if !errors.Is(enterErr, ErrRoundNotOpen) {
		t.Errorf("entry during request: %v, want ErrRoundNotOpen", enterErr)
	}
	var notEligible *DrawNotEligibleError
	if !errors.As(secondStart, &notEligible) || notEligible.Reason != "draw starting" {
		t.Errorf("second start during request: %v", secondStart)
	}

	if f.svc.State() != StateCalculating || f.svc.EntrantCount() != 1 {
		t.Errorf("after request: state %s with %d entrants", f.svc.State(), f.svc.EntrantCount())
	}
	if pending, ok := f.svc.PendingRequest(); !ok || pending != id {
		t.Errorf("PendingRequest() = %d, %v; want %d", pending, ok, id)
	}
	if len(f.provider.Requests()) != 1 {
		t.Errorf("provider saw %d requests, want 1", len(f.provider.Requests()))
	}
}

func TestStartDrawIfEligible_ResponseWaitsForDrawToOpen(t *testing.T) {
	var f *fixture
	release := make(chan struct{})
	resolved := make(chan error, 1)
	f = newFixtureWith(t, providerFunc(func(ctx context.Context, req RandomnessRequest) (RequestID, error) {
		id, err := f.provider.RequestRandomWords(ctx, req)
		// a fast provider answering before the raffle records the draw
		go func() { resolved <- f.resolve(id, 0) }()
		<-release
		return id, err
	}), nil)
	f.enter(t, p1)
	f.clock.Advance(interval)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	within(t, 3*time.Second, func() {
		if _, err := f.svc.StartDrawIfEligible(context.Background()); err != nil {
			t.Errorf("StartDrawIfEligible: %v", err)
		}
	})

	select {
	case err := <-resolved:
		if err != nil {
			t.Fatalf("early response: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("early response never settled")
	}
	if f.svc.RecentWinner() != p1 || f.svc.State() != StateOpen {
		t.Errorf("winner %s state %s, want p1 and OPEN", f.svc.RecentWinner().Hex(), f.svc.State())
	}
}

func TestStartDrawIfEligible_StaleRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.LoggingConfig{Format: "json", Writer: &buf})
	var f *fixture
	f = newFixtureWith(t, providerFunc(func(ctx context.Context, req RandomnessRequest) (RequestID, error) {
		if _, err := f.provider.RequestRandomWords(ctx, req); err != nil {
			return 0, err
		}
		return 1, nil
	}), log)

	f.enter(t, p1)
	id := f.startDraw(t)
	if err := f.resolve(id, 0); err != nil {
		t.Fatal(err)
	}

	f.enter(t, p2)
	f.clock.Advance(interval)
	buf.Reset()
	_, err := f.svc.StartDrawIfEligible(context.Background())
	if !errors.Is(err, ErrRandomnessRequest) {
		t.Fatalf("err = %v, want ErrRandomnessRequest", err)
	}
	if f.svc.State() != StateOpen {
		t.Errorf("state = %s, want OPEN", f.svc.State())
	}
	if _, ok := f.svc.PendingRequest(); ok {
		t.Error("refused request left a pending draw")
	}
	if err := f.svc.Enter(context.Background(), p3, units.Whole(1)); err != nil {
		t.Errorf("entry after refused request: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if record["level"] != "warning" || record["request_id"] != float64(1) {
		t.Errorf("refusal log = %v, want warning with request_id 1", record)
	}
}

func TestResolveDraw(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2, p3)
	id := f.startDraw(t)
	f.clock.Advance(time.Minute)

	if err := f.resolve(id, 10); err != nil {
		t.Fatalf("ResolveDraw: %v", err)
	}

	// 10 mod 3 == 1
	if f.svc.RecentWinner() != p2 {
		t.Errorf("RecentWinner() = %s, want %s", f.svc.RecentWinner().Hex(), p2.Hex())
	}
	if f.svc.EntrantCount() != 0 || !f.svc.PotBalance().IsZero() || f.svc.State() != StateOpen {
		t.Error("round was not reset")
	}
	if f.svc.RoundNumber() != 2 || !f.svc.RoundStartedAt().Equal(f.clock.Now()) {
		t.Errorf("next round = %d started %v", f.svc.RoundNumber(), f.svc.RoundStartedAt())
	}

	payments := f.payer.Payments()
	if len(payments) != 1 || payments[0].To != p2 || !payments[0].Amount.Eq(units.Whole(3)) {
		t.Errorf("payments = %+v", payments)
	}

	picked := f.events.RecentByType(events.EventWinnerPicked, 1)
	if len(picked) != 1 {
		t.Fatal("no winner picked event")
	}
	result, ok := picked[0].Payload.(RoundResult)
	if !ok {
		t.Fatalf("payload = %T, want RoundResult", picked[0].Payload)
	}
	if result.WinnerIndex != 1 || result.Entrants != 3 || result.RoundNumber != 1 || result.RequestID != id {
		t.Errorf("round result = %+v", result)
	}
}

func TestResolveDraw_UnknownRequest(t *testing.T) {
	t.Run("nothing pending", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1)
		if err := f.resolve(1, 7); !errors.Is(err, ErrUnknownRequest) {
			t.Errorf("err = %v, want ErrUnknownRequest", err)
		}
	})

	t.Run("id mismatch", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1, p2)
		id := f.startDraw(t)

		if err := f.resolve(id+1, 7); !errors.Is(err, ErrUnknownRequest) {
			t.Errorf("err = %v, want ErrUnknownRequest", err)
		}
		if f.svc.State() != StateCalculating || f.svc.EntrantCount() != 2 || len(f.payer.Payments()) != 0 {
			t.Error("mismatched response changed the raffle")
		}
		f.checkPotInvariant(t)
	})

	t.Run("replay after payout", func(t *testing.T) {
		f := newFixture(t)
		f.enter(t, p1)
		id := f.startDraw(t)
		if err := f.resolve(id, 7); err != nil {
			t.Fatal(err)
		}
		if err := f.resolve(id, 7); !errors.Is(err, ErrUnknownRequest) {
			t.Errorf("replay err = %v, want ErrUnknownRequest", err)
		}
		if len(f.payer.Payments()) != 1 {
			t.Error("replay paid twice")
		}
	})
}

func TestResolveDraw_OnlyCoordinator(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)
	id := f.startDraw(t)

	err := f.svc.ResolveDraw(context.Background(), p1, id, uint256.NewInt(7))
	if !errors.Is(err, ErrOnlyCoordinator) {
		t.Fatalf("err = %v, want ErrOnlyCoordinator", err)
	}
	if err := f.svc.RawFulfillRandomWords(context.Background(), p1, id, []*uint256.Int{uint256.NewInt(1)}); !errors.Is(err, ErrOnlyCoordinator) {
		t.Errorf("raw fulfil err = %v, want ErrOnlyCoordinator", err)
	}
	if f.svc.State() != StateCalculating {
		t.Error("foreign caller resolved the draw")
	}
}

func TestRawFulfillRandomWords(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2)
	id := f.startDraw(t)
	ctx := context.Background()

	if err := f.svc.RawFulfillRandomWords(ctx, TestCoordinator, id, nil); !errors.Is(err, ErrNoRandomWords) {
		t.Fatalf("err = %v, want ErrNoRandomWords", err)
	}

	words := []*uint256.Int{uint256.NewInt(3), uint256.NewInt(0)}
	if err := f.svc.RawFulfillRandomWords(ctx, TestCoordinator, id, words); err != nil {
		t.Fatalf("RawFulfillRandomWords: %v", err)
	}
	if f.svc.RecentWinner() != p2 {
		t.Errorf("winner = %s, want %s (first word decides)", f.svc.RecentWinner().Hex(), p2.Hex())
	}
}

func TestResolveDraw_LargeRandomValue(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2, p3)
	id := f.startDraw(t)

	max := new(uint256.Int).SetAllOne()
	if err := f.svc.ResolveDraw(context.Background(), TestCoordinator, id, max); err != nil {
		t.Fatal(err)
	}
	// 2^256-1 is divisible by 3
	if f.svc.RecentWinner() != p1 {
		t.Errorf("winner = %s, want %s", f.svc.RecentWinner().Hex(), p1.Hex())
	}
}

func TestPayoutFailure_LocksWinnerAndRetries(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2, p1, p3)
	id := f.startDraw(t)
	refused := errors.New("recipient refused funds")
	f.payer.FailWith(refused)

	err := f.resolve(id, 5)
	var payoutErr *PayoutFailedError
	if !errors.As(err, &payoutErr) {
		t.Fatalf("err = %v, want *PayoutFailedError", err)
	}
	if !errors.Is(err, ErrPayoutFailed) || !errors.Is(err, refused) {
		t.Errorf("error chain = %v", err)
	}
	if payoutErr.Winner != p2 || !payoutErr.Amount.Eq(units.Whole(4)) {
		t.Errorf("payout error = %+v", payoutErr)
	}

	if f.svc.State() != StateCalculating || f.svc.EntrantCount() != 4 || !f.svc.PayoutPending() {
		t.Fatal("failed payout must keep the draw pending with the ledger intact")
	}
	f.checkPotInvariant(t)
	if failed := f.events.RecentByType(events.EventPayoutFailed, 1); len(failed) != 1 || failed[0].Severity != events.SeverityError {
		t.Errorf("payout failed event = %+v", failed)
	}

	// The winner is locked: a second response for the same id is refused.
	if err := f.resolve(id, 2); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("re-roll err = %v, want ErrUnknownRequest", err)
	}
	if err := f.svc.Enter(context.Background(), p3, units.Whole(1)); !errors.Is(err, ErrRoundNotOpen) {
		t.Errorf("enter during failed payout err = %v, want ErrRoundNotOpen", err)
	}

	if err := f.svc.RetryPayout(context.Background()); !errors.Is(err, ErrPayoutFailed) {
		t.Errorf("retry while still refusing err = %v", err)
	}

	f.payer.FailWith(nil)
	if err := f.svc.RetryPayout(context.Background()); err != nil {
		t.Fatalf("RetryPayout: %v", err)
	}
	if f.svc.RecentWinner() != p2 || f.svc.State() != StateOpen || f.svc.PayoutPending() {
		t.Error("successful retry did not finalize the round")
	}
	if f.payer.Attempts() != 3 || len(f.payer.Payments()) != 1 {
		t.Errorf("attempts = %d payments = %d", f.payer.Attempts(), len(f.payer.Payments()))
	}
}

func TestRetryPayout_NothingPending(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.RetryPayout(context.Background()); !errors.Is(err, ErrNoPayoutPending) {
		t.Errorf("err = %v, want ErrNoPayoutPending", err)
	}
	f.enter(t, p1)
	f.startDraw(t)
	if err := f.svc.RetryPayout(context.Background()); !errors.Is(err, ErrNoPayoutPending) {
		t.Errorf("err = %v, want ErrNoPayoutPending while awaiting randomness", err)
	}
}

func TestRequestIDsAreNeverReused(t *testing.T) {
	f := newFixture(t)
	seen := map[RequestID]bool{}
	for round := 0; round < 3; round++ {
		f.enter(t, p1)
		id := f.startDraw(t)
		if seen[id] {
			t.Fatalf("request id %d reused", id)
		}
		seen[id] = true
		if err := f.resolve(id, uint64(round)); err != nil {
			t.Fatal(err)
		}
	}
	if f.svc.RoundNumber() != 4 {
		t.Errorf("RoundNumber() = %d, want 4", f.svc.RoundNumber())
	}
}

func TestSubscribersMayQueryDuringNotification(t *testing.T) {
	f := newFixture(t)
	var states []State
	f.events.Subscribe(func(e events.Event) {
		states = append(states, f.svc.State())
	})

	f.enter(t, p1)
	id := f.startDraw(t)
	if err := f.resolve(id, 0); err != nil {
		t.Fatal(err)
	}

	want := []State{StateOpen, StateCalculating, StateOpen}
	if len(states) != len(want) {
		t.Fatalf("saw %d notifications, want %d", len(states), len(want))
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("notification %d saw %s, want %s", i, states[i], want[i])
		}
	}
}

func TestConcurrentEntries(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := common.BigToAddress(uint256.NewInt(uint64(i + 1)).ToBig())
			for j := 0; j < 10; j++ {
				_ = f.svc.Enter(context.Background(), p, units.Whole(1))
				_ = f.svc.IsDrawDue()
			}
		}(i)
	}
	wg.Wait()

	if f.svc.EntrantCount() != 200 {
		t.Errorf("EntrantCount() = %d, want 200", f.svc.EntrantCount())
	}
	f.checkPotInvariant(t)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)

	st := f.svc.Status()
	if st.State != StateOpen || st.Entrants != 1 || st.Pot != units.Whole(1).Dec() || st.DrawDue || st.BlockedBy != "interval not elapsed" {
		t.Errorf("open status = %+v", st)
	}

	id := f.startDraw(t)
	st = f.svc.Status()
	if st.State != StateCalculating || st.PendingRequest != id || st.PayoutPending {
		t.Errorf("calculating status = %+v", st)
	}
}

// Scenario: a single entrant always wins.
func TestScenario_SoleEntrant(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)
	id := f.startDraw(t)

	if err := f.resolve(id, 7); err != nil {
		t.Fatal(err)
	}
	if f.svc.RecentWinner() != p1 {
		t.Errorf("winner = %s, want %s", f.svc.RecentWinner().Hex(), p1.Hex())
	}
	if !f.svc.PotBalance().IsZero() {
		t.Errorf("pot = %s, want 0", f.svc.PotBalance().Dec())
	}
}

// Scenario: duplicate entries count as separate slots.
func TestScenario_DuplicateEntrant(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1, p2, p1, p3)
	id := f.startDraw(t)

	if err := f.resolve(id, 5); err != nil {
		t.Fatal(err)
	}
	if f.svc.RecentWinner() != p2 {
		t.Errorf("winner = %s, want %s (5 mod 4 = 1)", f.svc.RecentWinner().Hex(), p2.Hex())
	}
}

// Scenario: no entrants means no draw even after the interval.
func TestScenario_NoEntrants(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(2 * interval)

	if f.svc.IsDrawDue() {
		t.Error("IsDrawDue() = true with no entrants")
	}
	_, err := f.svc.StartDrawIfEligible(context.Background())
	var notEligible *DrawNotEligibleError
	if !errors.As(err, &notEligible) {
		t.Fatalf("err = %v, want *DrawNotEligibleError", err)
	}
	if notEligible.Entrants != 0 || !notEligible.Pot.IsZero() || notEligible.State != StateOpen {
		t.Errorf("error figures = %+v", notEligible)
	}
}

// Scenario: entries are refused while a draw is in flight.
func TestScenario_EntryDuringDraw(t *testing.T) {
	f := newFixture(t)
	f.enter(t, p1)
	f.startDraw(t)

	err := f.svc.Enter(context.Background(), p2, units.Whole(1))
	if !errors.Is(err, ErrRoundNotOpen) {
		t.Errorf("err = %v, want ErrRoundNotOpen", err)
	}
	if f.svc.EntrantCount() != 1 {
		t.Error("entry accepted during draw")
	}
}
