// Package keeper drives the raffle on a cron schedule: it starts a draw when
// one is due and retries a payout that failed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/services/raffle"
)

// DefaultSchedule runs the keeper every five seconds.
const DefaultSchedule = "@every 5s"

// Outcome is the result of one upkeep run.
type Outcome string

const (
	OutcomeIdle          Outcome = "idle"
	OutcomeDrawRequested Outcome = "draw_requested"
	OutcomePayoutRetried Outcome = "payout_retried"
	OutcomeBackoff       Outcome = "backoff"
	OutcomeRaced         Outcome = "raced"
	OutcomeFailed        Outcome = "failed"
)

// Target is the upkeep surface of the raffle.
type Target interface {
	CheckUpkeep(ctx context.Context) bool
	PerformUpkeep(ctx context.Context) (raffle.RequestID, error)
	PayoutPending() bool
	RetryPayout(ctx context.Context) error
}

// Config configures a Keeper.
type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 5s".
	Schedule string
	// RetryBackoff is the wait after the first failed payout retry; it
	// doubles per failure up to RetryMaxBackoff. Zero retries every run.
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

// Report describes one upkeep run.
type Report struct {
	Outcome   Outcome
	RequestID raffle.RequestID
	Err       error
	At        time.Time
	Duration  time.Duration
}

// Keeper polls a Target on a schedule.
type Keeper struct {
	mu       sync.Mutex
	schedule string
	target   Target
	log      *logger.Logger
	events   raffle.EventLog
	now      func() time.Time

	retry   backoff
	cron    *cron.Cron
	running bool
	last    Report
	runs    int
}

// New validates the schedule and creates a stopped keeper.
func New(cfg Config, target Target, log *logger.Logger, eventLog raffle.EventLog) (*Keeper, error) {
	if target == nil {
		return nil, fmt.Errorf("keeper target required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse keeper schedule %q: %w", cfg.Schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	if eventLog == nil {
		eventLog = events.Discard{}
	}
	return &Keeper{
		schedule: cfg.Schedule,
		target:   target,
		log:      log,
		events:   eventLog,
		now:      time.Now,
		retry:    newBackoff(cfg.RetryBackoff, cfg.RetryMaxBackoff),
	}, nil
}

// RunOnce performs a single upkeep. A locked-in winner whose payout failed is
// retried before any new draw is considered.
func (k *Keeper) RunOnce(ctx context.Context) Report {
	started := time.Now()
	report := Report{At: k.now()}

	pending := k.target.PayoutPending()
	if !pending {
		k.mu.Lock()
		k.retry.reset()
		k.mu.Unlock()
	}

	switch {
	case pending:
		k.retryPayout(ctx, &report)
	case !k.target.CheckUpkeep(ctx):
		report.Outcome = OutcomeIdle
	default:
		id, err := k.target.PerformUpkeep(ctx)
		report.RequestID = id
		switch {
		case err == nil:
			report.Outcome = OutcomeDrawRequested
		case errors.Is(err, raffle.ErrDrawNotEligible):
			// another caller started the draw between check and perform
			report.Outcome = OutcomeRaced
		default:
			report.Outcome = OutcomeFailed
			report.Err = err
		}
	}
	report.Duration = time.Since(started)

	k.mu.Lock()
	k.last = report
	k.runs++
	k.mu.Unlock()

	metrics.RecordUpkeep(string(report.Outcome), report.Duration)
	k.publish(report)
	return report
}

func (k *Keeper) retryPayout(ctx context.Context, report *Report) {
	k.mu.Lock()
	ready := k.retry.ready(report.At)
	k.mu.Unlock()
	if !ready {
		report.Outcome = OutcomeBackoff
		return
	}

	report.Err = k.target.RetryPayout(ctx)

	k.mu.Lock()
	defer k.mu.Unlock()
	if report.Err != nil {
		report.Outcome = OutcomeFailed
		wait := k.retry.failed(report.At)
		k.log.WithField("attempt", k.retry.attempts).WithField("next_retry_in", wait).Debug("payout retry scheduled")
		return
	}
	report.Outcome = OutcomePayoutRetried
	k.retry.reset()
}

func (k *Keeper) publish(r Report) {
	entry := k.log.WithField("outcome", string(r.Outcome))
	switch r.Outcome {
	case OutcomeIdle, OutcomeBackoff:
		entry.Debug("upkeep not needed")
		return
	case OutcomeFailed:
		entry.WithError(r.Err).Warn("upkeep failed")
	default:
		entry.WithField("request_id", r.RequestID).Info("upkeep performed")
	}

	b := events.NewEvent(events.EventUpkeepPerformed).
		Component("keeper").
		RequestID(r.RequestID).
		At(r.At).
		Metadata("outcome", string(r.Outcome)).
		Metadata("duration", r.Duration.String()).
		ErrorFrom(r.Err)
	k.events.Log(b.Build())
}

// Start schedules RunOnce. Runs never overlap.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return fmt.Errorf("keeper already running")
	}

	cl := cronLogger{log: k.log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(k.schedule, func() { k.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule upkeep: %w", err)
	}
	c.Start()

	k.cron = c
	k.running = true
	k.log.WithField("schedule", k.schedule).Info("keeper started")
	return nil
}

// Stop halts the schedule and waits for a run in progress.
func (k *Keeper) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	c := k.cron
	k.running = false
	k.cron = nil
	k.mu.Unlock()

	<-c.Stop().Done()
	k.log.Info("keeper stopped")
}

// IsRunning reports whether the schedule is active.
func (k *Keeper) IsRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// LastReport returns the most recent run and the number of runs so far.
func (k *Keeper) LastReport() (Report, int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last, k.runs
}

// cronLogger routes cron's own logging through logrus.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
