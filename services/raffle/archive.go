package raffle

import (
	"context"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Subscriber is the subscription side of the notification log.
type Subscriber interface {
	SubscribeFiltered(filter events.EventFilter, handler events.EventHandler) func()
}

// Archiver records every paid-out round in an archive.
type Archiver struct {
	archive storage.Archive
	log     *logger.Logger
	timeout time.Duration
}

// NewArchiver creates an Archiver writing to archive.
func NewArchiver(archive storage.Archive, log *logger.Logger) *Archiver {
	if log == nil {
		log = logger.NewDefault("archive")
	}
	return &Archiver{archive: archive, log: log, timeout: 5 * time.Second}
}

// Attach subscribes to winner-picked notifications and returns the
// unsubscribe function.
func (a *Archiver) Attach(sub Subscriber) func() {
	return sub.SubscribeFiltered(func(e events.Event) bool {
		return e.Type == events.EventWinnerPicked
	}, a.handle)
}

func (a *Archiver) handle(e events.Event) {
	result, ok := e.Payload.(RoundResult)
	if !ok {
		a.log.WithField("event_id", e.ID).Warn("winner notification without round result")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.Record(ctx, result); err != nil {
		a.log.WithError(err).WithField("round", result.RoundNumber).Error("archive round")
	}
}

// Record saves one round result.
func (a *Archiver) Record(ctx context.Context, result RoundResult) error {
	return a.archive.SaveRound(ctx, RecordFromResult(result))
}

// RecordFromResult converts a round result to its archive form.
func RecordFromResult(r RoundResult) storage.RoundRecord {
	return storage.RoundRecord{
		RoundID:     r.RoundID,
		Number:      r.RoundNumber,
		Winner:      r.Winner,
		WinnerIndex: r.WinnerIndex,
		Pot:         r.Pot,
		Entrants:    r.Entrants,
		RequestID:   r.RequestID,
		RandomValue: r.RandomValue,
		StartedAt:   r.StartedAt,
		DrawnAt:     r.DrawnAt,
	}
}
