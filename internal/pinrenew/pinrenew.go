// Package pinrenew keeps pinned documents from aging out.
//
// Pinned messages become hard to find once they are old, so the directory
// and the correlation log of every bot are re-sent and re-pinned when they
// pass MaxAge. Stores that do not implement store.Renewer are skipped.
package pinrenew

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/directory"
	"github.com/pmrelay/pmrelay/internal/store"
)

// DefaultMaxAge is the age after which a document is rewritten.
const DefaultMaxAge = 6 * 24 * time.Hour

var renewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmrelay_pin_renewals_total",
	Help: "Document renewal checks by result.",
}, []string{"kind", "result"})

// Bot is one relay whose documents are renewed.
type Bot struct {
	ID       int64
	OwnerUID int64
	Docs     store.Documents
}

// Outcome is the result of one document check.
type Outcome struct {
	Key     store.Key
	Renewed bool
	Err     error
}

// RenewBot renews the bot's directory, then the correlation log of the group
// the directory names. Missing documents are not errors.
func RenewBot(ctx context.Context, b Bot, maxAge time.Duration, log zerolog.Logger) []Outcome {
	r, ok := b.Docs.(store.Renewer)
	if !ok {
		return nil
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	dirKey := store.DirectoryKey(b.ID, b.OwnerUID)
	out := []Outcome{renewOne(ctx, r, dirKey, maxAge, log)}

	blob, err := b.Docs.Load(ctx, dirKey)
	if errors.Is(err, store.ErrNotFound) {
		return out
	}
	if err != nil {
		return append(out, Outcome{Key: dirKey, Err: fmt.Errorf("load directory: %w", err)})
	}
	dir, err := directory.Parse(blob.Text)
	if err != nil {
		return append(out, Outcome{Key: dirKey, Err: err})
	}
	return append(out, renewOne(ctx, r, store.CorrelationKey(b.ID, dir.SuperGroupID), maxAge, log))
}

func renewOne(ctx context.Context, r store.Renewer, key store.Key, maxAge time.Duration, log zerolog.Logger) Outcome {
	renewed, err := r.Renew(ctx, key, maxAge)
	l := log.With().Str("key", key.String()).Logger()
	switch {
	case errors.Is(err, store.ErrNotFound):
		renewalsTotal.WithLabelValues(string(key.Kind), "missing").Inc()
		l.Debug().Msg("Nothing to renew")
		return Outcome{Key: key}
	case err != nil:
		renewalsTotal.WithLabelValues(string(key.Kind), "error").Inc()
		l.Error().Err(err).Msg("Document renewal failed")
		return Outcome{Key: key, Err: err}
	case renewed:
		renewalsTotal.WithLabelValues(string(key.Kind), "renewed").Inc()
		l.Info().Msg("Document renewed")
	default:
		renewalsTotal.WithLabelValues(string(key.Kind), "fresh").Inc()
	}
	return Outcome{Key: key, Renewed: renewed}
}

// BotSource lists the bots to renew on each run.
type BotSource func(ctx context.Context) ([]Bot, error)

// Worker runs RenewBot for every bot on a cron schedule.
type Worker struct {
	cron    string
	maxAge  time.Duration
	bots    BotSource
	log     zerolog.Logger
	now     func() time.Time
	running atomic.Bool
}

// NewWorker validates the cron expression.
func NewWorker(cron string, maxAge time.Duration, bots BotSource, log zerolog.Logger) (*Worker, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid pin renewal cron %q", cron)
	}
	return &Worker{cron: cron, maxAge: maxAge, bots: bots, log: log, now: time.Now}, nil
}

// Start runs the schedule until ctx ends.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Str("cron", w.cron).Dur("max_age", w.maxAge).Msg("Pin renewal scheduled")
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(w.cron, w.now(), false)
		if err != nil {
			w.log.Error().Err(err).Str("cron", w.cron).Msg("Next pin renewal tick failed")
			next = w.now().Add(time.Hour)
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce renews every bot now. A run that overlaps a previous one is skipped.
func (w *Worker) RunOnce(ctx context.Context) []Outcome {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Warn().Msg("Pin renewal already running")
		return nil
	}
	defer w.running.Store(false)

	bots, err := w.bots(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("List bots for pin renewal failed")
		return nil
	}
	var out []Outcome
	renewed := 0
	for _, b := range bots {
		for _, o := range RenewBot(ctx, b, w.maxAge, w.log.With().Int64("bot_id", b.ID).Logger()) {
			if o.Renewed {
				renewed++
			}
			out = append(out, o)
		}
	}
	w.log.Info().Int("bots", len(bots)).Int("checked", len(out)).Int("renewed", renewed).Msg("Pin renewal run finished")
	return out
}
