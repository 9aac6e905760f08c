// Package scheduler runs the poll-diff-notify loop: fetch the upcoming
// contest list, announce contests never seen before, remind registered
// participants whose contests are close to starting, then persist the
// announced set and sleep until the next tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"cfbot/internal/notify"
	"cfbot/internal/source"
	"cfbot/internal/store"
	logx "cfbot/pkg/logx"
)

// ContestSource is what the loop needs from the listing API client.
type ContestSource interface {
	FetchUpcoming(ctx context.Context) ([]source.Contest, error)
}

// KnownLedger is the durable announced-contest set.
type KnownLedger interface {
	Load() (map[int64]struct{}, error)
	Save(ids map[int64]struct{}) error
}

type Config struct {
	// Schedule is a schedule string (see ParseSchedule). Default "30m".
	Schedule string
}

type Service struct {
	spec ParsedSpec

	src    ContestSource
	store  store.Store
	ledger KnownLedger
	sink   notify.Sink
	log    logx.Logger

	now func() time.Time
}

func New(cfg Config, src ContestSource, st store.Store, led KnownLedger, sink notify.Sink, log logx.Logger) (*Service, error) {
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		spec:   spec,
		src:    src,
		store:  st,
		ledger: led,
		sink:   sink,
		log:    log.With(logx.String("comp", "scheduler")),
		now:    time.Now,
	}, nil
}

// Run executes cycles until ctx is done. The first cycle starts immediately.
// The sleep between cycles is the only place the loop blocks on time, and it
// is interruptible by shutdown.
func (s *Service) Run(ctx context.Context) error {
	known, err := s.ledger.Load()
	if err != nil {
		// Without the ledger every upcoming contest would be re-announced;
		// fail the run and let the supervisor retry with backoff.
		return fmt.Errorf("ledger load: %w", err)
	}
	s.log.Info("scheduler started", logx.Int("known_contests", len(known)))

	for {
		if err := s.runCycle(ctx, known); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The cycle is abandoned, never retried immediately; the next
			// tick repeats it wholesale.
			s.log.Error("cycle failed", logx.Err(err))
		}

		wait := s.spec.NextWait(s.now())
		s.log.Debug("sleeping", logx.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runCycle is one fetch-diff-notify-persist pass. Any returned error aborted
// the cycle; the durable ledger is only written after the full pass so a
// malformed fetch can never corrupt it.
func (s *Service) runCycle(ctx context.Context, known map[int64]struct{}) error {
	started := s.now()

	contests, err := s.src.FetchUpcoming(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	// Diff: announce contests the ledger has never seen, to every current
	// subscriber. The subscriber list is read fresh per contest so a mid-cycle
	// unsubscribe is honored by every fan-out started after it committed.
	var announced []int64
	for _, c := range contests {
		if _, seen := known[c.ID]; seen {
			continue
		}
		subs, err := s.store.Subscribers(ctx)
		if err != nil {
			return fmt.Errorf("subscriber read: %w", err)
		}
		ok, failed := s.fanout(ctx, subs, announceText(c), c, "announcement")
		s.log.Info("new contest announced",
			logx.Int64("contest_id", c.ID),
			logx.String("name", c.Name),
			logx.Time("starts", c.Start),
			logx.Int("delivered", ok),
			logx.Int("failed", failed),
		)
		announced = append(announced, c.ID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// Reminders: participants only, one bucket per contest per cycle. A
	// contest nobody registered for is skipped before any delivery work.
	reminders := 0
	for _, c := range contests {
		b := Classify(s.now(), c.Start)
		if b == BucketNone {
			continue
		}
		parts, err := s.store.Participants(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("participant read: %w", err)
		}
		if len(parts) == 0 {
			continue
		}
		ok, failed := s.fanout(ctx, parts, reminderText(b, c), c, "reminder")
		s.log.Info("reminder sent",
			logx.Int64("contest_id", c.ID),
			logx.String("bucket", b.String()),
			logx.Int("delivered", ok),
			logx.Int("failed", failed),
		)
		reminders++
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// Persist: the ledger mirrors the in-memory set only after every
	// delivery in the cycle has finished. On save failure the ids stay in
	// memory, so the process does not re-announce while alive and the next
	// cycle retries the write.
	for _, id := range announced {
		known[id] = struct{}{}
	}
	if err := s.ledger.Save(known); err != nil {
		return fmt.Errorf("ledger save: %w", err)
	}

	s.log.Info("cycle complete",
		logx.Int("contests", len(contests)),
		logx.Int("new", len(announced)),
		logx.Int("reminders", reminders),
		logx.Duration("took", s.now().Sub(started)),
	)
	return nil
}

// fanout delivers text to each recipient in turn. One recipient's failure is
// logged and never aborts the rest of the batch.
func (s *Service) fanout(ctx context.Context, recipients []int64, text string, c source.Contest, kind string) (delivered, failed int) {
	for _, uid := range recipients {
		if ctx.Err() != nil {
			return delivered, failed
		}
		if err := s.sink.Send(ctx, uid, text); err != nil {
			failed++
			s.log.Warn("delivery failed",
				logx.String("kind", kind),
				logx.Int64("recipient", uid),
				logx.Int64("contest_id", c.ID),
				logx.Err(err),
			)
			continue
		}
		delivered++
		s.log.Info("delivered",
			logx.String("kind", kind),
			logx.Int64("recipient", uid),
			logx.Int64("contest_id", c.ID),
		)
	}
	return delivered, failed
}
