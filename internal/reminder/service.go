// Package reminder implements the once-per-minute reminder sweep.
//
// Delivery semantics per (user, channel, local day):
//   - at-least-once: a send fires on the first tick at or after the
//     configured local time, even if earlier ticks were missed (process
//     down, coarse tick). The per-day watermark is only written after a
//     successful send, so a failed or interrupted delivery retries on the
//     next tick until local midnight rolls the day over.
//   - at-most-once: the watermark is a local-date equality check, so once
//     written no further tick can resend that day.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	"github.com/ChieperR/tg-habit-tracker/internal/tracker"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

// Delivery hands a rendered reminder to the chat transport. Failures are
// reported, not retried here; the next tick retries via the unset
// watermark.
type Delivery interface {
	Send(ctx context.Context, userID int64, ch storage.ReminderChannel, text string) error
}

type Config struct {
	Enabled bool
	// TickSpec is a cron expression for the sweep tick. Defaults to every
	// minute, which is also the granularity the dedup logic assumes.
	TickSpec string
}

const defaultTickSpec = "* * * * *"

type Service struct {
	store    storage.Store
	trk      *tracker.Service
	delivery Delivery
	log      logx.Logger
	cfg      Config

	// mu serializes sweep passes. The watermark read-then-write per user
	// is not safe under concurrent sweeps against the same user row.
	mu sync.Mutex

	cmu sync.Mutex
	c   *cron.Cron
}

func New(cfg Config, store storage.Store, trk *tracker.Service, delivery Delivery, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TickSpec == "" {
		cfg.TickSpec = defaultTickSpec
	}
	return &Service{cfg: cfg, store: store, trk: trk, delivery: delivery, log: log}
}

// Start registers the minute tick. Overlapping invocations are skipped,
// never run concurrently (SkipIfStillRunning on top of the sweep mutex).
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("reminders disabled")
		return nil
	}

	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	_, err := c.AddFunc(s.cfg.TickSpec, func() {
		now := time.Now()
		s.RunTick(ctx, now, storage.ReminderMorning)
		s.RunTick(ctx, now, storage.ReminderEvening)
	})
	if err != nil {
		return fmt.Errorf("reminder tick spec %q: %w", s.cfg.TickSpec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("sweep started", logx.String("tick", s.cfg.TickSpec))
	return nil
}

// Stop halts the tick and waits for an in-flight sweep to finish.
func (s *Service) Stop(ctx context.Context) {
	s.cmu.Lock()
	c := s.c
	s.c = nil
	s.cmu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort; an abandoned delivery leaves its watermark unset,
		// so it resends after restart.
	}
	s.log.Info("sweep stopped")
}

// RunTick evaluates one channel for every enabled user. Users are
// independent: a storage or delivery failure aborts only that user's
// iteration.
func (s *Service) RunTick(ctx context.Context, now time.Time, ch storage.ReminderChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.store.ListRemindable(ctx, ch)
	if err != nil {
		s.log.Error("sweep aborted: list users", logx.String("channel", string(ch)), logx.Err(err))
		return
	}

	for _, u := range users {
		if ctx.Err() != nil {
			return
		}
		if err := s.processUser(ctx, u, ch, now); err != nil {
			s.log.Warn("reminder not delivered",
				logx.Int64("user", u.ID),
				logx.String("channel", string(ch)),
				logx.Err(err))
		}
	}
}

func (s *Service) processUser(ctx context.Context, u storage.User, ch storage.ReminderChannel, now time.Time) error {
	today := habit.LocalDate(now, u.OffsetMinutes)

	// Already sent this local day. Sole dedup mechanism: date equality,
	// robust to irregular tick intervals.
	if u.Watermark(ch).Equal(today) {
		return nil
	}

	target, err := habit.ParseClock(u.ReminderTime(ch))
	if err != nil {
		// Bad stored time; validated on entry, so this is stale data.
		return fmt.Errorf("stored reminder time: %w", err)
	}
	if habit.LocalMinutes(now, u.OffsetMinutes) < target {
		return nil
	}

	overview, err := s.trk.Overview(ctx, u.ID, today)
	if err != nil {
		return err
	}

	text, ok := renderPayload(ch, overview)
	if !ok {
		// Nothing due: skip delivery but still stamp the day so the
		// sweep stops re-evaluating this user until tomorrow.
		return s.store.SetReminderSent(ctx, u.ID, ch, today)
	}

	if err := s.delivery.Send(ctx, u.ID, ch, text); err != nil {
		// Watermark stays unset: next tick retries (catch-up property).
		return err
	}
	if err := s.store.SetReminderSent(ctx, u.ID, ch, today); err != nil {
		// Delivery happened but the watermark write failed; the next
		// tick may resend. At-least-once wins over at-most-once here.
		return fmt.Errorf("watermark write after send: %w", err)
	}

	s.log.Debug("reminder sent",
		logx.Int64("user", u.ID),
		logx.String("channel", string(ch)),
		logx.String("day", today.String()))
	return nil
}

// cronLogger adapts logx to the cron.Logger interface used by the
// skip-if-running chain.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
