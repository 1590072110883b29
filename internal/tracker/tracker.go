// Package tracker orchestrates habit reads/writes: creating habits, the
// daily due overview, completion toggles, and per-habit statistics. All
// date arithmetic lives in internal/habit; this package only glues it to
// storage.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

var (
	ErrHabitNotFound = errors.New("habit not found")
	ErrEmptyName     = errors.New("habit name is empty")
)

type Service struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// DayState is what a habit looks like on a particular local date.
type DayState int

const (
	StateRest DayState = iota // not scheduled
	StateDue                  // scheduled, not yet completed
	StateDone                 // completed (always shown as scheduled)
)

// HabitStatus pairs a habit with its state on one date.
type HabitStatus struct {
	Habit storage.Habit
	State DayState
}

// Create registers a new habit for the user. The creation date anchors
// interval rules until the first completion exists.
func (s *Service) Create(ctx context.Context, userID int64, name, emoji string, rule habit.Rule, today habit.Date) (storage.Habit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Habit{}, ErrEmptyName
	}
	h := storage.Habit{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Emoji:     strings.TrimSpace(emoji),
		Active:    true,
		Rule:      rule,
		CreatedAt: today,
	}
	if err := s.store.CreateHabit(ctx, h); err != nil {
		return storage.Habit{}, fmt.Errorf("create habit: %w", err)
	}
	s.log.Info("habit created",
		logx.Int64("user", userID),
		logx.String("habit", h.ID),
		logx.String("rule", rule.String()))
	return h, nil
}

// Archive soft-deletes a habit. The completion log is retained.
func (s *Service) Archive(ctx context.Context, habitID string) error {
	return s.store.SetHabitActive(ctx, habitID, false)
}

// Toggle flips the completion mark for a habit on the given date and
// returns the new value. Marking the same date twice returns to the
// original state; the log keeps exactly one entry per date.
func (s *Service) Toggle(ctx context.Context, habitID string, day habit.Date) (bool, error) {
	completed, _, err := s.store.GetCompletion(ctx, habitID, day)
	if err != nil {
		return false, fmt.Errorf("read completion: %w", err)
	}
	next := !completed
	if err := s.store.UpsertCompletion(ctx, habitID, day, next); err != nil {
		return false, fmt.Errorf("write completion: %w", err)
	}
	return next, nil
}

// Overview reports every active habit's state for the given local date.
// A habit completed today is reported as done even when its rule would
// not have scheduled it; off-schedule completions never render as rest.
func (s *Service) Overview(ctx context.Context, userID int64, today habit.Date) ([]HabitStatus, error) {
	habits, err := s.store.ListActiveHabits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	out := make([]HabitStatus, 0, len(habits))
	for _, h := range habits {
		st, err := s.dayState(ctx, h, today)
		if err != nil {
			return nil, err
		}
		out = append(out, HabitStatus{Habit: h, State: st})
	}
	return out, nil
}

func (s *Service) dayState(ctx context.Context, h storage.Habit, today habit.Date) (DayState, error) {
	completed, _, err := s.store.GetCompletion(ctx, h.ID, today)
	if err != nil {
		return StateRest, fmt.Errorf("habit %s: %w", h.ID, err)
	}
	if completed {
		return StateDone, nil
	}
	last, _, err := s.store.LastCompletion(ctx, h.ID)
	if err != nil {
		return StateRest, fmt.Errorf("habit %s: %w", h.ID, err)
	}
	if habit.DueToday(h.Rule, h.CreatedAt, last, today) {
		return StateDue, nil
	}
	return StateRest, nil
}

// Stats computes the aggregate statistics for one habit as of today.
func (s *Service) Stats(ctx context.Context, habitID string, today habit.Date) (habit.Stats, error) {
	completed, err := s.store.ListCompletedDates(ctx, habitID)
	if err != nil {
		return habit.Stats{}, fmt.Errorf("list completions: %w", err)
	}
	h, ok, err := s.store.GetHabit(ctx, habitID)
	if err != nil {
		return habit.Stats{}, err
	}
	if !ok {
		return habit.Stats{}, ErrHabitNotFound
	}
	return habit.ComputeStats(completed, today, h.Rule.FrequencyDays()), nil
}

// DayCell is one square of a history grid.
type DayCell struct {
	Date  habit.Date
	State DayState
}

// History renders a replayable calendar strip for one habit. Unlike
// Overview it anchors interval rules on the first-ever completion (falling
// back to the creation date), so rows never shift retroactively when the
// user completes late. Completed days always show done.
func (s *Service) History(ctx context.Context, habitID string, from, to habit.Date) ([]DayCell, error) {
	h, ok, err := s.store.GetHabit(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHabitNotFound
	}

	reference, ok, err := s.store.FirstCompletion(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		reference = h.CreatedAt
	}

	done := map[string]bool{}
	completions, err := s.store.ListCompletions(ctx, habitID, from, to)
	if err != nil {
		return nil, err
	}
	for _, c := range completions {
		if c.Completed {
			done[c.Date.String()] = true
		}
	}

	var cells []DayCell
	for d := from; !d.After(to); d = d.AddDays(1) {
		st := StateRest
		switch {
		case done[d.String()]:
			st = StateDone
		case habit.DueOnDate(h.Rule, h.CreatedAt, reference, d):
			st = StateDue
		}
		cells = append(cells, DayCell{Date: d, State: st})
	}
	return cells, nil
}
