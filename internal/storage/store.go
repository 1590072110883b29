package storage

import (
	"context"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
)

// Store is the persistence API consumed by the tracker and the reminder
// sweep. All dates are local calendar dates.
type Store interface {
	// Users.
	EnsureUser(ctx context.Context, id int64) (User, error)
	GetUser(ctx context.Context, id int64) (User, bool, error)
	SetTimezone(ctx context.Context, id int64, offsetMinutes int) error
	SetReminder(ctx context.Context, id int64, ch ReminderChannel, enabled bool, at string) error
	// ListRemindable returns users with the given channel enabled.
	// Iteration order is unspecified.
	ListRemindable(ctx context.Context, ch ReminderChannel) ([]User, error)
	// SetReminderSent records the watermark: the local date the channel
	// was last delivered for this user.
	SetReminderSent(ctx context.Context, id int64, ch ReminderChannel, day habit.Date) error

	// Habits.
	CreateHabit(ctx context.Context, h Habit) error
	GetHabit(ctx context.Context, id string) (Habit, bool, error)
	ListActiveHabits(ctx context.Context, userID int64) ([]Habit, error)
	SetHabitActive(ctx context.Context, id string, active bool) error

	// Completion log.
	UpsertCompletion(ctx context.Context, habitID string, day habit.Date, completed bool) error
	GetCompletion(ctx context.Context, habitID string, day habit.Date) (completed, ok bool, err error)
	ListCompletions(ctx context.Context, habitID string, from, to habit.Date) ([]Completion, error)
	// ListCompletedDates returns every date with a completed=true entry,
	// ascending.
	ListCompletedDates(ctx context.Context, habitID string) ([]habit.Date, error)
	FirstCompletion(ctx context.Context, habitID string) (habit.Date, bool, error)
	LastCompletion(ctx context.Context, habitID string) (habit.Date, bool, error)

	Close() error
}
