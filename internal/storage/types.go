package storage

import (
	"errors"
	"time"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
)

var ErrNotFound = errors.New("not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ReminderChannel names one of the two daily reminder slots.
type ReminderChannel string

const (
	ReminderMorning ReminderChannel = "morning"
	ReminderEvening ReminderChannel = "evening"
)

// User is a bot user keyed by their Telegram chat id.
//
// OffsetMinutes is the fixed UTC offset; users who never set one get
// habit.DefaultOffsetMinutes at scan time, so callers can use the field
// directly.
type User struct {
	ID            int64
	OffsetMinutes int

	MorningTime    string // "HH:MM" local
	EveningTime    string
	MorningEnabled bool
	EveningEnabled bool

	// Watermarks: the last local date each channel was delivered.
	// Zero Date means never sent. Owned by the reminder sweep; nothing
	// else writes these.
	LastMorningSent habit.Date
	LastEveningSent habit.Date
}

// Watermark returns the dedup watermark for a channel.
func (u User) Watermark(ch ReminderChannel) habit.Date {
	if ch == ReminderEvening {
		return u.LastEveningSent
	}
	return u.LastMorningSent
}

// ReminderTime returns the configured "HH:MM" for a channel.
func (u User) ReminderTime(ch ReminderChannel) string {
	if ch == ReminderEvening {
		return u.EveningTime
	}
	return u.MorningTime
}

// Habit is a tracked habit owned by exactly one user. Soft-deleted habits
// keep Active=false and retain their completion log.
type Habit struct {
	ID        string // uuid
	UserID    int64
	Name      string
	Emoji     string
	Active    bool
	Rule      habit.Rule
	CreatedAt habit.Date
}

// Completion is one entry of the sparse completion log. Absence of an entry
// means "not recorded", which is distinct from Completed=false.
type Completion struct {
	HabitID   string
	Date      habit.Date
	Completed bool
}
