package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, creating the file and schema when
// missing.
func Open(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./habits.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

const userColumns = `id, tz_offset_min, morning_time, evening_time,
	morning_enabled, evening_enabled, last_morning_sent, last_evening_sent`

func (s *sqliteStore) EnsureUser(ctx context.Context, id int64) (User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return User{}, err
	}
	u, ok, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *sqliteStore) SetTimezone(ctx context.Context, id int64, offsetMinutes int) error {
	return s.exec(ctx, `UPDATE users SET tz_offset_min = ? WHERE id = ?`, offsetMinutes, id)
}

func (s *sqliteStore) SetReminder(ctx context.Context, id int64, ch ReminderChannel, enabled bool, at string) error {
	if ch == ReminderEvening {
		return s.exec(ctx,
			`UPDATE users SET evening_enabled = ?, evening_time = ? WHERE id = ?`,
			boolInt(enabled), at, id)
	}
	return s.exec(ctx,
		`UPDATE users SET morning_enabled = ?, morning_time = ? WHERE id = ?`,
		boolInt(enabled), at, id)
}

func (s *sqliteStore) ListRemindable(ctx context.Context, ch ReminderChannel) ([]User, error) {
	col := "morning_enabled"
	if ch == ReminderEvening {
		col = "evening_enabled"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+col+` = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetReminderSent(ctx context.Context, id int64, ch ReminderChannel, day habit.Date) error {
	col := "last_morning_sent"
	if ch == ReminderEvening {
		col = "last_evening_sent"
	}
	return s.exec(ctx, `UPDATE users SET `+col+` = ? WHERE id = ?`, day.String(), id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var (
		u        User
		tz       sql.NullInt64
		morning  int
		evening  int
		lastMorn sql.NullString
		lastEve  sql.NullString
	)
	err := r.Scan(&u.ID, &tz, &u.MorningTime, &u.EveningTime,
		&morning, &evening, &lastMorn, &lastEve)
	if err != nil {
		return User{}, err
	}
	u.OffsetMinutes = habit.DefaultOffsetMinutes
	if tz.Valid {
		u.OffsetMinutes = int(tz.Int64)
	}
	u.MorningEnabled = morning != 0
	u.EveningEnabled = evening != 0
	u.LastMorningSent = nullDate(lastMorn)
	u.LastEveningSent = nullDate(lastEve)
	return u, nil
}

// ---- habits ----

const habitColumns = `id, user_id, name, emoji, is_active, rule_kind, frequency_days, weekday_mask, created_at`

func (s *sqliteStore) CreateHabit(ctx context.Context, h Habit) error {
	kind, freq, mask := encodeRule(h.Rule)
	return s.exec(ctx,
		`INSERT INTO habits(`+habitColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		h.ID, h.UserID, h.Name, h.Emoji, boolInt(h.Active),
		kind, freq, mask, h.CreatedAt.String())
}

func (s *sqliteStore) GetHabit(ctx context.Context, id string) (Habit, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE id = ?`, id)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Habit{}, false, nil
	}
	if err != nil {
		return Habit{}, false, err
	}
	return h, true, nil
}

func (s *sqliteStore) ListActiveHabits(ctx context.Context, userID int64) ([]Habit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id = ? AND is_active = 1 ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetHabitActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `UPDATE habits SET is_active = ? WHERE id = ?`, boolInt(active), id)
}

func scanHabit(r rowScanner) (Habit, error) {
	var (
		h       Habit
		active  int
		kind    string
		freq    int
		mask    int
		created string
	)
	err := r.Scan(&h.ID, &h.UserID, &h.Name, &h.Emoji, &active, &kind, &freq, &mask, &created)
	if err != nil {
		return Habit{}, err
	}
	h.Active = active != 0
	h.Rule, err = decodeRule(kind, freq, mask)
	if err != nil {
		return Habit{}, err
	}
	h.CreatedAt, err = habit.ParseDate(created)
	if err != nil {
		return Habit{}, fmt.Errorf("habit %s: %w", h.ID, err)
	}
	return h, nil
}

func encodeRule(r habit.Rule) (kind string, freq, mask int) {
	return r.Kind().String(), r.FrequencyDays(), int(r.Weekdays())
}

func decodeRule(kind string, freq, mask int) (habit.Rule, error) {
	k, err := habit.ParseRuleKind(kind)
	if err != nil {
		return habit.Rule{}, err
	}
	switch k {
	case habit.KindDaily:
		return habit.Daily(), nil
	case habit.KindInterval:
		return habit.EveryNDays(freq), nil
	default:
		return habit.OnWeekdaySet(habit.WeekdaySet(mask)), nil
	}
}

// ---- completion log ----

func (s *sqliteStore) UpsertCompletion(ctx context.Context, habitID string, day habit.Date, completed bool) error {
	// One row per (habit, date); a second mark for the same date replaces
	// the first.
	return s.exec(ctx,
		`INSERT INTO completions(habit_id, date, completed) VALUES(?,?,?)
		 ON CONFLICT(habit_id, date) DO UPDATE SET completed = excluded.completed`,
		habitID, day.String(), boolInt(completed))
}

func (s *sqliteStore) GetCompletion(ctx context.Context, habitID string, day habit.Date) (bool, bool, error) {
	var c int
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM completions WHERE habit_id = ? AND date = ?`,
		habitID, day.String()).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return c != 0, true, nil
}

func (s *sqliteStore) ListCompletions(ctx context.Context, habitID string, from, to habit.Date) ([]Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, completed FROM completions
		 WHERE habit_id = ? AND date >= ? AND date <= ? ORDER BY date`,
		habitID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var (
			ds string
			c  int
		)
		if err := rows.Scan(&ds, &c); err != nil {
			return nil, err
		}
		d, err := habit.ParseDate(ds)
		if err != nil {
			return nil, err
		}
		out = append(out, Completion{HabitID: habitID, Date: d, Completed: c != 0})
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListCompletedDates(ctx context.Context, habitID string) ([]habit.Date, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date FROM completions WHERE habit_id = ? AND completed = 1 ORDER BY date`,
		habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []habit.Date
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			return nil, err
		}
		d, err := habit.ParseDate(ds)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FirstCompletion(ctx context.Context, habitID string) (habit.Date, bool, error) {
	return s.completionEdge(ctx, habitID, "MIN")
}

func (s *sqliteStore) LastCompletion(ctx context.Context, habitID string) (habit.Date, bool, error) {
	return s.completionEdge(ctx, habitID, "MAX")
}

func (s *sqliteStore) completionEdge(ctx context.Context, habitID, agg string) (habit.Date, bool, error) {
	var ds sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+agg+`(date) FROM completions WHERE habit_id = ? AND completed = 1`,
		habitID).Scan(&ds)
	if err != nil {
		return habit.Date{}, false, err
	}
	if !ds.Valid {
		return habit.Date{}, false, nil
	}
	d, err := habit.ParseDate(ds.String)
	if err != nil {
		return habit.Date{}, false, err
	}
	return d, true, nil
}

// ---- helpers ----

func (s *sqliteStore) exec(ctx context.Context, q string, args ...any) error {
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullDate(v sql.NullString) habit.Date {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return habit.Date{}
	}
	d, err := habit.ParseDate(v.String)
	if err != nil {
		return habit.Date{}
	}
	return d
}
