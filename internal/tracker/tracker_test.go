package tracker

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

// memStore is an in-memory storage.Store for tracker tests.
type memStore struct {
	mu          sync.Mutex
	users       map[int64]*storage.User
	habits      map[string]storage.Habit
	completions map[string]map[string]bool // habitID -> date -> completed
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[int64]*storage.User{},
		habits:      map[string]storage.Habit{},
		completions: map[string]map[string]bool{},
	}
}

func (m *memStore) EnsureUser(_ context.Context, id int64) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &storage.User{ID: id, OffsetMinutes: habit.DefaultOffsetMinutes}
		m.users[id] = u
	}
	return *u, nil
}

func (m *memStore) GetUser(_ context.Context, id int64) (storage.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, false, nil
	}
	return *u, true, nil
}

func (m *memStore) SetTimezone(_ context.Context, id int64, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].OffsetMinutes = offset
	return nil
}

func (m *memStore) SetReminder(_ context.Context, id int64, ch storage.ReminderChannel, enabled bool, at string) error {
	return nil
}

func (m *memStore) ListRemindable(_ context.Context, ch storage.ReminderChannel) ([]storage.User, error) {
	return nil, nil
}

func (m *memStore) SetReminderSent(_ context.Context, id int64, ch storage.ReminderChannel, day habit.Date) error {
	return nil
}

func (m *memStore) CreateHabit(_ context.Context, h storage.Habit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.habits[h.ID] = h
	return nil
}

func (m *memStore) GetHabit(_ context.Context, id string) (storage.Habit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.habits[id]
	return h, ok, nil
}

func (m *memStore) ListActiveHabits(_ context.Context, userID int64) ([]storage.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Habit
	for _, h := range m.habits {
		if h.UserID == userID && h.Active {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetHabitActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.habits[id]
	h.Active = active
	m.habits[id] = h
	return nil
}

func (m *memStore) UpsertCompletion(_ context.Context, habitID string, day habit.Date, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completions[habitID] == nil {
		m.completions[habitID] = map[string]bool{}
	}
	m.completions[habitID][day.String()] = completed
	return nil
}

func (m *memStore) GetCompletion(_ context.Context, habitID string, day habit.Date) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.completions[habitID][day.String()]
	return c, ok, nil
}

func (m *memStore) ListCompletions(_ context.Context, habitID string, from, to habit.Date) ([]storage.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Completion
	for ds, c := range m.completions[habitID] {
		d := habit.MustDate(ds)
		if !d.Before(from) && !d.After(to) {
			out = append(out, storage.Completion{HabitID: habitID, Date: d, Completed: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memStore) ListCompletedDates(_ context.Context, habitID string) ([]habit.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []habit.Date
	for ds, c := range m.completions[habitID] {
		if c {
			out = append(out, habit.MustDate(ds))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memStore) FirstCompletion(ctx context.Context, habitID string) (habit.Date, bool, error) {
	dates, _ := m.ListCompletedDates(ctx, habitID)
	if len(dates) == 0 {
		return habit.Date{}, false, nil
	}
	return dates[0], true, nil
}

func (m *memStore) LastCompletion(ctx context.Context, habitID string) (habit.Date, bool, error) {
	dates, _ := m.ListCompletedDates(ctx, habitID)
	if len(dates) == 0 {
		return habit.Date{}, false, nil
	}
	return dates[len(dates)-1], true, nil
}

func (m *memStore) Close() error { return nil }

// logEntries counts rows in the completion log regardless of value.
func (m *memStore) logEntries(habitID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completions[habitID])
}

func addHabit(t *testing.T, st *memStore, id string, rule habit.Rule, created string) storage.Habit {
	t.Helper()
	h := storage.Habit{
		ID: id, UserID: 1, Name: "Read", Active: true,
		Rule: rule, CreatedAt: habit.MustDate(created),
	}
	if err := st.CreateHabit(context.Background(), h); err != nil {
		t.Fatalf("CreateHabit: %v", err)
	}
	return h
}

func TestToggleTwiceReturnsToOriginalState(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())
	ctx := context.Background()
	addHabit(t, st, "h1", habit.Daily(), "2024-06-01")
	day := habit.MustDate("2024-06-03")

	first, err := s.Toggle(ctx, "h1", day)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !first {
		t.Fatal("first toggle on an unmarked day should mark it")
	}

	second, err := s.Toggle(ctx, "h1", day)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if second {
		t.Fatal("second toggle should return to the original unmarked state")
	}

	if got, _, _ := st.GetCompletion(ctx, "h1", day); got {
		t.Fatal("completion still marked after double toggle")
	}
	if n := st.logEntries("h1"); n != 1 {
		t.Fatalf("log entries = %d, want exactly 1 per date", n)
	}

	// A third toggle marks again; the log still holds one row.
	third, err := s.Toggle(ctx, "h1", day)
	if err != nil {
		t.Fatalf("third toggle: %v", err)
	}
	if !third || st.logEntries("h1") != 1 {
		t.Fatalf("third toggle = %v, entries = %d", third, st.logEntries("h1"))
	}
}

func TestStatsAgainstKnownLog(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())
	ctx := context.Background()
	addHabit(t, st, "h1", habit.Daily(), "2024-06-01")

	for _, ds := range []string{"2024-06-03", "2024-06-04", "2024-06-05"} {
		if _, err := s.Toggle(ctx, "h1", habit.MustDate(ds)); err != nil {
			t.Fatalf("Toggle %s: %v", ds, err)
		}
	}
	// An unmarked row must not count as completed.
	if _, err := s.Toggle(ctx, "h1", habit.MustDate("2024-06-02")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Toggle(ctx, "h1", habit.MustDate("2024-06-02")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Stats(ctx, "h1", habit.MustDate("2024-06-05"))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := habit.Stats{CurrentStreak: 3, MaxStreak: 3, CompletionRate: 10, TotalCompleted: 3}
	if got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}
}

func TestStatsUnknownHabit(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())

	_, err := s.Stats(context.Background(), "nope", habit.MustDate("2024-06-05"))
	if err != ErrHabitNotFound {
		t.Fatalf("err = %v, want ErrHabitNotFound", err)
	}
}

func TestHistoryAnchorsOnCreationWithoutCompletions(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())
	ctx := context.Background()
	addHabit(t, st, "h1", habit.EveryNDays(3), "2024-06-01")

	cells, err := s.History(ctx, "h1", habit.MustDate("2024-06-01"), habit.MustDate("2024-06-07"))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	wantDue := map[string]bool{"2024-06-01": true, "2024-06-04": true, "2024-06-07": true}
	for _, c := range cells {
		want := StateRest
		if wantDue[c.Date.String()] {
			want = StateDue
		}
		if c.State != want {
			t.Errorf("%s: state = %v, want %v", c.Date, c.State, want)
		}
	}
}

func TestHistoryAnchorsOnFirstCompletion(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())
	ctx := context.Background()
	addHabit(t, st, "h1", habit.EveryNDays(3), "2024-06-01")

	// First completion on the 2nd re-anchors the interval grid to 2, 5, 8...
	if _, err := s.Toggle(ctx, "h1", habit.MustDate("2024-06-02")); err != nil {
		t.Fatal(err)
	}

	cells, err := s.History(ctx, "h1", habit.MustDate("2024-06-01"), habit.MustDate("2024-06-07"))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := map[string]DayState{
		"2024-06-02": StateDone,
		"2024-06-05": StateDue,
	}
	for _, c := range cells {
		w, ok := want[c.Date.String()]
		if !ok {
			w = StateRest
		}
		if c.State != w {
			t.Errorf("%s: state = %v, want %v", c.Date, c.State, w)
		}
	}
}

func TestOverviewCompletedAlwaysShowsDone(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())
	ctx := context.Background()

	// Mondays-only habit, completed on a Saturday: done, never rest.
	rule, err := habit.OnWeekdays(1)
	if err != nil {
		t.Fatal(err)
	}
	addHabit(t, st, "h1", rule, "2024-01-01")
	saturday := habit.MustDate("2024-06-01")
	if _, err := s.Toggle(ctx, "h1", saturday); err != nil {
		t.Fatal(err)
	}

	overview, err := s.Overview(ctx, 1, saturday)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(overview) != 1 || overview[0].State != StateDone {
		t.Fatalf("overview = %+v, want single done entry", overview)
	}
}

func TestArchiveHidesHabitButKeepsLog(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := New(st, logx.Nop())
	ctx := context.Background()
	addHabit(t, st, "h1", habit.Daily(), "2024-06-01")
	if _, err := s.Toggle(ctx, "h1", habit.MustDate("2024-06-02")); err != nil {
		t.Fatal(err)
	}

	if err := s.Archive(ctx, "h1"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	habits, _ := st.ListActiveHabits(ctx, 1)
	if len(habits) != 0 {
		t.Fatalf("archived habit still listed: %+v", habits)
	}
	dates, _ := st.ListCompletedDates(ctx, "h1")
	if len(dates) != 1 {
		t.Fatal("completion log must survive archiving")
	}
}
