package router

import (
	"context"
	"strings"
	"testing"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	"github.com/ChieperR/tg-habit-tracker/internal/tracker"
	kit "github.com/ChieperR/tg-habit-tracker/internal/transport"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		wantRule string
		wantName string
		wantErr  bool
	}{
		{"daily suffix", []string{"Read", "a", "book", "daily"}, "every day", "Read a book", false},
		{"default is daily", []string{"Meditate"}, "every day", "Meditate", false},
		{"every n", []string{"Water", "plants", "every", "3"}, "every 3 days", "Water plants", false},
		{"every with d suffix", []string{"Gym", "every", "2d"}, "every 2 days", "Gym", false},
		{"weekday names", []string{"Run", "on", "mon,wed,fri"}, "Mon, Wed, Fri", "Run", false},
		{"weekday numbers", []string{"Call", "on", "0,6"}, "Sun, Sat", "Call", false},
		{"bad interval", []string{"X", "every", "zero"}, "", "", true},
		{"bad weekday", []string{"X", "on", "noday"}, "", "", true},
		{"empty days", []string{"X", "on", ","}, "", "", true},
		{"no args", nil, "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule, nameTokens, err := parseSchedule(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got rule %v", rule)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := rule.String(); got != tc.wantRule {
				t.Errorf("rule = %q, want %q", got, tc.wantRule)
			}
			if got := strings.Join(nameTokens, " "); got != tc.wantName {
				t.Errorf("name = %q, want %q", got, tc.wantName)
			}
		})
	}
}

func TestParseScheduleIntervalClamp(t *testing.T) {
	t.Parallel()

	rule, _, err := parseSchedule([]string{"Dentist", "every", "999"})
	if err != nil {
		t.Fatal(err)
	}
	if got := rule.FrequencyDays(); got != 365 {
		t.Errorf("frequency = %d, want clamp to 365", got)
	}
}

func TestSplitEmoji(t *testing.T) {
	t.Parallel()

	emoji, rest := splitEmoji([]string{"💧", "Drink", "water"})
	if emoji != "💧" || strings.Join(rest, " ") != "Drink water" {
		t.Errorf("got (%q, %v)", emoji, rest)
	}

	emoji, rest = splitEmoji([]string{"Drink", "water"})
	if emoji != "" || len(rest) != 2 {
		t.Errorf("plain name mis-split: (%q, %v)", emoji, rest)
	}

	// A single token is always the name, never just an emoji.
	emoji, rest = splitEmoji([]string{"💧"})
	if emoji != "" || len(rest) != 1 {
		t.Errorf("single token mis-split: (%q, %v)", emoji, rest)
	}
}

// stubStore is a minimal storage.Store for callback dispatch tests.
type stubStore struct {
	users       map[int64]storage.User
	habits      map[string]storage.Habit
	completions map[string]map[string]bool
}

func newStubStore() *stubStore {
	return &stubStore{
		users:       map[int64]storage.User{},
		habits:      map[string]storage.Habit{},
		completions: map[string]map[string]bool{},
	}
}

func (s *stubStore) EnsureUser(_ context.Context, id int64) (storage.User, error) {
	u, ok := s.users[id]
	if !ok {
		u = storage.User{ID: id, OffsetMinutes: habit.DefaultOffsetMinutes}
		s.users[id] = u
	}
	return u, nil
}

func (s *stubStore) GetUser(_ context.Context, id int64) (storage.User, bool, error) {
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *stubStore) SetTimezone(context.Context, int64, int) error { return nil }

func (s *stubStore) SetReminder(context.Context, int64, storage.ReminderChannel, bool, string) error {
	return nil
}

func (s *stubStore) ListRemindable(context.Context, storage.ReminderChannel) ([]storage.User, error) {
	return nil, nil
}

func (s *stubStore) SetReminderSent(context.Context, int64, storage.ReminderChannel, habit.Date) error {
	return nil
}

func (s *stubStore) CreateHabit(_ context.Context, h storage.Habit) error {
	s.habits[h.ID] = h
	return nil
}

func (s *stubStore) GetHabit(_ context.Context, id string) (storage.Habit, bool, error) {
	h, ok := s.habits[id]
	return h, ok, nil
}

func (s *stubStore) ListActiveHabits(_ context.Context, userID int64) ([]storage.Habit, error) {
	var out []storage.Habit
	for _, h := range s.habits {
		if h.UserID == userID && h.Active {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *stubStore) SetHabitActive(_ context.Context, id string, active bool) error {
	h := s.habits[id]
	h.Active = active
	s.habits[id] = h
	return nil
}

func (s *stubStore) UpsertCompletion(_ context.Context, habitID string, day habit.Date, completed bool) error {
	if s.completions[habitID] == nil {
		s.completions[habitID] = map[string]bool{}
	}
	s.completions[habitID][day.String()] = completed
	return nil
}

func (s *stubStore) GetCompletion(_ context.Context, habitID string, day habit.Date) (bool, bool, error) {
	c, ok := s.completions[habitID][day.String()]
	return c, ok, nil
}

func (s *stubStore) ListCompletions(context.Context, string, habit.Date, habit.Date) ([]storage.Completion, error) {
	return nil, nil
}

func (s *stubStore) ListCompletedDates(context.Context, string) ([]habit.Date, error) {
	return nil, nil
}

func (s *stubStore) FirstCompletion(context.Context, string) (habit.Date, bool, error) {
	return habit.Date{}, false, nil
}

func (s *stubStore) LastCompletion(context.Context, string) (habit.Date, bool, error) {
	return habit.Date{}, false, nil
}

func (s *stubStore) Close() error { return nil }

// stubAdapter records calls; only the methods the router touches matter.
type stubAdapter struct {
	answers []string
	edits   int
}

func (a *stubAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *stubAdapter) Stop(context.Context) error                     { return nil }

func (a *stubAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (a *stubAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	a.edits++
	return nil
}

func (a *stubAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.answers = append(a.answers, text)
	return nil
}

func TestCallbackUsesChatIdentity(t *testing.T) {
	t.Parallel()
	st := newStubStore()
	ad := &stubAdapter{}
	r := New(ad, st, tracker.New(st, logx.Nop()), logx.Nop())
	ctx := context.Background()

	const chatID = int64(100)
	day := habit.MustDate("2024-06-03")
	if err := st.CreateHabit(ctx, storage.Habit{
		ID: "h1", UserID: chatID, Name: "Read", Active: true,
		Rule: habit.Daily(), CreatedAt: habit.MustDate("2024-06-01"),
	}); err != nil {
		t.Fatal(err)
	}

	// In a group chat the presser's id differs from the chat id that owns
	// the habits; the button must still work, same as /done does.
	r.handleCallback(ctx, &kit.Callback{
		ID: "cb1", ChatID: chatID, FromID: 999, MessageID: 7,
		Data: "done|h1|" + day.String(),
	})

	if done, _, _ := st.GetCompletion(ctx, "h1", day); !done {
		t.Fatal("callback did not toggle the completion")
	}
	if len(ad.answers) != 1 || strings.Contains(ad.answers[0], "not your habit") {
		t.Fatalf("answers = %v, want one non-rejection answer", ad.answers)
	}
	if ad.edits != 1 {
		t.Fatalf("edits = %d, want the listing refreshed once", ad.edits)
	}
}

func TestCallbackRejectsForeignChat(t *testing.T) {
	t.Parallel()
	st := newStubStore()
	ad := &stubAdapter{}
	r := New(ad, st, tracker.New(st, logx.Nop()), logx.Nop())
	ctx := context.Background()

	day := habit.MustDate("2024-06-03")
	if err := st.CreateHabit(ctx, storage.Habit{
		ID: "h1", UserID: 100, Name: "Read", Active: true,
		Rule: habit.Daily(), CreatedAt: habit.MustDate("2024-06-01"),
	}); err != nil {
		t.Fatal(err)
	}

	// A button forwarded into another chat must not toggle foreign habits.
	r.handleCallback(ctx, &kit.Callback{
		ID: "cb1", ChatID: 200, FromID: 200, MessageID: 7,
		Data: "done|h1|" + day.String(),
	})

	if done, _, _ := st.GetCompletion(ctx, "h1", day); done {
		t.Fatal("foreign chat toggled the habit")
	}
	if len(ad.answers) != 1 || !strings.Contains(ad.answers[0], "not your habit") {
		t.Fatalf("answers = %v, want a rejection", ad.answers)
	}
}

func TestHabitTitle(t *testing.T) {
	t.Parallel()

	h := storage.Habit{Name: "Drink water", Emoji: "💧"}
	if got := habitTitle(h); got != "💧 Drink water" {
		t.Errorf("habitTitle = %q", got)
	}
	h.Emoji = ""
	if got := habitTitle(h); got != "Drink water" {
		t.Errorf("habitTitle without emoji = %q", got)
	}
}
