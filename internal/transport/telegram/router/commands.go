package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	tele "gopkg.in/telebot.v4"

	"github.com/ChieperR/tg-habit-tracker/internal/habit"
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	"github.com/ChieperR/tg-habit-tracker/internal/tracker"
	kit "github.com/ChieperR/tg-habit-tracker/internal/transport"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
	"github.com/ChieperR/tg-habit-tracker/pkg/tgui"
)

func helpText() string {
	return tgui.Lines(
		tgui.B("Habit tracker"),
		tgui.Esc("/new <name> daily — a habit for every day"),
		tgui.Esc("/new <name> every <N> — every N days"),
		tgui.Esc("/new <name> on mon,wed,fri — fixed weekdays"),
		tgui.Esc("/habits — today's list with done buttons"),
		tgui.Esc("/done <n> — toggle today's mark"),
		tgui.Esc("/stats — streaks and completion rate"),
		tgui.Esc("/week — last 7 days per habit"),
		tgui.Esc("/remind morning 08:00 — daily reminder (or: off)"),
		tgui.Esc("/remind evening 21:00 — evening review (or: off)"),
		tgui.Esc("/timezone 180 — UTC offset in minutes"),
		tgui.Esc("/delete <n> — archive a habit"),
	).String()
}

func (r *Router) localToday(ctx context.Context, userID int64) (storage.User, habit.Date, error) {
	u, err := r.store.EnsureUser(ctx, userID)
	if err != nil {
		return storage.User{}, habit.Date{}, fmt.Errorf("load user: %w", err)
	}
	return u, habit.LocalDate(time.Now(), u.OffsetMinutes), nil
}

func (r *Router) cmdStart(ctx context.Context, userID int64) (replyText, error) {
	if _, err := r.store.EnsureUser(ctx, userID); err != nil {
		return replyText{}, fmt.Errorf("register: %w", err)
	}
	greet := tgui.Lines(
		tgui.Esc("👋 Let's build some habits."),
		tgui.Raw(helpText()),
	)
	return replyText{text: greet.String()}, nil
}

// ---- habit creation ----

var weekdayAliases = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// parseSchedule consumes trailing schedule tokens and returns the rule plus
// the remaining name tokens.
//
// Accepted forms: "... daily", "... every N", "... on mon,wed,fri".
func parseSchedule(args []string) (habit.Rule, []string, error) {
	n := len(args)
	if n == 0 {
		return habit.Rule{}, nil, errors.New("usage: /new <name> daily | every <N> | on <days>")
	}
	last := strings.ToLower(args[n-1])

	switch {
	case last == "daily":
		return habit.Daily(), args[:n-1], nil

	case n >= 2 && strings.ToLower(args[n-2]) == "every":
		days, err := strconv.Atoi(strings.TrimSuffix(last, "d"))
		if err != nil || days < 1 {
			return habit.Rule{}, nil, fmt.Errorf("bad interval %q: want a positive day count", args[n-1])
		}
		return habit.EveryNDays(days), args[:n-2], nil

	case n >= 2 && strings.ToLower(args[n-2]) == "on":
		var days []int
		for _, tok := range strings.Split(last, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			wd, ok := weekdayAliases[tok]
			if !ok {
				v, err := strconv.Atoi(tok)
				if err != nil || v < 0 || v > 6 {
					return habit.Rule{}, nil, fmt.Errorf("unknown weekday %q", tok)
				}
				wd = v
			}
			days = append(days, wd)
		}
		if len(days) == 0 {
			return habit.Rule{}, nil, errors.New("no weekdays given")
		}
		rule, err := habit.OnWeekdays(days...)
		if err != nil {
			return habit.Rule{}, nil, err
		}
		return rule, args[:n-2], nil

	default:
		// No schedule suffix: default to daily.
		return habit.Daily(), args, nil
	}
}

// splitEmoji peels a leading emoji token off the name, if present.
func splitEmoji(tokens []string) (emoji string, rest []string) {
	if len(tokens) < 2 {
		return "", tokens
	}
	for _, r := range tokens[0] {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return "", tokens
		}
	}
	return tokens[0], tokens[1:]
}

func (r *Router) cmdNew(ctx context.Context, userID int64, args []string) (replyText, error) {
	rule, nameTokens, err := parseSchedule(args)
	if err != nil {
		return replyText{}, err
	}
	emoji, nameTokens := splitEmoji(nameTokens)
	name := strings.Join(nameTokens, " ")

	_, today, err := r.localToday(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	h, err := r.trk.Create(ctx, userID, name, emoji, rule, today)
	if err != nil {
		return replyText{}, err
	}
	msg := tgui.Lines(
		tgui.Esc("Added "+habitTitle(h)+"."),
		tgui.I("Schedule: "+h.Rule.String()),
	)
	return replyText{text: msg.String()}, nil
}

// ---- listing and completion ----

func stateIcon(st tracker.DayState) string {
	switch st {
	case tracker.StateDone:
		return "✅"
	case tracker.StateDue:
		return "⬜"
	default:
		return "💤"
	}
}

func habitTitle(h storage.Habit) string {
	if h.Emoji != "" {
		return h.Emoji + " " + h.Name
	}
	return h.Name
}

func (r *Router) renderToday(ctx context.Context, userID int64) (replyText, error) {
	_, today, err := r.localToday(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	overview, err := r.trk.Overview(ctx, userID, today)
	if err != nil {
		return replyText{}, err
	}
	if len(overview) == 0 {
		return replyText{text: tgui.Esc("No habits yet. Add one with /new").String()}, nil
	}

	parts := []tgui.H{tgui.B("Today · " + today.String())}
	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	for i, hs := range overview {
		parts = append(parts, tgui.Esc(fmt.Sprintf("%d. %s %s", i+1, stateIcon(hs.State), habitTitle(hs.Habit))))
		if hs.State != tracker.StateRest {
			btn := markup.Data(stateIcon(hs.State)+" "+hs.Habit.Name, "done", hs.Habit.ID, today.String())
			rows = append(rows, markup.Row(btn))
		}
	}
	reply := replyText{text: tgui.Lines(parts...).String()}
	if len(rows) > 0 {
		markup.Inline(rows...)
		reply.markup = markup
	}
	return reply, nil
}

func (r *Router) cmdHabits(ctx context.Context, userID int64) (replyText, error) {
	return r.renderToday(ctx, userID)
}

// habitByIndex resolves the 1-based index a user sees in /habits.
func (r *Router) habitByIndex(ctx context.Context, userID int64, arg string) (storage.Habit, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return storage.Habit{}, fmt.Errorf("bad habit number %q", arg)
	}
	habits, err := r.store.ListActiveHabits(ctx, userID)
	if err != nil {
		return storage.Habit{}, err
	}
	if n > len(habits) {
		return storage.Habit{}, fmt.Errorf("no habit #%d (you have %d)", n, len(habits))
	}
	return habits[n-1], nil
}

func (r *Router) cmdDone(ctx context.Context, userID int64, args []string) (replyText, error) {
	if len(args) != 1 {
		return replyText{}, errors.New("usage: /done <n>")
	}
	h, err := r.habitByIndex(ctx, userID, args[0])
	if err != nil {
		return replyText{}, err
	}
	_, today, err := r.localToday(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	completed, err := r.trk.Toggle(ctx, h.ID, today)
	if err != nil {
		return replyText{}, err
	}
	if completed {
		return replyText{text: tgui.Esc("✅ " + habitTitle(h) + " done for today").String()}, nil
	}
	return replyText{text: tgui.Esc("↩️ " + habitTitle(h) + " unmarked").String()}, nil
}

func (r *Router) cmdDelete(ctx context.Context, userID int64, args []string) (replyText, error) {
	if len(args) != 1 {
		return replyText{}, errors.New("usage: /delete <n>")
	}
	h, err := r.habitByIndex(ctx, userID, args[0])
	if err != nil {
		return replyText{}, err
	}
	if err := r.trk.Archive(ctx, h.ID); err != nil {
		return replyText{}, err
	}
	return replyText{text: tgui.Esc("🗑 Archived " + habitTitle(h) + ". Its history is kept.").String()}, nil
}

// ---- stats and history ----

func (r *Router) cmdStats(ctx context.Context, userID int64) (replyText, error) {
	_, today, err := r.localToday(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	habits, err := r.store.ListActiveHabits(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	if len(habits) == 0 {
		return replyText{text: tgui.Esc("No habits yet. Add one with /new").String()}, nil
	}

	parts := []tgui.H{tgui.B("📊 Statistics")}
	for _, h := range habits {
		st, err := r.trk.Stats(ctx, h.ID, today)
		if err != nil {
			return replyText{}, err
		}
		parts = append(parts,
			tgui.B(habitTitle(h)),
			tgui.Esc(fmt.Sprintf("  🔥 streak %d · best %d · %d%% last %d days · %d total",
				st.CurrentStreak, st.MaxStreak, st.CompletionRate, habit.RateWindowDays, st.TotalCompleted)),
		)
	}
	return replyText{text: tgui.Lines(parts...).String()}, nil
}

func (r *Router) cmdWeek(ctx context.Context, userID int64) (replyText, error) {
	_, today, err := r.localToday(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	habits, err := r.store.ListActiveHabits(ctx, userID)
	if err != nil {
		return replyText{}, err
	}
	if len(habits) == 0 {
		return replyText{text: tgui.Esc("No habits yet. Add one with /new").String()}, nil
	}

	parts := []tgui.H{tgui.B("🗓 Last 7 days")}
	for _, h := range habits {
		cells, err := r.trk.History(ctx, h.ID, today.AddDays(-6), today)
		if err != nil {
			return replyText{}, err
		}
		var row strings.Builder
		for _, c := range cells {
			switch c.State {
			case tracker.StateDone:
				row.WriteString("✅")
			case tracker.StateDue:
				row.WriteString("⬜")
			default:
				row.WriteString("·")
			}
		}
		parts = append(parts, tgui.Esc(habitTitle(h)+"  "+row.String()))
	}
	return replyText{text: tgui.Lines(parts...).String()}, nil
}

// ---- settings ----

func (r *Router) cmdRemind(ctx context.Context, userID int64, args []string) (replyText, error) {
	if len(args) != 2 {
		return replyText{}, errors.New("usage: /remind <morning|evening> <HH:MM|off>")
	}
	var ch storage.ReminderChannel
	switch strings.ToLower(args[0]) {
	case "morning":
		ch = storage.ReminderMorning
	case "evening":
		ch = storage.ReminderEvening
	default:
		return replyText{}, fmt.Errorf("unknown channel %q", args[0])
	}

	u, err := r.store.EnsureUser(ctx, userID)
	if err != nil {
		return replyText{}, err
	}

	if strings.EqualFold(args[1], "off") {
		if err := r.store.SetReminder(ctx, userID, ch, false, u.ReminderTime(ch)); err != nil {
			return replyText{}, err
		}
		return replyText{text: tgui.Esc(fmt.Sprintf("🔕 %s reminder off", ch)).String()}, nil
	}

	minutes, err := habit.ParseClock(args[1])
	if err != nil {
		return replyText{}, err
	}
	at := habit.FormatClock(minutes)
	if err := r.store.SetReminder(ctx, userID, ch, true, at); err != nil {
		return replyText{}, err
	}
	return replyText{text: tgui.Esc(fmt.Sprintf("🔔 %s reminder at %s (your local time)", ch, at)).String()}, nil
}

func (r *Router) cmdTimezone(ctx context.Context, userID int64, args []string) (replyText, error) {
	if len(args) != 1 {
		return replyText{}, errors.New("usage: /timezone <offset minutes from UTC, e.g. 180 or -300>")
	}
	offset, err := strconv.Atoi(args[0])
	if err != nil {
		return replyText{}, fmt.Errorf("bad offset %q", args[0])
	}
	if err := habit.ValidateOffset(offset); err != nil {
		return replyText{}, err
	}
	if _, err := r.store.EnsureUser(ctx, userID); err != nil {
		return replyText{}, err
	}
	if err := r.store.SetTimezone(ctx, userID, offset); err != nil {
		return replyText{}, err
	}
	local := habit.LocalDate(time.Now(), offset)
	mins := habit.LocalMinutes(time.Now(), offset)
	return replyText{text: tgui.Esc(fmt.Sprintf("🌍 Offset saved. Your local time is %s %s", local, habit.FormatClock(mins))).String()}, nil
}

// ---- callbacks ----

// handleCallback processes inline "done" buttons: data is
// "done|<habitID>|<YYYY-MM-DD>". The account identity is the chat id,
// matching the command handlers, so buttons keep working in group chats
// where the presser differs from the chat.
func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	log := r.log.With(logx.Int64("user", cb.ChatID))

	parts := strings.Split(cb.Data, "|")
	if len(parts) != 3 || parts[0] != "done" {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	habitID := parts[1]
	day, err := habit.ParseDate(parts[2])
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "stale button")
		return
	}

	h, ok, err := r.store.GetHabit(ctx, habitID)
	if err != nil || !ok || h.UserID != cb.ChatID {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "not your habit")
		return
	}

	completed, err := r.trk.Toggle(ctx, habitID, day)
	if err != nil {
		log.Warn("toggle failed", logx.Err(err))
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "something went wrong")
		return
	}

	note := "unmarked"
	if completed {
		note = "done ✅"
	}
	_ = r.adapter.AnswerCallback(ctx, cb.ID, h.Name+" "+note)

	// Refresh the listing the button came from.
	reply, err := r.renderToday(ctx, cb.ChatID)
	if err != nil {
		log.Warn("refresh failed", logx.Err(err))
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: reply.markup}
	if err := r.adapter.EditText(ctx, ref, reply.text, opt); err != nil {
		log.Debug("edit failed", logx.Err(err))
	}
}
