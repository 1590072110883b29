package reminder

import (
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	"github.com/ChieperR/tg-habit-tracker/internal/tracker"
	"github.com/ChieperR/tg-habit-tracker/pkg/tgui"
)

// renderPayload builds the channel message from the day's overview.
// Returns ok=false when there is nothing worth sending: both channels are
// suppressed when no habit is due or done today.
func renderPayload(ch storage.ReminderChannel, overview []tracker.HabitStatus) (string, bool) {
	due := make([]tracker.HabitStatus, 0, len(overview))
	for _, hs := range overview {
		if hs.State == tracker.StateDue || hs.State == tracker.StateDone {
			due = append(due, hs)
		}
	}
	if len(due) == 0 {
		return "", false
	}

	if ch == storage.ReminderEvening {
		return eveningMessage(due), true
	}
	return morningMessage(due), true
}

// morningMessage lists what is on today's plate.
func morningMessage(due []tracker.HabitStatus) string {
	parts := []tgui.H{tgui.B("☀️ Today's habits")}
	for _, hs := range due {
		parts = append(parts, tgui.Esc("• "+habitLabel(hs)))
	}
	return tgui.Lines(parts...).String()
}

// eveningMessage shows the same set with completion marks.
func eveningMessage(due []tracker.HabitStatus) string {
	parts := []tgui.H{tgui.B("🌙 Evening review")}
	done := 0
	for _, hs := range due {
		mark := "⬜"
		if hs.State == tracker.StateDone {
			mark = "✅"
			done++
		}
		parts = append(parts, tgui.Esc(mark+" "+habitLabel(hs)))
	}
	if done == len(due) {
		parts = append(parts, tgui.I("All done. Nice work!"))
	}
	return tgui.Lines(parts...).String()
}

func habitLabel(hs tracker.HabitStatus) string {
	if hs.Habit.Emoji != "" {
		return hs.Habit.Emoji + " " + hs.Habit.Name
	}
	return hs.Habit.Name
}
