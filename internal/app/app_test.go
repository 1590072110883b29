package app

import (
	"sync"
	"testing"

	"github.com/ChieperR/tg-habit-tracker/internal/reminder"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

// The config.reload goroutine swaps the reminder service while shutdown
// reads it; both must go through the guarded accessors.
func TestReminderSwapIsConcurrencySafe(t *testing.T) {
	t.Parallel()

	a := &App{}
	a.swapReminder(reminder.New(reminder.Config{}, nil, nil, nil, logx.Nop()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				prev := a.swapReminder(reminder.New(reminder.Config{}, nil, nil, nil, logx.Nop()))
				if prev == nil {
					t.Error("swap lost the previous service")
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if a.reminderService() == nil {
					t.Error("read a nil service mid-swap")
					return
				}
			}
		}()
	}
	wg.Wait()
}
