// Package router turns incoming chat updates into tracker operations and
// renders the replies. It is transport-agnostic apart from the inline
// keyboard markup, which is Telegram-specific by nature.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	"github.com/ChieperR/tg-habit-tracker/internal/tracker"
	kit "github.com/ChieperR/tg-habit-tracker/internal/transport"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
	"github.com/ChieperR/tg-habit-tracker/pkg/tgui"
)

const handleTimeout = 15 * time.Second

type Router struct {
	adapter kit.Adapter
	store   storage.Store
	trk     *tracker.Service
	log     logx.Logger
}

func New(adapter kit.Adapter, store storage.Store, trk *tracker.Service, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{adapter: adapter, store: store, trk: trk, log: log}
}

// Commands lists the menu entries advertised to Telegram clients.
func (r *Router) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Register and show help"},
		{Command: "new", Description: "Create a habit"},
		{Command: "habits", Description: "Today's habits"},
		{Command: "done", Description: "Toggle today's completion"},
		{Command: "stats", Description: "Streaks and completion rates"},
		{Command: "week", Description: "Last 7 days per habit"},
		{Command: "remind", Description: "Configure reminders"},
		{Command: "timezone", Description: "Set UTC offset in minutes"},
		{Command: "delete", Description: "Archive a habit"},
		{Command: "help", Description: "Show help"},
	}
}

// Run consumes updates until ctx is done. Each update is handled with its
// own timeout; handler errors are logged and answered, never fatal.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			r.dispatch(hctx, up)
			cancel()
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		r.handleMessage(ctx, up.Message)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		r.handleCallback(ctx, up.Callback)
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	// Strip the @botname suffix used in groups.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	log := r.log.With(logx.Int64("user", m.FromID), logx.String("cmd", cmd))

	reply, err := r.runCommand(ctx, m.ChatID, cmd, args)
	if err != nil {
		log.Warn("command failed", logx.Err(err))
		reply = replyText{text: "⚠️ " + tgui.Esc(err.Error()).String()}
	}
	if reply.text == "" {
		return
	}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: reply.markup}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, reply.text, opt); err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}

// replyText is a rendered reply: HTML text plus optional inline keyboard.
type replyText struct {
	text   string
	markup any
}

func (r *Router) runCommand(ctx context.Context, userID int64, cmd string, args []string) (replyText, error) {
	switch cmd {
	case "start":
		return r.cmdStart(ctx, userID)
	case "help":
		return replyText{text: helpText()}, nil
	case "new":
		return r.cmdNew(ctx, userID, args)
	case "habits", "list":
		return r.cmdHabits(ctx, userID)
	case "done":
		return r.cmdDone(ctx, userID, args)
	case "stats":
		return r.cmdStats(ctx, userID)
	case "week":
		return r.cmdWeek(ctx, userID)
	case "remind":
		return r.cmdRemind(ctx, userID, args)
	case "timezone", "tz":
		return r.cmdTimezone(ctx, userID, args)
	case "delete":
		return r.cmdDelete(ctx, userID, args)
	default:
		// Unknown commands are ignored; the bot may share groups with others.
		return replyText{}, nil
	}
}
