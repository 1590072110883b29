// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, the command router and the reminder sweep.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ChieperR/tg-habit-tracker/internal/config"
	"github.com/ChieperR/tg-habit-tracker/internal/reminder"
	"github.com/ChieperR/tg-habit-tracker/internal/runtime/supervisor"
	"github.com/ChieperR/tg-habit-tracker/internal/storage"
	"github.com/ChieperR/tg-habit-tracker/internal/tracker"
	kit "github.com/ChieperR/tg-habit-tracker/internal/transport"
	telegram "github.com/ChieperR/tg-habit-tracker/internal/transport/telegram/adapter"
	"github.com/ChieperR/tg-habit-tracker/internal/transport/telegram/router"
	logx "github.com/ChieperR/tg-habit-tracker/pkg/logx"
)

// StopReason describes why the app is shutting down; it only affects logs.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	trk     *tracker.Service

	// remMu guards rem: the config.reload goroutine swaps it while Stop
	// reads it from the caller's goroutine.
	remMu sync.Mutex
	rem   *reminder.Service

	updates chan kit.Update
}

func (a *App) reminderService() *reminder.Service {
	a.remMu.Lock()
	defer a.remMu.Unlock()
	return a.rem
}

func (a *App) swapReminder(next *reminder.Service) *reminder.Service {
	a.remMu.Lock()
	defer a.remMu.Unlock()
	prev := a.rem
	a.rem = next
	return prev
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// Env wins over the config file so the token can stay out of it.
	if t := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); t != "" {
		cfg.Telegram.Token = t
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	trk := tracker.New(store, log.With(logx.String("comp", "tracker")))
	rt := router.New(ad, store, trk, log.With(logx.String("comp", "router")))
	rem := reminder.New(reminder.Config{
		Enabled:  cfg.Reminder.Enabled,
		TickSpec: cfg.Reminder.Tick,
	}, store, trk, htmlDelivery{ad: ad}, log.With(logx.String("comp", "reminder")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		router:  rt,
		trk:     trk,
		rem:     rem,
		updates: make(chan kit.Update, 256),
	}, nil
}

// htmlDelivery adapts the Telegram adapter to the reminder delivery port.
// Reminder payloads are already Telegram-safe HTML.
type htmlDelivery struct {
	ad kit.Adapter
}

func (d htmlDelivery) Send(ctx context.Context, userID int64, ch storage.ReminderChannel, text string) error {
	_, err := d.ad.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		return fmt.Errorf("send %s reminder: %w", ch, err)
	}
	return nil
}

// Done is closed when the app context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		c := *cfg
		if t := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); t != "" {
			c.Telegram.Token = t
		}
		return config.Validate(&c)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.reminderService().Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("router.dispatch", func(c context.Context) {
		a.router.Run(c, a.updates)
	})

	// Publish the command menu; purely cosmetic, so failures only log.
	a.sup.Go0("menu.update", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.Commands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	for _, s := range sections {
		switch s {
		case "storage", "telegram":
			a.log.Warn("config section changed; restart required to take effect",
				logx.String("section", s))
		case "reminder":
			next := reminder.New(reminder.Config{
				Enabled:  newCfg.Reminder.Enabled,
				TickSpec: newCfg.Reminder.Tick,
			}, a.store, a.trk, htmlDelivery{ad: a.adapter}, a.log.With(logx.String("comp", "reminder")))
			a.swapReminder(next).Stop(ctx)
			if err := next.Start(ctx); err != nil {
				a.log.Warn("reminder restart failed", logx.Err(err))
			}
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("reminder", 2*time.Second, func(c context.Context) error { a.reminderService().Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
