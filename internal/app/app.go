// Package app wires the pieces together: config, logging, store, ledger,
// source client, telegram adapter, bot router and the notification loop.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cfbot/internal/bot"
	"cfbot/internal/config"
	"cfbot/internal/ledger"
	"cfbot/internal/notify"
	"cfbot/internal/runtime/supervisor"
	"cfbot/internal/scheduler"
	"cfbot/internal/source"
	"cfbot/internal/store"
	kit "cfbot/internal/transport"
	telegram "cfbot/internal/transport/telegram/adapter"
	logx "cfbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  store.Store
	ledger *ledger.Ledger

	adapter kit.Adapter
	src     *source.Client
	sink    *notify.TelegramSink
	sched   *scheduler.Service
	router  *bot.Router

	updates chan kit.Update
}

// resolveToken picks the bot token: the TELEGRAM_TOKEN environment variable
// overrides the config value so a deployment secret never has to live in the
// config file.
func resolveToken(cfgToken string) string {
	if env := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); env != "" {
		return env
	}
	return strings.TrimSpace(cfgToken)
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
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
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		cur := cfgm.Get()
		if cur == nil || next == nil {
			return nil
		}
		// Everything except logging is wired at construction time.
		if next.Telegram != cur.Telegram || next.Source != cur.Source ||
			next.Scheduler != cur.Scheduler || next.Storage != cur.Storage ||
			next.Ledger != cur.Ledger {
			return fmt.Errorf("only the logging section is reloadable; restart to apply other changes")
		}
		return nil
	})

	token := resolveToken(cfg.Telegram.Token)
	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	srcTimeout, err := config.Duration("source.timeout", cfg.Source.Timeout, source.DefaultTimeout)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	src := source.NewClient(source.Config{
		BaseURL: cfg.Source.BaseURL,
		Timeout: srcTimeout,
	})

	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	storePath := cfg.Storage.Path
	if strings.TrimSpace(storePath) == "" {
		storePath = "./data/users.json"
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	ledgerPath := cfg.Ledger.Path
	if strings.TrimSpace(ledgerPath) == "" {
		ledgerPath = "./data/contests.db"
	}
	led, err := ledger.Open(ledgerPath, logSvc.Logger().With(logx.String("comp", "ledger")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	sendTimeout, err := config.Duration("scheduler.send_timeout", cfg.Scheduler.SendTimeout, 10*time.Second)
	if err != nil {
		_ = led.Close()
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sink := notify.NewTelegramSink(notify.Config{
		RatePerSec:  cfg.Scheduler.RatePerSec,
		SendTimeout: sendTimeout,
	}, ad, logSvc.Logger().With(logx.String("comp", "notify")))

	sched, err := scheduler.New(scheduler.Config{
		Schedule: cfg.Scheduler.Schedule,
	}, src, st, led, sink, logSvc.Logger())
	if err != nil {
		_ = led.Close()
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	router := bot.NewRouter(ad, st, src, logSvc.Logger())

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   st,
		ledger:  led,
		adapter: ad,
		src:     src,
		sink:    sink,
		sched:   sched,
		router:  router,
		updates: make(chan kit.Update, 128),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
	)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}

	a.sup.Go0("bot.router", func(c context.Context) {
		a.router.Run(c, a.updates)
	})

	// The notification loop self-heals on panic; cycle errors are already
	// absorbed inside Run, so a returning Run is unexpected.
	a.sup.GoRestart("scheduler.loop", a.sched.Run,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithPublishFirstError(true),
	)

	// Config watch: only the logging section is hot-swapped.
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", func(c context.Context) {
		ch := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-ch:
				if !ok || cfg == nil {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied")
			}
		}
	})

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if a.sup != nil {
		a.sup.Cancel()
	}
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = a.sup.Wait(wctx)
	}

	if err := a.ledger.Close(); err != nil {
		a.log.Warn("ledger close failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	_ = a.logs.Close()
	return nil
}
