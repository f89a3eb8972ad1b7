// Package app assembles and runs the review bot.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reviewbot/internal/config"
	"reviewbot/internal/deliver"
	"reviewbot/internal/monitor"
	"reviewbot/internal/runtime/supervisor"
	"reviewbot/internal/source"
	"reviewbot/internal/source/letterboxd"
	"reviewbot/internal/source/senscritique"
	"reviewbot/internal/source/steam"
	"reviewbot/internal/source/tmdb"
	"reviewbot/internal/storage"
	"reviewbot/internal/translate"
	"reviewbot/internal/transport"
	"reviewbot/internal/transport/telegram"
	"reviewbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	store  storage.Store
	sender *telegram.Sender
	mon    *monitor.Monitor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	sender, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		ClientTimeout: 15 * time.Second,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap logging with the Telegram mirror off, set the target, then
	// Apply() the real config. Avoids a warning when the mirror is enabled
	// before its chat is known.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, sender)
	log = log.With(logx.String("comp", "app"))

	applyLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
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

	httpClient := &http.Client{Timeout: 20 * time.Second}
	tmdbClient := tmdb.New(cfg.Sources.TMDBAPIKey, httpClient)

	adapters := []source.Adapter{
		letterboxd.New(httpClient, tmdbClient, log.With(logx.String("comp", "letterboxd"))),
		steam.New(httpClient, log.With(logx.String("comp", "steam"))),
		senscritique.New(httpClient, tmdbClient, log.With(logx.String("comp", "senscritique"))),
	}

	translator := translate.New(translate.Config{
		Enabled: cfg.Translation.Enabled,
		APIKey:  cfg.Translation.APIKey,
	}, httpClient, log.With(logx.String("comp", "translate")))

	target := transport.ChatTarget{
		ChatID:   cfg.Telegram.ReviewChat,
		ThreadID: cfg.Telegram.ReviewThread,
	}
	deliverer := deliver.New(store, sender, target, log.With(logx.String("comp", "deliver")))

	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(monCfg, store, adapters, translator, deliverer,
		log.With(logx.String("comp", "monitor")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		sender:  sender,
		mon:     mon,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if cfg.Telegram.ReviewChat == 0 {
			return fmt.Errorf("telegram.review_chat is required")
		}
		if _, err := mapMonitorConfig(cfg); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		return nil
	})

	if err := a.mon.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Hot reload: logging takes effect immediately, monitor and storage
	// changes need a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				applyLogTarget(a.logs, newCfg)
				a.logs.Apply(mapLogConfig(newCfg))
				a.log.Info("config reloaded; monitor and storage changes apply on restart")
			}
		}
	})

	a.log.Info("started")
	return nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("monitor", 5*time.Second, a.mon.Stop)
	step("sender", 2*time.Second, a.sender.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
			return
		}
	}
	logs.SetTelegramTarget(0, 0)
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	interval, err := config.ParseDurationOrDefault("monitor.interval", cfg.Monitor.Interval, 5*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	subDelay, err := config.ParseDurationOrDefault("monitor.subscription_delay", cfg.Monitor.SubscriptionDelay, 2*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	delDelay, err := config.ParseDurationOrDefault("monitor.delivery_delay", cfg.Monitor.DeliveryDelay, time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	if cfg.Monitor.MaxRetries < 0 {
		return monitor.Config{}, fmt.Errorf("monitor.max_retries must be >= 0")
	}
	return monitor.Config{
		Enabled:           cfg.Monitor.Enabled,
		Interval:          interval,
		SubscriptionDelay: subDelay,
		DeliveryDelay:     delDelay,
		MaxRetries:        cfg.Monitor.MaxRetries,
	}, nil
}
