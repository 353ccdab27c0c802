// Package app wires the process together: config, logging, storage, the
// Telegram adapter, the scheduling engine and the optional stats API.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"qazabot/internal/api"
	"qazabot/internal/bot"
	"qazabot/internal/config"
	"qazabot/internal/engine"
	"qazabot/internal/eventbus"
	"qazabot/internal/provider"
	"qazabot/internal/runtime/supervisor"
	"qazabot/internal/storage"
	kit "qazabot/internal/transport"
	telegram "qazabot/internal/transport/telegram"
	logx "qazabot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter kit.Adapter

	registry  *engine.Registry
	resolver  *engine.Resolver
	refresher *engine.Refresher

	router *bot.Router
	stats  *api.Server

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
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

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	provTimeout, err := config.ParseDurationOrDefault("provider.timeout", cfg.Provider.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	times := provider.NewAlAdhan(provider.AlAdhanConfig{
		BaseURL: cfg.Provider.BaseURL,
		Method:  cfg.Provider.Method,
		School:  cfg.Provider.School,
		Timeout: provTimeout,
	}, logSvc.Logger().With(logx.String("comp", "aladhan")))
	geo := provider.NewNominatim(provider.NominatimConfig{
		BaseURL: cfg.Provider.GeocodeURL,
		Timeout: provTimeout,
	}, logSvc.Logger().With(logx.String("comp", "nominatim")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	channel := bot.NewChannel(ad, logSvc.Logger().With(logx.String("comp", "channel")))
	resolver := engine.NewResolver(ledgerAdapter{store}, bus, logSvc.Logger().With(logx.String("comp", "resolver")))
	registry := engine.NewRegistry(engCfg, engine.Deps{
		Schedules: store,
		Channel:   channel,
		Resolver:  resolver,
		Bus:       bus,
	}, logSvc.Logger().With(logx.String("comp", "engine")))
	refresher := engine.NewRefresher(directoryAdapter{store}, times, store, bus,
		logSvc.Logger().With(logx.String("comp", "refresh")), nil)

	router := bot.NewRouter(ad, store, times, geo, registry, resolver, logSvc.Logger().With(logx.String("comp", "bot")))

	var stats *api.Server
	if cfg.API != nil && cfg.API.Enabled {
		stats = api.NewServer(api.Config{
			Addr:         cfg.API.Addr,
			AllowOrigins: cfg.API.AllowOrigins,
		}, store, logSvc.Logger().With(logx.String("comp", "api")))
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		registry:  registry,
		resolver:  resolver,
		refresher: refresher,
		router:    router,
		stats:     stats,
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("updates.dispatch", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case up, ok := <-a.updates:
				if !ok {
					return nil
				}
				a.router.Handle(c, up)
			}
		}
	})

	// Refresh schedules and bring every stored user's session up. Runs off
	// the start path so a slow prayer-times API cannot stall boot.
	a.sup.Go0("startup.arm", func(c context.Context) {
		rctx, cancel := context.WithTimeout(c, 10*time.Minute)
		defer cancel()
		a.refresher.RunOnce(rctx)

		users, err := a.store.ListUsers(c)
		if err != nil {
			a.log.Error("startup user walk failed", logx.Err(err))
			return
		}
		for _, u := range users {
			if c.Err() != nil {
				return
			}
			if err := a.registry.Register(c, u.ID); err != nil {
				a.log.Warn("startup register failed", logx.Int64("user", u.ID), logx.Err(err))
			}
		}
		a.log.Info("sessions armed", logx.Int("users", len(users)))
	})

	cfg := a.cfgm.Get()
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Refresh.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("refresh.timezone: %w", err)
		}
		loc = l
	}
	if err := a.refresher.Start(cfg.Refresh.Cron, loc); err != nil {
		return fmt.Errorf("refresh cron: %w", err)
	}

	if a.stats != nil {
		if err := a.stats.Start(); err != nil {
			return err
		}
	}

	// Debug visibility into engine activity without coupling components.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out. Logging applies live; everything else is engine
	// topology and requires a restart to take effect.
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
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded (logging applied; engine changes need a restart)")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("stats.api", 2*time.Second, func(c context.Context) error {
		if a.stats != nil {
			return a.stats.Stop(c)
		}
		return nil
	})
	step("refresher", 3*time.Second, func(c context.Context) error { a.refresher.Stop(c); return nil })
	step("sessions", 5*time.Second, func(c context.Context) error { a.registry.Shutdown(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(_ context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (dispatch, config watch/reload).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	poll, err := config.ParseDurationOrDefault("engine.poll_interval", cfg.Engine.PollInterval, 0)
	if err != nil {
		return engine.Config{}, err
	}
	tol, err := config.ParseDurationOrDefault("engine.notify_tolerance", cfg.Engine.NotifyTolerance, 0)
	if err != nil {
		return engine.Config{}, err
	}
	warn, err := config.ParseDurationOrDefault("engine.warn_window", cfg.Engine.WarnWindow, 0)
	if err != nil {
		return engine.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("engine.response_timeout", cfg.Engine.ResponseTimeout, 0)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		PollInterval:    poll,
		NotifyTolerance: tol,
		WarnWindow:      warn,
		ResponseTimeout: timeout,
	}, nil
}

func validateConfig(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("provider.timeout", cfg.Provider.Timeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Refresh.Cron); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("refresh.cron: invalid %q: %w", spec, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Refresh.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("refresh.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// ledgerAdapter maps engine outcome records onto the sqlite qaza ledger.
type ledgerAdapter struct {
	store *storage.Store
}

func (l ledgerAdapter) Append(ctx context.Context, rec engine.OutcomeRecord) (bool, error) {
	return l.store.AppendOutcome(ctx, storage.QazaRecord{
		UserID:  rec.UserID,
		Prayer:  string(rec.Prayer),
		Day:     rec.Day,
		Outcome: string(rec.Outcome),
		Reason:  rec.Reason,
		Source:  string(rec.Source),
	})
}

// directoryAdapter exposes the users table as the refresher's directory.
type directoryAdapter struct {
	store *storage.Store
}

func (d directoryAdapter) ListUsers(ctx context.Context) ([]engine.User, error) {
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.User, 0, len(users))
	for _, u := range users {
		out = append(out, engine.User{ID: u.ID, Lat: u.Lat, Lon: u.Lon})
	}
	return out, nil
}
