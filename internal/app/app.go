// Package app wires config, storage, services, the sweep schedule, the
// notifier and the HTTP API into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"homekeep/internal/config"
	"homekeep/internal/eventbus"
	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/httpapi"
	"homekeep/internal/notifier"
	"homekeep/internal/profile"
	"homekeep/internal/runtime/supervisor"
	"homekeep/internal/scheduler"
	"homekeep/internal/storage"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
	"homekeep/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tasks  *task.Service
	habits *habit.Service
	homes  *home.Service
	users  *profile.Cache
	sched  *scheduler.Service
	notif  *notifier.Service
	http   *httpapi.Server
	sd     systemd.Notifier

	startedAt time.Time
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	now    func() time.Time
	sender notifier.Sender
}

type Option func(*options)

// WithClock overrides the task and habit service clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithSender replaces the Telegram client.
func WithSender(s notifier.Sender) Option { return func(o *options) { o.sender = s } }

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a, err := build(cfgm, cfg, o, logSvc, log, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	appLog.Info("app built",
		logx.String("config", cfgPath),
		logx.String("storage", sc.Driver),
		logx.Bool("http", a.http != nil),
		logx.Bool("notifier", a.notif.Enabled()),
	)
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, o options, logSvc *logx.Service, log logx.Logger, store storage.Store) (*App, error) {
	bus := eventbus.New(eventbus.WithLogger(log.With(logx.String("comp", "eventbus"))))

	tcfg, err := mapTaskConfig(cfg, o.now)
	if err != nil {
		return nil, err
	}
	tasks := task.NewService(store.Tasks(), tcfg, log.With(logx.String("comp", "task")), bus)
	homes := home.NewService(store.Homes(), log.With(logx.String("comp", "home")))
	habits := habit.NewService(store.Habits(), homes, log.With(logx.String("comp", "habit")), bus, tasks.Clock())
	users := profile.NewCache(store.Users())

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")))

	ncfg, pollTimeout, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := o.sender
	if sender == nil && ncfg.Enabled {
		tg, err := notifier.NewTelegram(cfg.Notifier.Telegram.Token, pollTimeout)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = tg
	}
	notif := notifier.New(ncfg, sender, users, store, log.With(logx.String("comp", "notifier")), bus)

	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  store,
		tasks:  tasks,
		habits: habits,
		homes:  homes,
		users:  users,
		sched:  sched,
		notif:  notif,
		sd:     systemd.Notifier{Enabled: cfg.Systemd.Notify, Log: log.With(logx.String("comp", "systemd"))},
	}
	if cfg.HTTP.Enabled {
		a.http = httpapi.New(httpapi.Deps{
			Tasks:  tasks,
			Habits: habits,
			Homes:  homes,
			Users:  users,
			Health: a.health,
			Log:    log.With(logx.String("comp", "http")),
			Pprof:  cfg.HTTP.Pprof,
		})
	}
	return a, nil
}

func (a *App) Tasks() *task.Service          { return a.tasks }
func (a *App) Habits() *habit.Service        { return a.habits }
func (a *App) Homes() *home.Service          { return a.homes }
func (a *App) Users() *profile.Cache         { return a.users }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Notifier() *notifier.Service   { return a.notif }
func (a *App) Logger() logx.Logger           { return a.log }

// HTTPAddr returns the bound API address, or "" when the API is off.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if c.Sweep.IsEnabled() {
			if _, err := scheduler.ParseSchedule(c.SweepSchedule()); err != nil {
				return fmt.Errorf("sweep.schedule: %w", err)
			}
		}
		return nil
	})

	if err := a.applySweepSchedule(cfg); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.notif.Start(a.sup.Context())

	a.sup.GoRestart("audit", a.auditLoop, 0, 0)

	if a.http != nil {
		if err := a.http.Start(cfg.HTTPAddr()); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("http: %w", err)
		}
	}

	if cfg.Sweep.IsEnabled() && cfg.Sweep.RunOnStart {
		a.sup.Go("sweep.startup", func(c context.Context) error {
			if err := a.sched.RunNow(c, sweepJobName); err != nil && !errors.Is(err, scheduler.ErrOverlapSkip) {
				a.log.Warn("startup sweep failed", logx.Err(err))
			}
			return nil
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.sd.Status("running")
	if cfg.Systemd.Watchdog {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.RunWatchdog(c, func() bool { return c.Err() == nil })
		})
	}

	a.log.Info("app started", logx.String("http", a.HTTPAddr()), logx.Bool("sweep", cfg.Sweep.IsEnabled()))
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded by
// its own limit and by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step slow", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.startedAt)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	a.closeOnce.Do(func() { a.closeErr = a.store.Close() })
	return a.closeErr
}

// Close releases resources of an app that was never started (one-shot CLI).
func (a *App) Close() error {
	if a.sup != nil {
		return errors.New("app is running; use Stop")
	}
	err := a.closeStore()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) health() map[string]any {
	return map[string]any{
		"uptime":     time.Since(a.startedAt).Round(time.Second).String(),
		"scheduler":  a.sched.Snapshot(),
		"notifier":   a.notif.Snapshot(),
		"busDropped": a.bus.Dropped(),
	}
}
