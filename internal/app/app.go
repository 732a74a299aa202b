// Package app wires the components together: config, logging, stores, the
// status feed client, the notifier, and the reconciliation engine, plus the
// in-process cron trigger for daemon mode.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ensenbot/internal/cache"
	"ensenbot/internal/catalog"
	"ensenbot/internal/config"
	"ensenbot/internal/feed"
	"ensenbot/internal/notify"
	"ensenbot/internal/reconcile"
	"ensenbot/internal/storage/object"
	"ensenbot/internal/storage/subs"
	"ensenbot/internal/transport/telegram"
	logx "ensenbot/pkg/logx"
)

type Options struct {
	ConfigPath string
	// CatalogPath overrides the embedded route reference data.
	CatalogPath string
}

type App struct {
	opts Options

	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	cat       *catalog.Catalog
	objStore  object.Store
	subsStore subs.Store
	cache     *cache.Cache
	engine    *reconcile.Engine

	runTimeout time.Duration
	schedule   string

	sched       *scheduler
	cancelWatch context.CancelFunc
	wg          sync.WaitGroup

	mu    sync.Mutex
	built bool
}

func New(opts Options) (*App, error) {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, rootLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(rootLog.With(logx.String("svc", "config")))
	mgr.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	var cat *catalog.Catalog
	if opts.CatalogPath != "" {
		cat, err = catalog.LoadFile(opts.CatalogPath)
	} else {
		cat, err = catalog.Load()
	}
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	return &App{
		opts:   opts,
		mgr:    mgr,
		logSvc: logSvc,
		log:    rootLog,
		cat:    cat,
	}, nil
}

// build opens the stores and assembles the pipeline. Called once, from
// Start or RunOnce.
func (a *App) build(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.built {
		return nil
	}
	cfg := a.mgr.Get()

	objTimeout, err := config.ParseDurationField("storage.object.timeout", cfg.Storage.Object.Timeout)
	if err != nil {
		return err
	}
	objStore, err := object.Open(ctx, object.Config{
		Driver:  cfg.Storage.Object.Driver,
		Path:    cfg.Storage.Object.Path,
		Bucket:  cfg.Storage.Object.Bucket,
		Region:  cfg.Storage.Object.Region,
		Prefix:  cfg.Storage.Object.Prefix,
		Timeout: objTimeout,
	}, a.log.With(logx.String("svc", "object")))
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	busyTimeout, err := config.ParseDurationField("storage.subscriptions.busy_timeout", cfg.Storage.Subscriptions.BusyTimeout)
	if err != nil {
		objStore.Close()
		return err
	}
	subsTimeout, err := config.ParseDurationField("storage.subscriptions.timeout", cfg.Storage.Subscriptions.Timeout)
	if err != nil {
		objStore.Close()
		return err
	}
	subsStore, err := subs.Open(ctx, subs.Config{
		Driver:      cfg.Storage.Subscriptions.Driver,
		Path:        cfg.Storage.Subscriptions.Path,
		BusyTimeout: busyTimeout,
		Table:       cfg.Storage.Subscriptions.Table,
		RouteIndex:  cfg.Storage.Subscriptions.RouteIndex,
		Region:      cfg.Storage.Subscriptions.Region,
		Timeout:     subsTimeout,
	}, a.log.With(logx.String("svc", "subs")))
	if err != nil {
		objStore.Close()
		return fmt.Errorf("open subscription store: %w", err)
	}

	feedTimeout, err := config.ParseDurationField("feed.timeout", cfg.Feed.Timeout)
	if err != nil {
		objStore.Close()
		subsStore.Close()
		return err
	}
	endpoints := make([]feed.Endpoint, 0, len(cfg.Feed.Endpoints))
	for _, ep := range cfg.Feed.Endpoints {
		endpoints = append(endpoints, feed.Endpoint{Name: ep.Name, URL: ep.URL, Token: ep.Token})
	}
	feedClient := feed.NewClient(endpoints, feedTimeout, a.log.With(logx.String("svc", "feed")))

	sendTimeout, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		objStore.Close()
		subsStore.Close()
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: sendTimeout,
	}, a.log.With(logx.String("svc", "telegram")))
	if err != nil {
		objStore.Close()
		subsStore.Close()
		return fmt.Errorf("telegram adapter: %w", err)
	}

	notifyCfg := notify.Config{}
	fanoutWorkers := 0
	if n := cfg.Notifier; n != nil {
		notifyCfg.RatePerSec = float64(n.RatePerSec)
		notifyCfg.MaxAttempts = n.RetryMax
		fanoutWorkers = n.Workers
		retryDelay, err := config.ParseDurationField("notifier.retry_delay", n.RetryDelay)
		if err != nil {
			objStore.Close()
			subsStore.Close()
			return err
		}
		notifyCfg.RetryDelay = retryDelay
	}
	pusher := notify.New(notifyCfg, adapter, a.log.With(logx.String("svc", "notify")))

	lookupTimeout, err := config.ParseDurationField("reconcile.lookup_timeout", cfg.Reconcile.LookupTimeout)
	if err != nil {
		objStore.Close()
		subsStore.Close()
		return err
	}
	runTimeout, err := config.ParseDurationField("reconcile.run_timeout", cfg.Reconcile.RunTimeout)
	if err != nil {
		objStore.Close()
		subsStore.Close()
		return err
	}

	cacheStore := cache.New(objStore, a.log.With(logx.String("svc", "cache")))
	engine := reconcile.NewEngine(reconcile.Config{
		LookupWorkers:  cfg.Reconcile.LookupWorkers,
		FanoutWorkers:  fanoutWorkers,
		LookupTimeout:  lookupTimeout,
		FilterKeywords: cfg.Reconcile.FilterKeywords,
	}, cacheStore, subsStore, feedClient, a.cat, pusher, a.log.With(logx.String("svc", "reconcile")))

	a.objStore = objStore
	a.subsStore = subsStore
	a.cache = cacheStore
	a.engine = engine
	a.runTimeout = runTimeout
	a.schedule = cfg.Reconcile.Schedule
	a.built = true
	return nil
}

// RunOnce executes a single reconciliation and tears down. Used with an
// external scheduler.
func (a *App) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	if err := a.build(ctx); err != nil {
		return reconcile.Summary{}, err
	}
	runCtx := ctx
	if a.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.runTimeout)
		defer cancel()
	}
	return a.engine.Run(runCtx)
}

// Start brings the daemon up: stores, scheduler, config watcher, readiness.
func (a *App) Start(ctx context.Context) error {
	if err := a.build(ctx); err != nil {
		return err
	}

	cfg := a.mgr.Get()

	if a.schedule != "" {
		a.sched = newScheduler(schedulerConfig{
			Timezone: cfg.Reconcile.Timezone,
			Workers:  1,
		}, a.log.With(logx.String("svc", "scheduler")))
		a.sched.Start(ctx)
		err := a.sched.AddCron("reconcile", a.schedule, a.runTimeout, func(jobCtx context.Context) error {
			_, err := a.engine.Run(jobCtx)
			return err
		})
		if err != nil {
			a.sched.Stop()
			return fmt.Errorf("register schedule %q: %w", a.schedule, err)
		}
	} else {
		a.log.Warn("no schedule configured; daemon will idle (use -once for external triggers)")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.mgr.Watch(watchCtx)
	}()
	updates := a.mgr.Subscribe(1)
	go func() {
		defer a.wg.Done()
		defer a.mgr.Unsubscribe(updates)
		a.applyUpdates(watchCtx, updates, cfg)
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("started",
		logx.String("schedule", a.schedule),
		logx.Int("feed_endpoints", len(cfg.Feed.Endpoints)),
		logx.Int("catalog_routes", a.cat.Len()))
	return nil
}

// applyUpdates consumes reloaded configs. Only the hot-swappable parts are
// applied in place; everything else logs a restart hint.
func (a *App) applyUpdates(ctx context.Context, updates chan *config.Config, last *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeChange(last, next)
			if len(sections) == 0 {
				continue
			}
			a.log.Info("config reloaded", attrs...)

			a.logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
			})
			a.engine.SetFilterKeywords(next.Reconcile.FilterKeywords)

			for _, s := range sections {
				switch s {
				case "logging", "reconcile":
				default:
					a.log.Warn("config section needs a restart to take effect", logx.String("section", s))
				}
			}
			last = next
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.cancelWatch != nil {
		a.cancelWatch()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	a.log.Info("stopped")
	a.Close()
	return nil
}

// Close releases the stores and the log sinks. Safe to call more than once.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subsStore != nil {
		_ = a.subsStore.Close()
		a.subsStore = nil
	}
	if a.objStore != nil {
		_ = a.objStore.Close()
		a.objStore = nil
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}
