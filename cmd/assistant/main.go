package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"ctf-assistant/internal/analytics"
	"ctf-assistant/internal/bot"
	"ctf-assistant/internal/config"
	"ctf-assistant/internal/dashboard"
	"ctf-assistant/internal/integrations"
	"ctf-assistant/internal/modules/audit"
	"ctf-assistant/internal/notify"
	"ctf-assistant/internal/platform"
	"ctf-assistant/internal/poller"
	"ctf-assistant/internal/storage"
	"ctf-assistant/internal/utils"
)

type cmdOptions struct {
	Config   string `long:"config" short:"c" description:"Path to the YAML config file (defaults to CONFIG_PATH, then config.yaml)"`
	NoPoller bool   `long:"no-poller" description:"Run without the donation poller even if it is enabled in config"`
}

func main() {
	var opts cmdOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.LoadFrom(opts.Config)
	if err != nil {
		panic(err)
	}
	if opts.NoPoller {
		cfg.Poller.Enabled = false
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := storage.New(connectCtx, cfg.MongoURI)
	if err != nil {
		cancelConnect()
		logger.Fatal("storage init failed", zap.Error(err))
	}
	if err := store.EnsureIndexes(connectCtx); err != nil {
		cancelConnect()
		logger.Fatal("index setup failed", zap.Error(err))
	}
	cancelConnect()

	interval := time.Duration(cfg.Poller.IntervalSeconds) * time.Second
	skew := time.Duration(cfg.Poller.SkewMarginSeconds) * time.Second
	auditLogger := audit.NewLogger(store, logger)
	service := integrations.NewService(store, auditLogger, logger)
	// The stored checkpoint trails the clock by the skew margin.
	stats := analytics.New(store, 3*interval+skew)

	registry := bot.NewRegistry(logger)
	botSvc, err := bot.New(cfg, logger, registry)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		Color:       cfg.Notifications.EmbedColor,
		Currency:    cfg.Notifications.Currency,
		BurstLimit:  cfg.Notifications.BurstLimit,
		BurstWindow: time.Duration(cfg.Notifications.BurstWindowSeconds) * time.Second,
	}, notify.SessionSender{Session: botSvc.Session()}, logger)

	source := platform.New(platform.Options{
		BaseURL:    cfg.Platform.BaseURL,
		Timeout:    time.Duration(cfg.Poller.RequestTimeoutSeconds) * time.Second,
		MaxRetries: cfg.Poller.MaxRetries,
	})
	donationPoller := poller.New(poller.Config{
		Interval:   interval,
		PageSize:   cfg.Poller.PageSize,
		MaxPages:   cfg.Poller.MaxPages,
		SkewMargin: skew,
	}, store, source, dispatcher, logger)

	donations := bot.NewDonationCommand(service, stats, dispatcher, logger)
	for _, cmd := range []bot.Command{bot.NewPingCommand(time.Now()), donations} {
		if err := registry.Register(cmd); err != nil {
			logger.Fatal("command registration failed", zap.Error(err))
		}
	}
	if err := registry.RegisterComponent(bot.RemovePrefix, donations); err != nil {
		logger.Fatal("component registration failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pollerRunning := false
	var pollerLock *utils.InstanceLock
	if cfg.Poller.Enabled {
		pollerLock = acquirePollerLock(cfg.Poller.LockPath, logger)
		pollerRunning = pollerLock != nil
	}

	done := make(chan struct{}, 2)
	if pollerRunning {
		go func() {
			donationPoller.Run(ctx)
			done <- struct{}{}
		}()
	}

	if cfg.Dashboard.Enabled {
		// Manual checks would race the process that holds the poller lock.
		var checker dashboard.Checker
		if pollerRunning {
			checker = donationPoller
		}
		web, err := dashboard.New(dashboard.Options{
			Config:       cfg.Dashboard,
			Env:          cfg.Env,
			Integrations: service,
			Analytics:    stats,
			Checker:      checker,
			Logger:       logger,
		})
		if err != nil {
			logger.Fatal("dashboard init failed", zap.Error(err))
		}
		go func() {
			if err := web.Run(ctx); err != nil {
				logger.Error("dashboard server error", zap.Error(err))
			}
			done <- struct{}{}
		}()
	}

	var server *http.Server
	if cfg.Health.Enabled {
		router := mux.NewRouter()
		router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(pingCtx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("storage unavailable"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}).Methods(http.MethodGet)
		server = &http.Server{Addr: cfg.Health.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	waitFor(shutdownCtx, done, pollerRunning, cfg.Dashboard.Enabled)
	if pollerLock != nil {
		if err := pollerLock.Unlock(); err != nil {
			logger.Warn("poller lock release failed", zap.Error(err))
		}
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("storage close failed", zap.Error(err))
	}
}

// acquirePollerLock keeps a second process on the same host from polling the
// same integrations. Nil means the poller should stay off.
func acquirePollerLock(path string, logger *zap.Logger) *utils.InstanceLock {
	lock, err := utils.NewInstanceLock(path)
	if err != nil {
		logger.Warn("poller lock unavailable, poller disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	if err := lock.TryLock(); err != nil {
		logger.Warn("poller already running elsewhere, poller disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	logger.Info("poller lock acquired", zap.String("path", lock.Path()))
	return lock
}

func waitFor(ctx context.Context, done <-chan struct{}, workers ...bool) {
	for _, running := range workers {
		if !running {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}
