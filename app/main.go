package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/api"
	"github.com/lysyi3m/xtream-catalog/app/cache"
	"github.com/lysyi3m/xtream-catalog/app/catalog"
	"github.com/lysyi3m/xtream-catalog/app/cfg"
	"github.com/lysyi3m/xtream-catalog/app/database"
	"github.com/lysyi3m/xtream-catalog/app/epg"
	"github.com/lysyi3m/xtream-catalog/app/metrics"
	"github.com/lysyi3m/xtream-catalog/app/profile"
	"github.com/lysyi3m/xtream-catalog/app/tasks"
	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Xtream Catalog server", "version", appCfg.Version)

	slog.Info("Opening database", "path", appCfg.DBPath)
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "migration_version", version, "dirty", dirty)

	registry := profile.NewRegistry(appCfg.ProfilesDir)
	if err := registry.Run(); err != nil {
		slog.Error("Failed to load profiles", "dir", appCfg.ProfilesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded portal profiles", "count", registry.Count(), "enabled", len(registry.GetEnabledProfiles()))

	var redisCache *cache.Cache
	if appCfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err = cache.NewCache(ctx, appCfg.RedisURL)
		cancel()
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		slog.Info("Cross-process sync locking enabled")
	}

	appMetrics := metrics.New()

	client := xtream.NewClient(xtream.ClientOptions{
		Timeout:   appCfg.RequestTimeoutDuration(),
		UserAgent: appCfg.UserAgent,
		RateLimit: appCfg.RateLimit,
		Observer:  appMetrics.ObservePortalRequest,
	})

	catalogRepo := database.NewCatalogRepository(db)

	syncOpts := catalog.Options{Metrics: appMetrics}
	if redisCache != nil {
		syncOpts.Lock = redisCache
	}
	syncer := catalog.NewSyncer(catalogRepo, client, catalog.NewLocks(), syncOpts)

	resolver := epg.NewResolver(catalogRepo, epg.Options{Abbreviations: appCfg.EpgAbbreviationMatch})
	hub := catalog.NewHub()

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.SchedulerIntervalDuration().String())
	scheduler := tasks.NewScheduler(registry, syncer, hub, appMetrics, tasks.SchedulerConfig{
		WorkerCount: appCfg.WorkerCount,
		Interval:    appCfg.SchedulerIntervalDuration(),
		TaskTimeout: appCfg.TaskTimeoutDuration(),
	})
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(api.Dependencies{
		Profiles:  registry,
		Catalog:   catalogRepo,
		Library:   database.NewLibraryRepository(db),
		Cache:     database.NewCacheRepository(db),
		Client:    client,
		Syncer:    syncer,
		Resolver:  resolver,
		Scheduler: scheduler,
		Hub:       hub,
		Metrics:   appMetrics,
		DB:        db,
		Redis:     redisCache,
		Version:   appCfg.Version,
	})
	server := api.NewServer(handler, appCfg.APIAccessKey)

	// No write timeout: inline syncs and event streams outlive it
	httpServer := &http.Server{
		Addr:        ":" + appCfg.Port,
		Handler:     server,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		slog.Info("Endpoints available",
			"health", fmt.Sprintf("http://localhost:%s/health", appCfg.Port),
			"metrics", fmt.Sprintf("http://localhost:%s/metrics", appCfg.Port),
			"profiles", fmt.Sprintf("http://localhost:%s/api/profiles", appCfg.Port))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Xtream Catalog server started")

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Scheduler and connections are closed via defer
	slog.Info("Xtream Catalog server shutdown complete")
}
