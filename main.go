package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"watchsync/api"
	"watchsync/config"
	"watchsync/handlers"
	"watchsync/logging"
	"watchsync/models"
	"watchsync/services/metrics"
	"watchsync/services/orchestrator"
	"watchsync/services/plex"
	"watchsync/services/provider"
	"watchsync/services/scheduler"
	"watchsync/services/simkl"
	"watchsync/services/snapshot"
	"watchsync/services/stats"
	"watchsync/services/watchlist"
)

var version = "dev"

const logBufferLines = 3000

func main() {
	syncOnce := flag.Bool("sync", false, "run one sync and exit with its exit code")
	flag.Bool("serve", true, "serve the HTTP API and run the scheduler (default)")
	resetState := flag.Bool("reset-state", false, "remove the stored snapshot and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	configFlag := flag.String("config", "", "path to the settings file")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	_ = godotenv.Load()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("WATCHSYNC_CONFIG")
	}
	if configPath == "" {
		configPath = "config/config.json"
	}

	fs := afero.NewOsFs()
	store, err := config.NewStore(config.NewManagerWithFs(fs, configPath))
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	settings := store.Snapshot()

	buffers := logging.NewBuffers(logBufferLines)
	logger, err := logging.New(logging.Options{
		Log:     settings.Log,
		Debug:   settings.Runtime.Debug,
		Buffers: buffers,
	})
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	snapshots := snapshot.NewStore(fs, settings.StatePath(snapshot.FileName), logger)
	if *resetState {
		if err := snapshots.Reset(); err != nil {
			logger.Error().Err(err).Msg("reset state failed")
			os.Exit(models.ExitUnexpected)
		}
		fmt.Printf("Snapshot removed: %s\n", snapshots.Path())
		return
	}

	statsSvc := stats.NewService(fs, settings.StatePath(stats.FileName), logger)
	summaries, err := orchestrator.NewSummaryStore(fs, settings.StatePath("summaries"), settings.Runtime.SummaryKeep, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open summary store")
	}

	recorder := metrics.New(settings.Metrics.Enabled, prometheus.NewRegistry())
	factory := providerFactory(store, logger)

	syncSvc := orchestrator.NewService(orchestrator.Options{
		Settings:  store,
		Providers: factory,
		Snapshots: snapshots,
		Stats:     statsSvc,
		Summaries: summaries,
		Metrics:   recorder,
		Version:   version,
		Logger:    logger,
	})

	if *syncOnce {
		os.Exit(runOnce(syncSvc, logger))
	}

	fmt.Printf("watchsync %s starting\n", version)

	wl := watchlist.NewService(watchlist.Options{
		Fs:        fs,
		Path:      settings.StatePath(watchlist.HideFileName),
		Snapshots: snapshots,
		Stats:     statsSvc,
		Settings:  store,
		Providers: factory,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewService(store, syncSvc, logger)
	sched.Start(ctx)

	r := api.NewRouter(api.Handlers{
		Version:    version,
		Sync:       handlers.NewSyncHandler(syncSvc, summaries, snapshots, logger),
		Scheduling: handlers.NewSchedulingHandler(store, sched),
		Settings:   handlers.NewSettingsHandler(store, logger),
		Stats:      handlers.NewStatsHandler(statsSvc),
		Watchlist:  handlers.NewWatchlistHandler(wl),
		Auth:       handlers.NewAuthHandler(store, factory, provider.NewProbeCache(), syncSvc),
		Logs:       handlers.NewLogsHandler(buffers),
		Metrics:    recorder,
	})

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// event streams stay open
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := syncSvc.Cancel(); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		logger.Warn().Err(err).Msg("cancel running sync")
	}
	sched.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("shutdown complete")
}

// providerFactory builds fresh adapters from each run's settings. Refreshed
// SIMKL tokens are written back through the store.
func providerFactory(store *config.Store, logger zerolog.Logger) provider.Factory {
	saveTokens := func(access, refresh string, expiresAt int64) error {
		_, err := store.Update(func(s *config.Settings) error {
			s.Simkl.AccessToken = access
			if refresh != "" {
				s.Simkl.RefreshToken = refresh
			}
			s.Simkl.TokenExpiresAt = expiresAt
			return nil
		})
		return err
	}
	return func(s config.Settings) (map[models.Side]provider.Provider, error) {
		return map[models.Side]provider.Provider{
			models.SidePlex:  plex.NewClient(s.Plex, logger),
			models.SideSimkl: simkl.NewClient(s.Simkl, saveTokens, logger),
		}, nil
	}
}

func runOnce(svc *orchestrator.Service, logger zerolog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = svc.Cancel()
	}()

	summary, err := svc.Run(ctx, "cli")
	if err != nil {
		logger.Error().Err(err).Msg("sync did not start")
		return models.ExitUnexpected
	}
	code := models.ExitUnexpected
	if summary.ExitCode != nil {
		code = *summary.ExitCode
	}
	fmt.Printf("sync %s result=%s exit=%d\n", summary.Status, summary.Result, code)
	return code
}
