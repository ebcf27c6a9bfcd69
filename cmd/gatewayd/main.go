package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gengate/internal/comfy"
	"gengate/internal/feed"
	"gengate/internal/http/handlers"
	httpapi "gengate/internal/http/httpapi"
	"gengate/internal/infra"
	"gengate/internal/jobstore"
	"gengate/internal/poll"
	"gengate/internal/resolve"
	"gengate/internal/submit"
	"gengate/internal/workflow"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	store, err := jobstore.NewClient(jobstore.Options{
		BaseURL: cfg.JobStoreBaseURL,
		APIKey:  cfg.JobStoreAPIKey,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure job store client")
	}

	engine := comfy.NewClient(comfy.Options{Logger: &logger})

	registry, err := workflow.NewRegistry()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load workflow templates")
	}

	monitor := poll.NewMonitor(poll.Options{
		Engine:   engine,
		Interval: cfg.PollInterval,
		Logger:   &logger,
	})
	resolver := resolve.NewResolver(store, &logger)
	adapter := submit.NewAdapter(engine, store, registry, &logger)
	pipeline := submit.NewPipeline(submit.PipelineOptions{
		Adapter:      adapter,
		Watcher:      monitor,
		Finisher:     resolver,
		VideoTimeout: cfg.VideoPollTimeout,
		ImageTimeout: cfg.ImagePollTimeout,
		Logger:       &logger,
	})

	aggregator := feed.NewAggregator(store, cfg.FeedFetchFactor, &logger)

	// trackCtx outlives requests; cancelled only during shutdown so in-flight
	// trackers can finalize their records first.
	trackCtx, stopTracking := context.WithCancel(context.Background())

	app := &handlers.App{
		Cfg:      cfg,
		Logger:   &logger,
		Pipeline: pipeline,
		Engine:   engine,
		Records:  store,
		Feed:     aggregator,
		Registry: registry,
		TrackCtx: trackCtx,
	}

	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	// background refresher keeps the merged feed warm: its snapshots drive
	// the refresh/stale-drop metrics and the heartbeat log below, and flag
	// partial pages before any client notices
	refresher := feed.NewRefresher(aggregator, feed.Query{Limit: 50}, cfg.FeedRefresh, &logger)
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	go refresher.Run(refreshCtx)
	go func() {
		for snapshot := range refresher.Updates() {
			ev := logger.Debug()
			if snapshot.Partial {
				ev = logger.Warn()
			}
			ev.Uint64("seq", snapshot.Seq).
				Int("items", len(snapshot.Items)).
				Bool("partial", snapshot.Partial).
				Msg("feed refreshed")
		}
	}()

	go func() {
		logger.Info().Msgf("gateway listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	stopRefresh()
	stopTracking()
	pipeline.Wait()
	logger.Info().Msg("gateway stopped")
}
