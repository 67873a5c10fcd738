package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mExOms/sor/internal/config"
	"github.com/mExOms/sor/internal/engine"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/scheduler"
	"github.com/mExOms/sor/internal/storage"
	"github.com/mExOms/sor/internal/venue"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logger, err := monitor.NewLogger(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create logger")
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped with error")
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer cl.run()

	metrics := monitor.NewMetrics()
	health := monitor.NewHealthChecker(cfg.Server.Version, 5*time.Second)

	natsClient, err := buildNATS(cfg.Notify.NATS, logger, health, &cl)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg.Notify, natsClient, logger, &cl)
	if err != nil {
		return err
	}
	store, err := buildSnapshotStore(ctx, cfg.Storage, logger, health, &cl)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.Engine(), buildAdapter(cfg.Execution, logger),
		monitor.Component(logger, "engine"),
		engine.WithNotifier(notifier),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	cl.add(eng.Close)

	if cfg.Venues.Catalog != "" {
		n, err := venue.LoadCatalog(cfg.Venues.Catalog, eng.Registry())
		if err != nil {
			return err
		}
		logger.WithField("venues", n).Info("Venue catalogue loaded")
	}
	if store != nil {
		if err := eng.RestoreLearner(ctx, store); err != nil {
			logger.WithError(err).Warn("Starting with empty learner state")
		}
	}

	health.RegisterCheck("venues", monitor.VenueHealthCheck(eng.Registry().Counts))
	health.RegisterCheck("breaker", monitor.BreakerHealthCheck(func() string {
		return string(eng.Breaker().State())
	}))

	sched := scheduler.New(monitor.Component(logger, "scheduler"))
	if err := eng.Schedule(sched, cfg.Jobs, store); err != nil {
		return err
	}
	if fs, ok := store.(*storage.FileStore); ok {
		if err := sched.Add("snapshot-cleanup", "@daily", func(context.Context) error {
			_, err := fs.CleanupOldFiles()
			return err
		}); err != nil {
			return err
		}
	}
	sched.Start()

	if err := startIntake(ctx, cfg.Intake, natsClient, eng, logger, &cl); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.HTTPHandler())
	mux.HandleFunc("/stats", statsHandler(eng.Stats, logger))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Scheduler did not stop cleanly")
		}
		if store != nil {
			if err := store.SaveSnapshot(shutdownCtx, eng.Learner().Snapshot()); err != nil {
				logger.WithError(err).Warn("Failed to save learner snapshot")
			}
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func statsHandler(stats func() engine.Stats, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats()); err != nil {
			logger.WithError(err).Warn("Failed to write stats response")
		}
	}
}
