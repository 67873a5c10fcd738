package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mExOms/sor/internal/config"
	"github.com/mExOms/sor/internal/engine"
	"github.com/mExOms/sor/internal/execution"
	"github.com/mExOms/sor/internal/intake"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/internal/storage"
	natsclient "github.com/mExOms/sor/pkg/nats"
	"github.com/sirupsen/logrus"
)

// closers are run in reverse order on shutdown
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildAdapter(cfg config.ExecutionConfig, logger *logrus.Logger) execution.Adapter {
	if cfg.Adapter == "binance" {
		return execution.NewBinance(cfg.Binance, monitor.Component(logger, "binance-adapter"))
	}
	sim := cfg.Simulator
	if sim.Seed == 0 {
		sim.Seed = time.Now().UnixNano()
	}
	return execution.NewSimulator(sim, monitor.Component(logger, "simulator"))
}

// buildNATS connects when notify.nats is enabled; the notifier and the intake share it
func buildNATS(cfg config.NATSConfig, logger *logrus.Logger, health *monitor.HealthChecker, cl *closers) (*natsclient.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	nc := cfg.Config
	client, err := natsclient.NewClient(&nc, monitor.Component(logger, "nats"))
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	cl.add(client.Close)
	health.RegisterCheck("nats", monitor.PingHealthCheck(func(context.Context) error {
		if !client.Connected() {
			return fmt.Errorf("not connected")
		}
		return nil
	}))
	return client, nil
}

func buildNotifier(cfg config.NotifyConfig, client *natsclient.Client, logger *logrus.Logger, cl *closers) (notify.Notifier, error) {
	var sinks notify.Multi
	if cfg.Log {
		sinks = append(sinks, notify.NewLog(monitor.Component(logger, "events")))
	}
	if client != nil {
		sinks = append(sinks, notify.NewNATS(client, cfg.NATS.ClientID))
	}
	if cfg.Kafka.Enabled {
		k, err := notify.NewKafka(cfg.Kafka.KafkaConfig)
		if err != nil {
			return nil, fmt.Errorf("kafka notifier: %w", err)
		}
		cl.add(func() {
			if err := k.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close kafka writer")
			}
		})
		sinks = append(sinks, k)
	}
	if len(sinks) == 0 {
		return notify.Nop{}, nil
	}
	return sinks, nil
}

func buildSnapshotStore(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger, health *monitor.HealthChecker, cl *closers) (engine.SnapshotStore, error) {
	switch cfg.Type {
	case "file":
		return storage.NewFileStore(cfg.File, monitor.Component(logger, "storage"))
	case "redis":
		store, err := storage.NewRedisStore(ctx, cfg.Redis, monitor.Component(logger, "storage"))
		if err != nil {
			return nil, err
		}
		cl.add(func() { store.Close() })
		health.RegisterCheck("redis", monitor.PingHealthCheck(store.Ping))
		return store, nil
	}
	return nil, nil
}

var _ intake.Service = (*engine.Engine)(nil)

// startIntake subscribes the engine to inbound NATS subjects
func startIntake(ctx context.Context, cfg config.IntakeConfig, client *natsclient.Client, eng *engine.Engine, logger *logrus.Logger, cl *closers) error {
	if !cfg.Enabled || client == nil {
		return nil
	}
	in := intake.New(eng, cfg.Config, monitor.Component(logger, "intake"))
	if err := in.Start(ctx, client); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	cl.add(func() {
		if err := in.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop intake")
		}
	})
	return nil
}
