package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/scheduler"
	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// SnapshotStore persists learner state between restarts
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot map[string]*types.VenuePerformance) error
	LoadSnapshot(ctx context.Context) (map[string]*types.VenuePerformance, error)
}

// JobsConfig sets the background task schedules. A zero interval disables the task.
type JobsConfig struct {
	HealthInterval   time.Duration `mapstructure:"health_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	LearningInterval time.Duration `mapstructure:"learning_interval"`
	MinSamples       int64         `mapstructure:"min_samples"`
	TrendInterval    time.Duration `mapstructure:"trend_interval"`
	TrendWindow      time.Duration `mapstructure:"trend_window"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	DailyReset       string        `mapstructure:"daily_reset"`
	ResumeInterval   time.Duration `mapstructure:"resume_interval"`
}

// DefaultJobsConfig returns the default schedules
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		HealthInterval:   30 * time.Second,
		StaleAfter:       2 * time.Minute,
		LearningInterval: time.Minute,
		MinSamples:       router.DefaultMinSamples,
		TrendInterval:    5 * time.Minute,
		TrendWindow:      time.Hour,
		SnapshotInterval: 5 * time.Minute,
		DailyReset:       "0 0 * * *",
		ResumeInterval:   30 * time.Second,
	}
}

// Job names
const (
	JobVenueHealth  = "venue-health"
	JobLearning     = "learning-pass"
	JobQualityTrend = "quality-trend"
	JobSnapshot     = "learner-snapshot"
	JobDailyReset   = "daily-reset"
	JobResume       = "resume-partials"
)

type intervalJob struct {
	name     string
	interval time.Duration
	job      scheduler.Job
}

// Schedule registers the engine's background tasks. store may be nil.
func (e *Engine) Schedule(s *scheduler.Scheduler, cfg JobsConfig, store SnapshotStore) error {
	jobs := []intervalJob{
		{JobVenueHealth, cfg.HealthInterval, e.venueHealthJob(cfg.StaleAfter)},
		{JobLearning, cfg.LearningInterval, e.learningJob(cfg.MinSamples)},
		{JobQualityTrend, cfg.TrendInterval, e.trendJob(cfg.TrendWindow)},
		{JobResume, cfg.ResumeInterval, e.resumeJob()},
	}
	if store != nil {
		jobs = append(jobs, intervalJob{JobSnapshot, cfg.SnapshotInterval, e.snapshotJob(store)})
	}

	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		if err := s.Every(j.name, j.interval, j.job); err != nil {
			return err
		}
	}
	if cfg.DailyReset != "" {
		if err := s.Add(JobDailyReset, cfg.DailyReset, func(context.Context) error {
			e.ResetDailyCounters()
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// RestoreLearner loads persisted learner state, if any
func (e *Engine) RestoreLearner(ctx context.Context, store SnapshotStore) error {
	snapshot, err := store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load learner snapshot: %w", err)
	}
	if len(snapshot) > 0 {
		e.learner.Restore(snapshot)
	}
	return nil
}

func (e *Engine) venueHealthJob(staleAfter time.Duration) scheduler.Job {
	return func(context.Context) error {
		if staleAfter <= 0 {
			return nil
		}
		if stale := e.registry.MarkStale(staleAfter); len(stale) > 0 {
			e.logger.WithField("venues", stale).Warn("Venues degraded for missing health reports")
		}
		return nil
	}
}

func (e *Engine) learningJob(minSamples int64) scheduler.Job {
	return func(context.Context) error {
		e.learner.ApplyToRegistry(e.registry, minSamples)
		return nil
	}
}

func (e *Engine) trendJob(window time.Duration) scheduler.Job {
	return func(context.Context) error {
		if window <= 0 {
			window = time.Hour
		}
		t := e.quality.Trend(window)
		e.logger.WithFields(logrus.Fields{
			"window":          window.String(),
			"reports":         t.Count,
			"mean_score":      t.MeanScore,
			"min_score":       t.MinScore,
			"mean_slippage":   t.MeanSlippageBps,
			"alerts":          t.Alerts,
			"running_average": t.RunningAverage,
		}).Info("Execution quality trend")
		return nil
	}
}

func (e *Engine) snapshotJob(store SnapshotStore) scheduler.Job {
	return func(ctx context.Context) error {
		snapshot := e.learner.Snapshot()
		if len(snapshot) == 0 {
			return nil
		}
		if err := store.SaveSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to save learner snapshot: %w", err)
		}
		return nil
	}
}

func (e *Engine) resumeJob() scheduler.Job {
	return func(ctx context.Context) error {
		if n := e.resumePartials(ctx); n > 0 {
			e.logger.WithField("orders", n).Info("Partial orders completed")
		}
		return nil
	}
}
