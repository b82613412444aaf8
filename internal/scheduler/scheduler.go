// Package scheduler runs background maintenance jobs. Its only job scans for
// intervals that were stored but never reconciled with the billing provider:
// ambiguous report timeouts, failed reconciles and failed compensations. It
// reports them; it never retries a report or deletes a record.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/timesync/internal/clock"
	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	obsmetrics "github.com/smallbiznis/timesync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobScanUnreconciled = "scan_unreconciled"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	Intervals intervaldomain.Repository
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config                       `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	intervals intervaldomain.Repository
	metrics   *obsmetrics.SchedulerMetrics
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Stale     int64
	Oldest    *intervaldomain.Record
	OldestAge time.Duration
	Sampled   []intervaldomain.Record
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Intervals == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		intervals: p.Intervals,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.metrics.ObserveRunLoopLag(s.clock.Now().Sub(nextRun))
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.ScanUnreconciledJob(ctx)
	return err
}

// ScanUnreconciledJob counts stale unreconciled intervals, publishes the
// backlog gauge and logs a sample for manual remediation.
func (s *Scheduler) ScanUnreconciledJob(parent context.Context) (ScanResult, error) {
	var result ScanResult
	err := s.runJob(parent, JobScanUnreconciled, func(ctx context.Context, run *jobRun) error {
		now := s.clock.Now()
		cutoff := now.Add(-s.cfg.StaleAfter)

		count, err := s.intervals.CountUnreconciled(ctx, cutoff)
		if err != nil {
			return err
		}
		result.Stale = count
		if count == 0 {
			s.metrics.SetUnreconciled(0, 0)
			return nil
		}

		sample, err := s.intervals.ListUnreconciled(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		result.Sampled = sample
		run.AddProcessed(len(sample))
		if len(sample) > 0 {
			oldest := sample[0]
			result.Oldest = &oldest
			result.OldestAge = now.Sub(oldest.CreatedAt)
		}
		s.metrics.SetUnreconciled(count, result.OldestAge)

		log := s.logger(ctx).With(zap.String("run_id", run.runID))
		for _, r := range sample {
			s.logUnreconciled(log, r, now)
		}
		log.Warn("unreconciled intervals need remediation",
			zap.Int64("stale_count", count),
			zap.Duration("stale_after", s.cfg.StaleAfter),
			zap.Duration("oldest_age", result.OldestAge),
		)
		return nil
	})
	return result, err
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context, run *jobRun) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(name, s.cfg.BatchSize)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	outcome := obsmetrics.JobOutcomeOK
	if err != nil {
		outcome = obsmetrics.JobOutcomeError
		s.logSchedulerError(ctx, run, "scheduler.job.failed", err)
	}
	s.metrics.ObserveJob(name, outcome, time.Since(start))
	s.logJobFinish(ctx, run)
	return err
}
