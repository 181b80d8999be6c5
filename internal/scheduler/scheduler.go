package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/internal/clock"
	dialerdomain "github.com/smallbiznis/insightzen/internal/dialer/domain"
	obsmetrics "github.com/smallbiznis/insightzen/internal/observability/metrics"
	"github.com/smallbiznis/insightzen/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobExpireAssignments = "expire_assignments"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log    *zap.Logger
	Dialer dialerdomain.Service
	Leader *ratelimit.LeaderLock `optional:"true"`
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config Config `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	dialer dialerdomain.Service
	leader *ratelimit.LeaderLock
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Dialer == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:    p.Config.withDefaults(),
		genID:  p.GenID,
		clock:  p.Clock,
		dialer: p.Dialer,
		leader: p.Leader,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every scheduled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobExpireAssignments, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireAssignmentsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireAssignmentsJob expires overdue reservations in batches until a short
// batch comes back. Only the replica holding the leader lock does any work.
func (s *Scheduler) ExpireAssignmentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireAssignments, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	release, ok, err := s.leader.Acquire(ctx, JobExpireAssignments, s.cfg.LeaderTTL)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.leader.failed", JobExpireAssignments, err)
		return err
	}
	if !ok {
		schedMetrics.IncBatchDeferred(JobExpireAssignments, obsmetrics.SchedulerBatchDeferredReasonNotLeader)
		s.logger(ctx).Debug("scheduler.leader.skipped", zap.String("job", JobExpireAssignments))
		return nil
	}
	defer release(context.WithoutCancel(ctx))

	now := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		expired, err := s.dialer.ExpireStale(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.expire.failed", JobExpireAssignments, err)
			return err
		}
		run.AddProcessed(expired)
		schedMetrics.AddBatchProcessed(JobExpireAssignments, obsmetrics.LockResourceStaleAssignments, expired)
		if expired == 0 {
			schedMetrics.IncBatchDeferred(JobExpireAssignments, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
		}
		if expired < s.cfg.BatchSize {
			return nil
		}
	}
}
