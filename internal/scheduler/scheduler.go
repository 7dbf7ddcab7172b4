package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/auditcontext"
	"github.com/smallbiznis/stockopname/internal/clock"
	obsmetrics "github.com/smallbiznis/stockopname/internal/observability/metrics"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	scheduledomain "github.com/smallbiznis/stockopname/internal/schedule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobSessionReminders  = "session_reminders"
	JobScheduleReminders = "schedule_reminders"
	JobCounterRepair     = "counter_repair"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Opname    opnamedomain.Service
	Schedules scheduledomain.Service
	Locker    JobLocker `optional:"true"`
	Config    Config    `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	opname    opnamedomain.Service
	schedules scheduledomain.Service
	locker    JobLocker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Opname == nil || p.Schedules == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		opname:    p.Opname,
		schedules: p.Schedules,
		locker:    p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	schedMetrics := obsmetrics.Scheduler()

	if s.locker != nil {
		release, err := s.locker.Obtain(parent, name, s.cfg.LockTTL)
		if errors.Is(err, ErrJobLockHeld) {
			schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
			s.log.Debug("job skipped, lock held elsewhere", zap.String("job", name))
			return nil
		}
		if err != nil {
			// Redis being down must not stop reminders; claims are idempotent.
			s.log.Warn("job lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		} else {
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := release(releaseCtx); err != nil {
					s.log.Debug("job lock release failed", zap.String("job", name), zap.Error(err))
				}
			}()
		}
	}

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

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

// RunOnce runs every enabled job a single time. Job errors are joined so
// one failing job never blocks the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobSessionReminders, s.SessionRemindersJob},
		{JobScheduleReminders, s.ScheduleRemindersJob},
		{JobCounterRepair, s.CounterRepairJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
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

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// SessionRemindersJob notifies assignees of draft sessions that start within
// the configured reminder lead.
func (s *Scheduler) SessionRemindersJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	sent, err := s.opname.SendSessionReminders(ctx, s.cfg.BatchSize)
	run.AddProcessed(sent)
	obsmetrics.Scheduler().AddBatchProcessed(JobSessionReminders, "session", sent)
	if err != nil {
		s.logSchedulerError(ctx, run, "session reminders failed", JobSessionReminders, err)
		return err
	}
	return nil
}

// ScheduleRemindersJob covers two run intervals so a late tick does not
// drop a reminder; the reminder log keeps delivery at most once per day.
func (s *Scheduler) ScheduleRemindersJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	sent, err := s.schedules.SendScheduleReminders(ctx, 2*s.cfg.RunInterval)
	run.AddProcessed(sent)
	obsmetrics.Scheduler().AddBatchProcessed(JobScheduleReminders, "schedule", sent)
	if err != nil {
		s.logSchedulerError(ctx, run, "schedule reminders failed", JobScheduleReminders, err)
		return err
	}
	return nil
}

// CounterRepairJob recomputes cached counters for sessions whose counters
// disagree with their ledgers.
func (s *Scheduler) CounterRepairJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	repaired, err := s.opname.RepairDriftedCounters(ctx, s.cfg.BatchSize)
	run.AddProcessed(repaired)
	obsmetrics.Scheduler().AddBatchProcessed(JobCounterRepair, "session", repaired)
	if err != nil {
		s.logSchedulerError(ctx, run, "counter repair failed", JobCounterRepair, err)
		return err
	}
	return nil
}
