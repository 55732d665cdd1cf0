package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"camwatch/internal/jobs"
	"camwatch/pkg/logger"
	"camwatch/pkg/reconciler"
	mysqlstore "camwatch/pkg/store/mysql"
)

const (
	eventRetention        = 7 * 24 * time.Hour
	eventRetentionLockKey = "camwatch:event-retention-lock"
)

// initJobs registers background jobs. withCycles is false when asynq drives
// reconcile and sweep.
func (app *Application) initJobs(withCycles bool) error {
	manager := jobs.NewManager(app.ctx)

	if withCycles {
		manager.Register(&jobs.FuncJob{
			JobName:     "reconcile",
			JobInterval: app.config.Scheduler.Interval(),
			Fn:          app.reconcilerMgr.RunScheduled,
		})
		if app.config.Sweeper.Enabled {
			manager.Register(&jobs.FuncJob{
				JobName:     "orphan-sweep",
				JobInterval: app.config.Sweeper.Interval(),
				Fn:          app.reconcilerMgr.SweepScheduled,
			})
		}
	}

	if app.mysqlRepo != nil {
		var redisClient *redis.Client
		if app.redisClient != nil {
			redisClient = app.redisClient.GetClient()
		}
		lock := reconciler.NewRedisDistributedLock(redisClient, eventRetentionLockKey)
		manager.Register(newEventRetentionJob(24*time.Hour, app.mysqlRepo.ReconcileEvent, lock))
	}

	if len(manager.Jobs()) > 0 {
		app.jobsManager = manager
	}
	return nil
}

// eventRetentionJob deletes audit events past the retention period
type eventRetentionJob struct {
	interval        time.Duration
	repo            *mysqlstore.ReconcileEventRepository
	distributedLock reconciler.DistributedLock
}

func newEventRetentionJob(interval time.Duration, repo *mysqlstore.ReconcileEventRepository, lock reconciler.DistributedLock) jobs.Job {
	return &eventRetentionJob{
		interval:        interval,
		repo:            repo,
		distributedLock: lock,
	}
}

func (j *eventRetentionJob) Name() string {
	return "event-retention"
}

func (j *eventRetentionJob) Interval() time.Duration {
	return j.interval
}

// AlignToInterval runs at midnight UTC boundaries
func (j *eventRetentionJob) AlignToInterval() bool {
	return true
}

func (j *eventRetentionJob) Run(ctx context.Context) error {
	acquired, err := j.distributedLock.TryLock(ctx)
	if err != nil || !acquired {
		logger.DebugCtx(ctx, "another instance is running event retention, skipping this cycle")
		return nil
	}
	defer func() { _ = j.distributedLock.Unlock(ctx) }()

	deleted, err := j.repo.DeleteOldEvents(ctx, time.Now().Add(-eventRetention))
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.InfoCtx(ctx, "deleted %d reconcile events older than %v", deleted, eventRetention)
	}
	return nil
}
