// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"schoolreg/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 4 * time.Minute

// PendingReaper deletes expired pending applications.
type PendingReaper interface {
	ExpirePendingApplications(ctx context.Context) (int64, error)
}

// LogMaintainer flushes and archives activity logs.
type LogMaintainer interface {
	FlushCachedLogs(ctx context.Context, minAge time.Duration) (int, error)
	ArchiveOldLogs(ctx context.Context, daysOld int) (*models.LogArchive, error)
}

// Schedules holds the cron expressions for each job. An empty expression disables the job.
type Schedules struct {
	PendingReaper    string
	LogFlush         string
	LogArchive       string
	LogRetentionDays int
}

type Scheduler struct {
	cron   *cron.Cron
	reaper PendingReaper
	logs   LogMaintainer
	days   int
}

// New registers the jobs without starting them.
func New(s Schedules, reaper PendingReaper, logs LogMaintainer) (*Scheduler, error) {
	sc := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		reaper: reaper,
		logs:   logs,
		days:   s.LogRetentionDays,
	}

	jobs := []struct {
		name     string
		schedule string
		enabled  bool
		run      func(ctx context.Context)
	}{
		{"pending-reaper", s.PendingReaper, reaper != nil, sc.reapPending},
		{"log-flush", s.LogFlush, logs != nil, sc.flushLogs},
		{"log-archive", s.LogArchive, logs != nil && s.LogRetentionDays > 0, sc.archiveLogs},
	}
	for _, j := range jobs {
		if j.schedule == "" || !j.enabled {
			continue
		}
		run := j.run
		if _, err := sc.cron.AddFunc(j.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %v", j.name, j.schedule, err)
		}
		logrus.WithFields(logrus.Fields{"job": j.name, "schedule": j.schedule}).Info("Scheduled job")
	}
	return sc, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// JobCount reports how many jobs are registered.
func (s *Scheduler) JobCount() int { return len(s.cron.Entries()) }

func (s *Scheduler) reapPending(ctx context.Context) {
	n, err := s.reaper.ExpirePendingApplications(ctx)
	if err != nil {
		logrus.WithError(err).Error("Pending application reaper failed")
		return
	}
	if n > 0 {
		logrus.WithField("deleted", n).Info("Expired pending applications removed")
	}
}

func (s *Scheduler) flushLogs(ctx context.Context) {
	if _, err := s.logs.FlushCachedLogs(ctx, 0); err != nil {
		logrus.WithError(err).Warn("Activity log flush failed")
	}
}

func (s *Scheduler) archiveLogs(ctx context.Context) {
	if _, err := s.logs.ArchiveOldLogs(ctx, s.days); err != nil {
		logrus.WithError(err).Warn("Activity log archive failed")
	}
}
