package scheduler

import (
	"context"
	"time"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 5 * time.Minute

// NotificationCleaner removes expired notifications.
type NotificationCleaner interface {
	DeleteExpiredNotifications(ctx context.Context) (int64, error)
}

// FriendScanner runs the friend data reconciliation.
type FriendScanner interface {
	Scan(ctx context.Context, repair bool) (*services.Report, error)
}

// Jobs configures the background jobs. Empty schedules disable a job.
type Jobs struct {
	Notifications     NotificationCleaner
	CleanupSchedule   string
	Reconciler        FriendScanner
	ReconcileSchedule string
	ReconcileRepair   bool
}

// Start registers the configured jobs and starts the scheduler. The caller
// stops it with Stop on shutdown.
func Start(jobs Jobs) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	if jobs.Notifications != nil && jobs.CleanupSchedule != "" {
		if _, err := c.AddFunc(jobs.CleanupSchedule, func() { cleanupNotifications(jobs.Notifications) }); err != nil {
			return nil, err
		}
		logrus.WithField("schedule", jobs.CleanupSchedule).Info("Notification cleanup scheduled")
	}

	if jobs.Reconciler != nil && jobs.ReconcileSchedule != "" {
		repair := jobs.ReconcileRepair
		if _, err := c.AddFunc(jobs.ReconcileSchedule, func() { reconcile(jobs.Reconciler, repair) }); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"schedule": jobs.ReconcileSchedule,
			"repair":   repair,
		}).Info("Friend reconciliation scheduled")
	}

	c.Start()
	return c, nil
}

func cleanupNotifications(n NotificationCleaner) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	deleted, err := n.DeleteExpiredNotifications(ctx)
	if err != nil {
		logrus.WithError(err).Error("DeleteExpiredNotifications failed")
		return
	}
	if deleted > 0 {
		logrus.WithField("deleted", deleted).Info("Expired notifications removed")
	}
}

func reconcile(r FriendScanner, repair bool) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	report, err := r.Scan(ctx, repair)
	if err != nil {
		logrus.WithError(err).Error("Friend reconciliation failed")
		return
	}
	if len(report.Issues) > 0 {
		logrus.WithFields(logrus.Fields{
			"issues":   len(report.Issues),
			"repaired": report.Repaired,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
		}).Warn("Friend data inconsistencies found")
	}
}
