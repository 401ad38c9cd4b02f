package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCleaner) DeleteExpiredNotifications(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, f.err
}

type fakeScanner struct {
	repair []bool
}

func (f *fakeScanner) Scan(ctx context.Context, repair bool) (*services.Report, error) {
	f.repair = append(f.repair, repair)
	return &services.Report{Issues: []services.Issue{{Kind: services.IssueOrphanSent}}, Repaired: 1}, nil
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	c, err := Start(Jobs{
		Notifications:     &fakeCleaner{},
		CleanupSchedule:   "@hourly",
		Reconciler:        &fakeScanner{},
		ReconcileSchedule: "*/15 * * * *",
	})
	require.NoError(t, err)
	defer c.Stop()
	assert.Len(t, c.Entries(), 2)
}

func TestStartSkipsEmptySchedules(t *testing.T) {
	c, err := Start(Jobs{Notifications: &fakeCleaner{}, Reconciler: &fakeScanner{}})
	require.NoError(t, err)
	defer c.Stop()
	assert.Empty(t, c.Entries())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	_, err := Start(Jobs{Reconciler: &fakeScanner{}, ReconcileSchedule: "every tuesday"})
	assert.Error(t, err)
}

func TestJobBodies(t *testing.T) {
	cleaner := &fakeCleaner{}
	cleanupNotifications(cleaner)
	cleaner.err = errors.New("boom")
	cleanupNotifications(cleaner)
	assert.Equal(t, int32(2), cleaner.calls.Load())

	scanner := &fakeScanner{}
	reconcile(scanner, true)
	assert.Equal(t, []bool{true}, scanner.repair)
}
