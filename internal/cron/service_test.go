package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
	"github.com/angelmondragon/pharmaflow-backend/pkg/metrics"
)

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, m *metrics.CronJobMetrics, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:  logger.Nop(),
		Jobs:    jobs,
		Lock:    lock,
		Metrics: m,
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleContinuesAfterJobFailure(t *testing.T) {
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "failing", err: errors.New("boom")}
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	svc := newTestService(t, lock, nil, ok, failing, after)

	err := svc.runCycle(context.Background())
	require.ErrorContains(t, err, "failing: boom")
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, failing.runs)
	require.Equal(t, 1, after.runs)
	require.Equal(t, 1, lock.releases)
	require.False(t, lock.held)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{held: true}
	svc := newTestService(t, lock, nil, job)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
	require.Zero(t, lock.releases)
}

func TestRunCycleReturnsLockError(t *testing.T) {
	job := &testJob{name: "job"}
	svc := newTestService(t, &fakeLock{acquireErr: errors.New("redis down")}, nil, job)

	require.Error(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
}

func TestRunCycleRecordsJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	svc := newTestService(t, &fakeLock{}, m,
		&testJob{name: "ok"}, &testJob{name: "failing", err: errors.New("boom")})

	require.Error(t, svc.runCycle(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	results := map[string]string{}
	for _, mf := range families {
		if mf.GetName() != "cron_job_runs_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			results[labels["job"]] = labels["result"]
		}
	}
	require.Equal(t, map[string]string{"ok": "ok", "failing": "error"}, results)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	job := &testJob{name: "job"}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Jobs:     []Job{job},
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Run(ctx), context.Canceled)
	require.Equal(t, 1, job.runs)
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	require.Error(t, err)
}

func TestNewServiceRejectsDuplicateNames(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.Nop(),
		Lock:   &fakeLock{},
		Jobs:   []Job{&testJob{name: "same"}, nil, &testJob{name: "same"}},
	})
	require.ErrorContains(t, err, "duplicate cron job")
}

func TestNewServiceSkipsNilJobs(t *testing.T) {
	job := &testJob{name: "only"}
	svc := newTestService(t, &fakeLock{}, nil, nil, job, nil)
	require.Len(t, svc.jobs, 1)
	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 1, job.runs)
}
