package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeIntentExpirer struct {
	createdBefore time.Time
	at            time.Time
	expired       int64
	err           error
}

func (f *fakeIntentExpirer) ExpirePendingIntents(_ context.Context, createdBefore, at time.Time) (int64, error) {
	f.createdBefore = createdBefore
	f.at = at
	return f.expired, f.err
}

func TestIntentExpiryJobPassesCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeIntentExpirer{expired: 3}
	job, err := NewIntentExpiryJob(repo, 45*time.Minute, nil)
	require.NoError(t, err)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.True(t, repo.at.Equal(now))
	require.True(t, repo.createdBefore.Equal(now.Add(-45*time.Minute)))
}

func TestIntentExpiryJobWrapsError(t *testing.T) {
	boom := errors.New("db down")
	job, err := NewIntentExpiryJob(&fakeIntentExpirer{err: boom}, 0, nil)
	require.NoError(t, err)
	require.Equal(t, defaultIntentTTL, job.ttl)
	require.ErrorIs(t, job.Run(context.Background()), boom)
}

func TestNewIntentExpiryJobRequiresRepo(t *testing.T) {
	_, err := NewIntentExpiryJob(nil, time.Minute, nil)
	require.Error(t, err)
}
