package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

const defaultIntentTTL = 30 * time.Minute

type intentExpirer interface {
	ExpirePendingIntents(ctx context.Context, createdBefore, at time.Time) (int64, error)
}

// IntentExpiryJob fails payment intents the provider never settled, so a
// stale token cannot be completed after the order moved on.
type IntentExpiryJob struct {
	logg *logger.Logger
	repo intentExpirer
	ttl  time.Duration
	now  func() time.Time
}

func NewIntentExpiryJob(repo intentExpirer, ttl time.Duration, logg *logger.Logger) (*IntentExpiryJob, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if ttl <= 0 {
		ttl = defaultIntentTTL
	}
	return &IntentExpiryJob{logg: logg, repo: repo, ttl: ttl, now: time.Now}, nil
}

func (j *IntentExpiryJob) Name() string { return "payment-intent-expiry" }

func (j *IntentExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.ttl)
	expired, err := j.repo.ExpirePendingIntents(ctx, cutoff, now)
	if err != nil {
		return fmt.Errorf("expire payment intents: %w", err)
	}
	if expired > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"cutoff":  cutoff,
			"expired": expired,
		}), "pending payment intents expired")
	}
	return nil
}
