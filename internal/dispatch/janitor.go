package dispatch

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
)

const (
	Retention    = 24 * time.Hour
	CleanupBatch = 10000
	cleanupLock  = "queue-cleanup"
)

// Janitor removes old terminal queue items. It is housekeeping only.
type Janitor struct {
	Store JanitorStore
	Locks Locker
	Now   func() time.Time
}

// Cleanup deletes sent and failed items older than Retention in batches and
// returns the number removed. Errors are logged, never returned.
func (j *Janitor) Cleanup(ctx context.Context) int64 {
	cutoff := nowOr(j.Now).Add(-Retention)
	var total int64
	for {
		n, err := j.Store.DeleteTerminalBefore(ctx, cutoff, CleanupBatch)
		if err != nil {
			logx.L().Errorw("cleanup_error", "deleted", total, "error", err)
			break
		}
		total += n
		if n < CleanupBatch || ctx.Err() != nil {
			break
		}
	}
	metrics.JanitorDeleted.Add(float64(total))
	logx.L().Infow("cleanup_done", "deleted", total, "cutoff", cutoff)
	return total
}

// ReleaseStuck returns claims older than olderThan to pending. campaignID 0
// covers every campaign.
func (j *Janitor) ReleaseStuck(ctx context.Context, campaignID int64, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = StuckClaimAge
	}
	n, err := j.Store.ReleaseStuck(ctx, campaignID, nowOr(j.Now).Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ClaimsReleased.WithLabelValues("stuck").Add(float64(n))
	}
	logx.L().Infow("stuck_claims_released", "campaign_id", campaignID, "released", n, "older_than", olderThan.String())
	return n, nil
}

// Register schedules Cleanup on c. When Locks is set only one process runs a
// given cleanup.
func (j *Janitor) Register(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		if j.Locks != nil {
			lock := j.Locks.New(cleanupLock, 30*time.Minute)
			ok, err := lock.Acquire(ctx)
			if err != nil {
				logx.L().Warnw("cleanup_lock_error", "error", err)
				return
			}
			if !ok {
				logx.L().Debugw("cleanup_skipped_locked")
				return
			}
			defer lock.Release(context.WithoutCancel(ctx))
		}
		j.Cleanup(ctx)
	})
}
