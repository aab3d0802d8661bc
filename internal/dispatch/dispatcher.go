package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
	"github.com/Mutter0815/pacedmailer/pkg/model"
)

// InitRetryBackoff keeps a campaign whose initialization failed from being
// retried on every tick.
const InitRetryBackoff = time.Hour

type JobPublisher interface {
	PublishJob(ctx context.Context, job model.SendJob) error
}

// Dispatcher polls active campaigns, claims at most one due item per campaign
// per tick and publishes it for the sender workers.
type Dispatcher struct {
	Store      DispatchStore
	Init       *Initializer
	Claimer    *Claimer
	Pub        JobPublisher
	Locks      Locker
	Location   *time.Location
	BufferSize int
	Interval   time.Duration
	Now        func() time.Time

	mu         sync.Mutex
	initFailed map[int64]time.Time
}

func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	logx.L().Infow("dispatcher_started", "interval", interval.String(), "worker_id", d.Claimer.WorkerID)

	for {
		d.Tick(ctx)
		select {
		case <-ctx.Done():
			logx.L().Infow("dispatcher_stopping")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick runs one poll over every active campaign. Failures of one campaign do
// not stop the others.
func (d *Dispatcher) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.DispatchTickDuration.Observe(time.Since(start).Seconds()) }()

	campaigns, err := d.Store.ListActiveCampaigns(ctx)
	if err != nil {
		logx.L().Errorw("list_active_campaigns_error", "error", err)
		return
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return
		}
		log := logx.Campaign(c.ID)
		if err := d.ensureQueue(ctx, c); err != nil {
			log.Errorw("queue_init_error", "error", err)
		}
		if err := d.dispatchOne(ctx, c); err != nil {
			log.Errorw("dispatch_error", "error", err)
		}
	}
}

// ensureQueue initializes campaigns that have no active item.
func (d *Dispatcher) ensureQueue(ctx context.Context, c campaign.Campaign) error {
	n, err := d.Store.CountActiveQueueItems(ctx, c.ID)
	if err != nil || n > 0 {
		return err
	}
	now := nowOr(d.Now)

	d.mu.Lock()
	failedAt, failed := d.initFailed[c.ID]
	d.mu.Unlock()
	if failed && now.Sub(failedAt) < InitRetryBackoff {
		return nil
	}

	if d.Locks != nil {
		lock := d.Locks.New(fmt.Sprintf("queue-init:%d", c.ID), time.Minute)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("init lock: %w", err)
		}
		if !ok {
			return nil
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	added, err := d.Init.Initialize(ctx, c.ID, d.BufferSize)
	d.mu.Lock()
	if d.initFailed == nil {
		d.initFailed = make(map[int64]time.Time)
	}
	if err != nil {
		d.initFailed[c.ID] = now
	} else {
		delete(d.initFailed, c.ID)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if added > 0 {
		logx.Campaign(c.ID).Infow("queue_backfilled", "added", added)
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, c campaign.Campaign) error {
	claim, outcome, err := d.Claimer.ClaimNext(ctx, c.ID)
	if err != nil || outcome != Claimed {
		return err
	}
	now := nowOr(d.Now)
	item := claim.Item

	mb, ok, err := d.Store.NextAvailableMailbox(ctx, c.OwnerID, schedule.StartOfDay(now, claim.Window.Location))
	if err != nil {
		d.release(ctx, claim, item.ScheduledAt, "mailbox_error")
		return fmt.Errorf("mailbox availability: %w", err)
	}
	if !ok {
		d.release(ctx, claim, schedule.NextWindowStart(now, claim.Window), "no_mailbox")
		return nil
	}
	reserved, err := d.Store.ReserveMailboxSlot(ctx, mb.ID)
	if err != nil {
		d.release(ctx, claim, item.ScheduledAt, "mailbox_error")
		return fmt.Errorf("reserve mailbox slot: %w", err)
	}
	if !reserved {
		d.release(ctx, claim, item.ScheduledAt, "mailbox_full")
		return nil
	}

	job := model.SendJob{
		QueueItemID:    item.ID,
		CampaignID:     c.ID,
		CampaignLeadID: claim.Lead.ID,
		LeadID:         claim.Lead.LeadID,
		Address:        claim.Lead.Lead.Email,
		MailboxID:      mb.ID,
		MailboxEmail:   mb.Email,
		ClaimedBy:      item.ClaimedBy,
		ScheduledAt:    item.ScheduledAt,
	}
	if err := d.Pub.PublishJob(ctx, job); err != nil {
		d.release(ctx, claim, item.ScheduledAt, "publish_failed")
		if err := d.Store.ReleaseMailboxSlot(context.WithoutCancel(ctx), mb.ID); err != nil {
			logx.Campaign(c.ID).Errorw("mailbox_slot_release_error", "mailbox_id", mb.ID, "error", err)
		}
		return fmt.Errorf("publish job: %w", err)
	}
	metrics.PublishedJobsTotal.Inc()
	logx.Campaign(c.ID).Infow("job_published", "queue_item_id", item.ID, "mailbox_id", mb.ID, "address", job.Address)
	return nil
}

func (d *Dispatcher) release(ctx context.Context, claim Claim, at time.Time, reason string) {
	ok, err := d.Store.ReleaseClaim(ctx, claim.Item.ID, claim.Lead.ID, at)
	log := logx.Campaign(claim.Item.CampaignID)
	if err != nil {
		log.Errorw("release_claim_error", "queue_item_id", claim.Item.ID, "reason", reason, "error", err)
		return
	}
	if ok {
		metrics.ClaimsReleased.WithLabelValues(reason).Inc()
	}
	log.Infow("claim_released", "queue_item_id", claim.Item.ID, "reason", reason, "scheduled_at", at)
}
