package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/internal/store"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
)

const (
	DefaultBufferSize = 20
	// InitStaleness is the age after which the last send no longer anchors
	// a freshly initialized queue.
	InitStaleness = 10 * time.Minute
)

// Initializer pre-populates a bounded number of pending items for a campaign.
type Initializer struct {
	Store     InitStore
	Mailboxes MailboxProvider
	Pacer     *schedule.Pacer
	Location  *time.Location
	Now       func() time.Time
}

// Initialize inserts up to bufferSize pending items and returns how many were
// added. Leads that already have an active item are skipped, so a second call
// without new leads adds nothing. Items inserted before an error stay.
func (in *Initializer) Initialize(ctx context.Context, campaignID int64, bufferSize int) (int, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	c, err := in.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	w, err := windowOf(c, in.Location)
	if err != nil {
		return 0, err
	}
	log := logx.Campaign(campaignID)
	now := nowOr(in.Now)
	base := baseDelay(c)

	sentToday, err := in.Store.CountSentSince(ctx, campaignID, schedule.StartOfDay(now, w.Location))
	if err != nil {
		return 0, fmt.Errorf("count sent today: %w", err)
	}
	anchor, err := in.anchor(ctx, c, w, now, sentToday)
	if err != nil {
		return 0, err
	}

	leads, err := in.Store.ListEligibleLeads(ctx, campaignID,
		[]campaign.LeadStatus{campaign.LeadQueued, campaign.LeadPlanned}, bufferSize)
	if err != nil {
		return 0, fmt.Errorf("list eligible leads: %w", err)
	}
	if len(leads) == 0 {
		log.Debugw("queue_init_nothing_eligible")
		return 0, nil
	}

	if in.Mailboxes != nil {
		_, ok, err := in.Mailboxes.NextAvailableMailbox(ctx, c.OwnerID, schedule.StartOfDay(now, w.Location))
		if err != nil {
			return 0, fmt.Errorf("mailbox availability: %w", err)
		}
		if !ok {
			anchor = schedule.NextWindowStart(now, w)
			log.Infow("queue_init_no_mailbox", "anchor", anchor)
		}
	}

	added := 0
	next := anchor
	for _, cl := range leads {
		if !schedule.IsWithinWindow(next, w) {
			next = schedule.NextValidInstant(next, w)
		}
		id, err := in.Store.InsertQueueItem(ctx, campaignID, cl.ID, next)
		if errors.Is(err, store.ErrDuplicate) {
			log.Infow("queue_init_skip_duplicate", "campaign_lead_id", cl.ID)
			continue
		}
		if err != nil {
			log.Errorw("queue_init_insert_error", "campaign_lead_id", cl.ID, "added", added, "error", err)
			return added, fmt.Errorf("insert queue item: %w", err)
		}
		added++
		metrics.QueueItemsScheduled.WithLabelValues("init").Inc()
		log.Debugw("queue_item_scheduled", "queue_item_id", id, "campaign_lead_id", cl.ID, "scheduled_at", next)

		next = in.Pacer.NextSendInstant(next, base, sentToday+added, w)
	}

	log.Infow("queue_initialized", "added", added, "anchor", anchor, "buffer", bufferSize)
	return added, nil
}

func (in *Initializer) anchor(ctx context.Context, c campaign.Campaign, w schedule.Window, now time.Time, sentToday int) (time.Time, error) {
	last, ok, err := in.Store.LastSent(ctx, c.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("last sent: %w", err)
	}
	if ok {
		if now.Sub(last) > InitStaleness {
			return now, nil
		}
		return in.Pacer.NextSendInstant(last, baseDelay(c), sentToday, w), nil
	}
	if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
		return *c.ScheduledAt, nil
	}
	return now, nil
}
