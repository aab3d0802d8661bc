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

// Advancer appends the next item of a campaign once the previous send has an
// outcome.
type Advancer struct {
	Store    AdvanceStore
	Pacer    *schedule.Pacer
	Location *time.Location
	Now      func() time.Time
}

// ScheduleNext queues the next eligible lead after lastSent. ok is false when
// nothing was inserted: the queue is exhausted, the lead turned out to be
// already sent, or a concurrent path queued it first.
func (a *Advancer) ScheduleNext(ctx context.Context, campaignID int64, lastSent time.Time, baseDelaySeconds int) (int64, bool, error) {
	c, err := a.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, false, err
	}
	w, err := windowOf(c, a.Location)
	if err != nil {
		return 0, false, err
	}
	log := logx.Campaign(campaignID)
	now := nowOr(a.Now)

	sentToday, err := a.Store.CountSentSince(ctx, campaignID, schedule.StartOfDay(now, w.Location))
	if err != nil {
		return 0, false, fmt.Errorf("count sent today: %w", err)
	}
	at := a.Pacer.NextSendInstant(lastSent, baseDelaySeconds, sentToday, w)

	cl, ok, err := a.Store.NextQueuedLead(ctx, campaignID)
	if err != nil {
		return 0, false, fmt.Errorf("next queued lead: %w", err)
	}
	if !ok {
		log.Infow("chain_exhausted")
		return 0, false, nil
	}

	sent, err := a.Store.HasSent(ctx, campaignID, cl.LeadID)
	if err != nil {
		return 0, false, fmt.Errorf("ledger lookup: %w", err)
	}
	if sent {
		if _, err := a.Store.TransitionLead(ctx, cl.ID, campaign.LeadSent); err != nil {
			return 0, false, fmt.Errorf("heal lead %d: %w", cl.ID, err)
		}
		log.Warnw("chain_healed_already_sent", "campaign_lead_id", cl.ID, "lead_id", cl.LeadID)
		return 0, false, nil
	}

	active, err := a.Store.HasActiveQueueItem(ctx, cl.ID)
	if err != nil {
		return 0, false, fmt.Errorf("active item lookup: %w", err)
	}
	if active {
		return 0, false, nil
	}

	id, err := a.Store.InsertQueueItem(ctx, campaignID, cl.ID, at)
	if errors.Is(err, store.ErrDuplicate) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert queue item: %w", err)
	}

	if sentToday > 0 && sentToday%schedule.CooldownEvery == 0 {
		metrics.CooldownsApplied.Inc()
	}
	metrics.QueueItemsScheduled.WithLabelValues("chain").Inc()
	log.Infow("chain_advanced", "queue_item_id", id, "campaign_lead_id", cl.ID,
		"scheduled_at", at, "sent_today", sentToday)
	return id, true, nil
}
