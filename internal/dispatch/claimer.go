package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
)

// ClaimOutcome tells the caller what ClaimNext did.
type ClaimOutcome int

const (
	NothingDue ClaimOutcome = iota
	Claimed
	// Rescheduled means the selected item was moved forward instead of claimed.
	Rescheduled
	// LostRace means another claimer took the item; poll again.
	LostRace
	CampaignInactive
)

func (o ClaimOutcome) String() string {
	switch o {
	case NothingDue:
		return "nothing_due"
	case Claimed:
		return "claimed"
	case Rescheduled:
		return "rescheduled"
	case LostRace:
		return "lost_race"
	case CampaignInactive:
		return "campaign_inactive"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Claim is a queue item owned by this worker together with everything the
// sender needs.
type Claim struct {
	Item      campaign.QueueItem
	Lead      campaign.CampaignLead
	Campaign  campaign.Campaign
	Window    schedule.Window
	Tolerance time.Duration
}

type Claimer struct {
	Store    ClaimStore
	Pacer    *schedule.Pacer
	Location *time.Location
	WorkerID string
	Now      func() time.Time
}

// ClaimNext takes at most one due item of the campaign. Only a store failure
// is an error; an empty queue or a lost race is reported as an outcome.
func (cl *Claimer) ClaimNext(ctx context.Context, campaignID int64) (Claim, ClaimOutcome, error) {
	out, outcome, err := cl.claimNext(ctx, campaignID)
	if err == nil {
		metrics.ClaimOutcomes.WithLabelValues(outcome.String()).Inc()
	}
	return out, outcome, err
}

func (cl *Claimer) claimNext(ctx context.Context, campaignID int64) (Claim, ClaimOutcome, error) {
	c, err := cl.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Claim{}, NothingDue, err
	}
	if c.Status != campaign.StatusActive {
		return Claim{}, CampaignInactive, nil
	}
	w, err := windowOf(c, cl.Location)
	if err != nil {
		return Claim{}, NothingDue, err
	}
	log := logx.Campaign(campaignID)
	now := nowOr(cl.Now)

	facts, err := cl.recoveryFacts(ctx, campaignID, now)
	if err != nil {
		return Claim{}, NothingDue, err
	}
	tol := ToleranceFor(facts, now)
	if tol > NormalTolerance {
		metrics.ToleranceWidened.Inc()
		log.Debugw("claim_tolerance_widened", "stuck_claims", facts.StuckClaims, "last_sent", facts.LastSent, "tolerance", tol)
	}

	item, ok, err := cl.Store.NextDueItem(ctx, campaignID, now, now.Add(-tol))
	if err != nil {
		return Claim{}, NothingDue, fmt.Errorf("next due item: %w", err)
	}
	if !ok {
		return Claim{}, NothingDue, nil
	}

	if !schedule.IsWithinWindow(item.ScheduledAt, w) {
		return cl.reschedule(ctx, item, schedule.NextWindowStart(now, w), "outside_window")
	}

	sentToday, err := cl.Store.CountSentSince(ctx, campaignID, schedule.StartOfDay(now, w.Location))
	if err != nil {
		return Claim{}, NothingDue, fmt.Errorf("count sent today: %w", err)
	}
	if c.MaxPerDay > 0 && sentToday >= c.MaxPerDay {
		return cl.reschedule(ctx, item, schedule.NextWindowStart(now, w), "daily_cap")
	}

	// A backlog must still respect the campaign pace relative to the last send.
	base := baseDelay(c)
	if facts.HasSent && now.Sub(facts.LastSent) < time.Duration(base)*time.Second {
		at := cl.Pacer.NextSendInstant(facts.LastSent, base, sentToday, w)
		if at.After(item.ScheduledAt) {
			return cl.reschedule(ctx, item, at, "catch_up_spacing")
		}
	}

	won, err := cl.Store.ClaimItem(ctx, item.ID, cl.WorkerID)
	if err != nil {
		return Claim{}, NothingDue, fmt.Errorf("claim item %d: %w", item.ID, err)
	}
	if !won {
		log.Infow("claim_lost_race", "queue_item_id", item.ID)
		return Claim{}, LostRace, nil
	}
	item.Status = campaign.QueueClaimed
	item.ClaimedBy = cl.WorkerID

	lead, err := cl.Store.GetCampaignLead(ctx, item.CampaignLeadID)
	if err != nil {
		return cl.unclaim(ctx, item, fmt.Errorf("load campaign lead: %w", err))
	}
	moved, err := cl.Store.TransitionLead(ctx, lead.ID, campaign.LeadSending)
	if err != nil {
		return cl.unclaim(ctx, item, fmt.Errorf("lead to sending: %w", err))
	}
	if moved {
		lead.Status = campaign.LeadSending
	} else {
		log.Warnw("claim_lead_transition_rejected", "campaign_lead_id", lead.ID, "status", lead.Status)
	}

	log.Infow("queue_item_claimed", "queue_item_id", item.ID, "campaign_lead_id", lead.ID,
		"scheduled_at", item.ScheduledAt, "tolerance", tol)
	return Claim{Item: item, Lead: lead, Campaign: c, Window: w, Tolerance: tol}, Claimed, nil
}

func (cl *Claimer) recoveryFacts(ctx context.Context, campaignID int64, now time.Time) (RecoveryFacts, error) {
	stuck, err := cl.Store.CountStuckClaims(ctx, campaignID, now.Add(-StuckClaimAge))
	if err != nil {
		return RecoveryFacts{}, fmt.Errorf("count stuck claims: %w", err)
	}
	last, ok, err := cl.Store.LastSent(ctx, campaignID)
	if err != nil {
		return RecoveryFacts{}, fmt.Errorf("last sent: %w", err)
	}
	return RecoveryFacts{StuckClaims: stuck, LastSent: last, HasSent: ok}, nil
}

func (cl *Claimer) reschedule(ctx context.Context, item campaign.QueueItem, at time.Time, reason string) (Claim, ClaimOutcome, error) {
	if _, err := cl.Store.RescheduleItem(ctx, item.ID, at); err != nil {
		return Claim{}, NothingDue, fmt.Errorf("reschedule item %d: %w", item.ID, err)
	}
	metrics.QueueItemsScheduled.WithLabelValues(reason).Inc()
	logx.Campaign(item.CampaignID).Infow("queue_item_rescheduled",
		"queue_item_id", item.ID, "from", item.ScheduledAt, "to", at, "reason", reason)
	return Claim{}, Rescheduled, nil
}

// unclaim hands a won item back to pending when the claim cannot be
// completed, so a failed claim never leaves the item claimed.
func (cl *Claimer) unclaim(ctx context.Context, item campaign.QueueItem, cause error) (Claim, ClaimOutcome, error) {
	ok, err := cl.Store.ReleaseClaim(context.WithoutCancel(ctx), item.ID, item.CampaignLeadID, item.ScheduledAt)
	log := logx.Campaign(item.CampaignID)
	if err != nil {
		log.Errorw("unclaim_error", "queue_item_id", item.ID, "cause", cause, "error", err)
	} else if ok {
		metrics.ClaimsReleased.WithLabelValues("claim_error").Inc()
		log.Warnw("claim_abandoned", "queue_item_id", item.ID, "cause", cause)
	}
	return Claim{}, NothingDue, cause
}
