package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
	"github.com/Mutter0815/pacedmailer/pkg/model"
)

// Outcome is what the sender reported for one job.
type Outcome struct {
	MessageID string
	// Err is nil on success.
	Err    error
	SentAt time.Time
}

// Completer records send outcomes and keeps the chain moving.
type Completer struct {
	Store    CompleteStore
	Advancer *Advancer
	Now      func() time.Time
}

// Complete settles a claimed job. The ledger write, item and lead updates
// share one transaction; the chain is advanced afterwards.
func (cp *Completer) Complete(ctx context.Context, job model.SendJob, out Outcome) error {
	log := logx.Campaign(job.CampaignID)
	c, err := cp.Store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return err
	}

	last := out.SentAt
	if out.Err == nil {
		if last.IsZero() {
			last = nowOr(cp.Now)
		}
		dup, err := cp.Store.CompleteSent(ctx, job.QueueItemID, campaign.LedgerEntry{
			CampaignID:     job.CampaignID,
			LeadID:         job.LeadID,
			CampaignLeadID: job.CampaignLeadID,
			MessageID:      out.MessageID,
			MailboxID:      job.MailboxID,
			CreatedAt:      last,
		})
		if err != nil {
			return fmt.Errorf("complete sent: %w", err)
		}
		if dup {
			metrics.WorkerDuplicatesHealed.Inc()
			log.Warnw("ledger_duplicate_tolerated", "queue_item_id", job.QueueItemID, "lead_id", job.LeadID)
		}
	} else {
		last = nowOr(cp.Now)
		if err := cp.Store.CompleteFailed(ctx, job.QueueItemID, job.CampaignLeadID, out.Err.Error()); err != nil {
			return fmt.Errorf("complete failed: %w", err)
		}
	}

	return cp.advance(ctx, c, last)
}

// AlreadySent consults the ledger before a send. When the lead already has a
// sent entry the item and lead are healed and the chain advances.
func (cp *Completer) AlreadySent(ctx context.Context, job model.SendJob) (bool, error) {
	sent, err := cp.Store.HasSent(ctx, job.CampaignID, job.LeadID)
	if err != nil || !sent {
		return false, err
	}
	if err := cp.Store.MarkAlreadySent(ctx, job.QueueItemID, job.CampaignLeadID); err != nil {
		return true, fmt.Errorf("heal already sent: %w", err)
	}
	metrics.WorkerDuplicatesHealed.Inc()
	logx.Campaign(job.CampaignID).Warnw("job_already_sent", "queue_item_id", job.QueueItemID, "lead_id", job.LeadID)

	c, err := cp.Store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return true, err
	}
	return true, cp.advance(ctx, c, nowOr(cp.Now))
}

// Requeue hands a claimed job back to pending at its original instant, used
// when the campaign stopped being active while the job was in flight. The
// mailbox slot reserved for the job is returned.
func (cp *Completer) Requeue(ctx context.Context, job model.SendJob, reason string) error {
	at := job.ScheduledAt
	if at.IsZero() {
		at = nowOr(cp.Now)
	}
	ok, err := cp.Store.ReleaseClaim(ctx, job.QueueItemID, job.CampaignLeadID, at)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if ok {
		metrics.ClaimsReleased.WithLabelValues(reason).Inc()
		if job.MailboxID != 0 {
			if err := cp.Store.ReleaseMailboxSlot(ctx, job.MailboxID); err != nil {
				return fmt.Errorf("release mailbox slot: %w", err)
			}
		}
	}
	logx.Campaign(job.CampaignID).Infow("job_requeued", "queue_item_id", job.QueueItemID, "reason", reason, "released", ok)
	return nil
}

func (cp *Completer) advance(ctx context.Context, c campaign.Campaign, last time.Time) error {
	if c.Status != campaign.StatusActive {
		logx.Campaign(c.ID).Infow("chain_not_advanced", "status", c.Status)
		return nil
	}
	if _, _, err := cp.Advancer.ScheduleNext(ctx, c.ID, last, baseDelay(c)); err != nil {
		return fmt.Errorf("schedule next: %w", err)
	}
	return nil
}
