// Package dispatch turns campaign configuration into a paced stream of
// claimed queue items: it fills the queue, claims due items, advances the
// chain after each send and cleans up behind itself.
package dispatch

import (
	"context"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/pkg/distlock"
)

type CampaignReader interface {
	GetCampaign(ctx context.Context, id int64) (campaign.Campaign, error)
}

type LedgerReader interface {
	LastSent(ctx context.Context, campaignID int64) (time.Time, bool, error)
	CountSentSince(ctx context.Context, campaignID int64, since time.Time) (int, error)
	HasSent(ctx context.Context, campaignID, leadID int64) (bool, error)
}

type MailboxProvider interface {
	NextAvailableMailbox(ctx context.Context, ownerID int64, today time.Time) (campaign.Mailbox, bool, error)
}

type InitStore interface {
	CampaignReader
	LedgerReader
	ListEligibleLeads(ctx context.Context, campaignID int64, statuses []campaign.LeadStatus, limit int) ([]campaign.CampaignLead, error)
	InsertQueueItem(ctx context.Context, campaignID, campaignLeadID int64, at time.Time) (int64, error)
}

type ClaimStore interface {
	CampaignReader
	LedgerReader
	CountStuckClaims(ctx context.Context, campaignID int64, before time.Time) (int, error)
	NextDueItem(ctx context.Context, campaignID int64, now, from time.Time) (campaign.QueueItem, bool, error)
	RescheduleItem(ctx context.Context, id int64, at time.Time) (bool, error)
	ClaimItem(ctx context.Context, id int64, worker string) (bool, error)
	GetCampaignLead(ctx context.Context, id int64) (campaign.CampaignLead, error)
	TransitionLead(ctx context.Context, id int64, to campaign.LeadStatus) (bool, error)
	ReleaseClaim(ctx context.Context, itemID, campaignLeadID int64, at time.Time) (bool, error)
}

type AdvanceStore interface {
	CampaignReader
	LedgerReader
	NextQueuedLead(ctx context.Context, campaignID int64) (campaign.CampaignLead, bool, error)
	HasActiveQueueItem(ctx context.Context, campaignLeadID int64) (bool, error)
	TransitionLead(ctx context.Context, id int64, to campaign.LeadStatus) (bool, error)
	InsertQueueItem(ctx context.Context, campaignID, campaignLeadID int64, at time.Time) (int64, error)
}

type CompleteStore interface {
	CampaignReader
	HasSent(ctx context.Context, campaignID, leadID int64) (bool, error)
	CompleteSent(ctx context.Context, itemID int64, e campaign.LedgerEntry) (bool, error)
	CompleteFailed(ctx context.Context, itemID, campaignLeadID int64, reason string) error
	MarkAlreadySent(ctx context.Context, itemID, campaignLeadID int64) error
	ReleaseClaim(ctx context.Context, itemID, campaignLeadID int64, at time.Time) (bool, error)
	ReleaseMailboxSlot(ctx context.Context, mailboxID int64) error
}

type JanitorStore interface {
	DeleteTerminalBefore(ctx context.Context, before time.Time, limit int) (int64, error)
	ReleaseStuck(ctx context.Context, campaignID int64, before time.Time) (int64, error)
}

type DispatchStore interface {
	MailboxProvider
	ListActiveCampaigns(ctx context.Context) ([]campaign.Campaign, error)
	CountActiveQueueItems(ctx context.Context, campaignID int64) (int, error)
	ReleaseClaim(ctx context.Context, itemID, campaignLeadID int64, at time.Time) (bool, error)
	ReserveMailboxSlot(ctx context.Context, mailboxID int64) (bool, error)
	ReleaseMailboxSlot(ctx context.Context, mailboxID int64) error
}

// Locker hands out named locks. distlock.Factory implements it.
type Locker interface {
	New(key string, ttl time.Duration) distlock.Lock
}

// windowOf resolves a campaign's stored window against the dispatch timezone.
func windowOf(c campaign.Campaign, loc *time.Location) (schedule.Window, error) {
	return schedule.FromConfig(c.Window, loc)
}

func baseDelay(c campaign.Campaign) int {
	if c.DelaySeconds <= 0 {
		return schedule.DefaultDelaySeconds
	}
	return c.DelaySeconds
}

func nowOr(f func() time.Time) time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}
