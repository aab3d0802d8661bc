package model

import "time"

// SendJob is the payload the dispatcher publishes for every claimed queue item.
type SendJob struct {
	QueueItemID    int64     `json:"queue_item_id"`
	CampaignID     int64     `json:"campaign_id"`
	CampaignLeadID int64     `json:"campaign_lead_id"`
	LeadID         int64     `json:"lead_id"`
	Address        string    `json:"address"`
	MailboxID      int64     `json:"mailbox_id"`
	MailboxEmail   string    `json:"mailbox_email"`
	ClaimedBy      string    `json:"claimed_by"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}
