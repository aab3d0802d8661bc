package campaign

import "time"

// Campaign is the read-only configuration the dispatcher needs.
type Campaign struct {
	ID           int64
	OwnerID      int64
	Name         string
	Subject      string
	Body         string
	Status       Status
	DelaySeconds int
	Window       WindowConfig
	MaxPerDay    int
	ScheduledAt  *time.Time
	CreatedAt    time.Time
}

// WindowConfig is the raw send window as stored on the campaign row.
// Hours are nil when no window is configured.
type WindowConfig struct {
	StartHour   *int
	StartMinute int
	EndHour     *int
	EndMinute   int
	AllowedDays string
	Timezone    string
}

type Lead struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Company   string
	Language  string
	Blocked   bool
}

// CampaignLead binds one lead to one campaign.
type CampaignLead struct {
	ID         int64
	CampaignID int64
	LeadID     int64
	Priority   int
	Status     LeadStatus
	Lead       Lead
}

type QueueItem struct {
	ID             int64
	CampaignID     int64
	CampaignLeadID int64
	ScheduledAt    time.Time
	Status         QueueStatus
	ClaimedBy      string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LedgerEntry is one confirmed delivery. Append-only.
type LedgerEntry struct {
	ID             int64
	CampaignID     int64
	LeadID         int64
	CampaignLeadID int64
	MessageID      string
	MailboxID      int64
	CreatedAt      time.Time
}

type Mailbox struct {
	ID               int64
	OwnerID          int64
	Email            string
	DailyLimit       int
	CurrentDailySent int
}

// QueueStats summarises the queue of a single campaign.
type QueueStats struct {
	Pending int
	Claimed int
	Sent    int
	Failed  int
}

type InitQueueReq struct {
	BufferSize int `json:"buffer_size"`
}

type InitQueueResp struct {
	CampaignID int64 `json:"campaign_id"`
	Added      int   `json:"added"`
}

type QueueStatsResp struct {
	CampaignID int64 `json:"campaign_id"`
	Pending    int   `json:"pending"`
	Claimed    int   `json:"claimed"`
	Sent       int   `json:"sent"`
	Failed     int   `json:"failed"`
}

type NextSendTimeResp struct {
	CampaignID  int64      `json:"campaign_id"`
	QueueItemID int64      `json:"queue_item_id,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type ReleaseStuckReq struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

type ReleaseStuckResp struct {
	CampaignID int64 `json:"campaign_id"`
	Released   int64 `json:"released"`
}
