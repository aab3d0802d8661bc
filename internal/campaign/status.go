package campaign

import "fmt"

// Status is the campaign lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// QueueStatus is the state of a queue item.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueClaimed QueueStatus = "claimed"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

// Terminal reports whether the item will never be dispatched again.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueSent, QueueFailed:
		return true
	case QueuePending, QueueClaimed:
		return false
	default:
		panic(fmt.Sprintf("campaign: unknown queue status %q", string(s)))
	}
}

var allQueueStatuses = []QueueStatus{QueuePending, QueueClaimed, QueueSent, QueueFailed}

// ActiveQueueStatuses are the non-terminal queue statuses.
func ActiveQueueStatuses() []QueueStatus {
	var out []QueueStatus
	for _, s := range allQueueStatuses {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

func TerminalQueueStatuses() []QueueStatus {
	var out []QueueStatus
	for _, s := range allQueueStatuses {
		if s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

// LeadStatus is the state of a recipient within a campaign.
type LeadStatus string

const (
	LeadQueued  LeadStatus = "queued"
	LeadPlanned LeadStatus = "planned"
	LeadSending LeadStatus = "sending"
	LeadSent    LeadStatus = "sent"
	LeadFailed  LeadStatus = "failed"
)

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueuePending: {QueueClaimed},
	QueueClaimed: {QueueSent, QueueFailed, QueuePending},
	QueueSent:    nil,
	QueueFailed:  nil,
}

var leadTransitions = map[LeadStatus][]LeadStatus{
	LeadQueued:  {LeadSending, LeadSent},
	LeadPlanned: {LeadSending, LeadSent},
	LeadSending: {LeadSent, LeadFailed, LeadQueued},
	LeadSent:    nil,
	LeadFailed:  nil,
}

// CanTransitionQueue reports whether from→to is a legal queue item move.
func CanTransitionQueue(from, to QueueStatus) bool {
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionLead reports whether from→to is a legal campaign lead move.
func CanTransitionLead(from, to LeadStatus) bool {
	for _, s := range leadTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// QueueSources lists every status from which an item may move to `to`,
// in a stable order. The store uses it as the guard of its UPDATE.
func QueueSources(to QueueStatus) []QueueStatus {
	var out []QueueStatus
	for _, from := range allQueueStatuses {
		if CanTransitionQueue(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// LeadSources lists every status from which a campaign lead may move to `to`.
func LeadSources(to LeadStatus) []LeadStatus {
	var out []LeadStatus
	for _, from := range []LeadStatus{LeadQueued, LeadPlanned, LeadSending, LeadSent, LeadFailed} {
		if CanTransitionLead(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ParseQueueStatus rejects anything outside the enum.
func ParseQueueStatus(s string) (QueueStatus, error) {
	switch q := QueueStatus(s); q {
	case QueuePending, QueueClaimed, QueueSent, QueueFailed:
		return q, nil
	}
	return "", fmt.Errorf("campaign: invalid queue status %q", s)
}

func ParseLeadStatus(s string) (LeadStatus, error) {
	switch l := LeadStatus(s); l {
	case LeadQueued, LeadPlanned, LeadSending, LeadSent, LeadFailed:
		return l, nil
	}
	return "", fmt.Errorf("campaign: invalid lead status %q", s)
}

func ParseStatus(s string) (Status, error) {
	switch c := Status(s); c {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted:
		return c, nil
	}
	return "", fmt.Errorf("campaign: invalid status %q", s)
}
