package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

const campaignLeadColumns = `cl.id, cl.campaign_id, cl.lead_id, cl.priority, cl.status,
	l.email, l.first_name, l.last_name, l.company, l.language, l.is_blocked`

func scanCampaignLead(r rowScanner) (campaign.CampaignLead, error) {
	var (
		cl     campaign.CampaignLead
		status string
	)
	err := r.Scan(&cl.ID, &cl.CampaignID, &cl.LeadID, &cl.Priority, &status,
		&cl.Lead.Email, &cl.Lead.FirstName, &cl.Lead.LastName, &cl.Lead.Company, &cl.Lead.Language, &cl.Lead.Blocked)
	if err != nil {
		return campaign.CampaignLead{}, err
	}
	if cl.Status, err = campaign.ParseLeadStatus(status); err != nil {
		return campaign.CampaignLead{}, err
	}
	cl.Lead.ID = cl.LeadID
	return cl, nil
}

// ListEligibleLeads returns leads of the campaign in one of statuses that are
// not blocked, have no active queue item and no sent ledger entry, ordered by
// priority then insertion order.
func (s *Store) ListEligibleLeads(ctx context.Context, campaignID int64, statuses []campaign.LeadStatus, limit int) ([]campaign.CampaignLead, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+campaignLeadColumns+`
		FROM campaign_leads cl
		JOIN leads l ON l.id = cl.lead_id
		WHERE cl.campaign_id = $1
		  AND cl.status = ANY($2)
		  AND NOT l.is_blocked
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_email_queue q
			WHERE q.campaign_lead_id = cl.id AND q.status = ANY($3)
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM send_log sl
			WHERE sl.campaign_id = cl.campaign_id AND sl.lead_id = cl.lead_id AND sl.status = 'sent'
		  )
		ORDER BY cl.priority, cl.id
		LIMIT $4
	`, campaignID, leadStatuses(statuses), queueStatuses(campaign.ActiveQueueStatuses()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.CampaignLead
	for rows.Next() {
		cl, err := scanCampaignLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

// NextQueuedLead picks the next queued, unblocked lead without an active
// queue item. The ledger is not consulted so callers can detect leads that
// were sent through another path.
func (s *Store) NextQueuedLead(ctx context.Context, campaignID int64) (campaign.CampaignLead, bool, error) {
	cl, err := scanCampaignLead(s.DB.QueryRowContext(ctx, `
		SELECT `+campaignLeadColumns+`
		FROM campaign_leads cl
		JOIN leads l ON l.id = cl.lead_id
		WHERE cl.campaign_id = $1
		  AND cl.status = $2
		  AND NOT l.is_blocked
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_email_queue q
			WHERE q.campaign_lead_id = cl.id AND q.status = ANY($3)
		  )
		ORDER BY cl.priority, cl.id
		LIMIT 1
	`, campaignID, string(campaign.LeadQueued), queueStatuses(campaign.ActiveQueueStatuses())))
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.CampaignLead{}, false, nil
	}
	if err != nil {
		return campaign.CampaignLead{}, false, err
	}
	return cl, true, nil
}

func (s *Store) GetCampaignLead(ctx context.Context, id int64) (campaign.CampaignLead, error) {
	cl, err := scanCampaignLead(s.DB.QueryRowContext(ctx, `
		SELECT `+campaignLeadColumns+`
		FROM campaign_leads cl
		JOIN leads l ON l.id = cl.lead_id
		WHERE cl.id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.CampaignLead{}, fmt.Errorf("campaign lead %d: %w", id, err)
	}
	return cl, err
}

func transitionLead(ctx context.Context, q querier, id int64, to campaign.LeadStatus) (bool, error) {
	from := leadStatuses(campaign.LeadSources(to))
	if to == campaign.LeadSent {
		return affected(q.ExecContext(ctx, `
			UPDATE campaign_leads SET status = $2, sent_at = NOW()
			WHERE id = $1 AND status = ANY($3)
		`, id, string(to), from))
	}
	return affected(q.ExecContext(ctx, `
		UPDATE campaign_leads SET status = $2
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), from))
}

// TransitionLead moves a campaign lead to `to` when its current status is a
// legal source. false means the move was rejected.
func (s *Store) TransitionLead(ctx context.Context, id int64, to campaign.LeadStatus) (bool, error) {
	return transitionLead(ctx, s.DB, id, to)
}
