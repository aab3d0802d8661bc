package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

const campaignColumns = `id, owner_id, name, subject, body, status, delay_seconds,
	window_start_hour, window_start_minute, window_end_hour, window_end_minute,
	allowed_days, timezone, max_per_day, scheduled_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(r rowScanner) (campaign.Campaign, error) {
	var (
		c         campaign.Campaign
		status    string
		startHour sql.NullInt32
		endHour   sql.NullInt32
		scheduled sql.NullTime
	)
	err := r.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Subject, &c.Body, &status, &c.DelaySeconds,
		&startHour, &c.Window.StartMinute, &endHour, &c.Window.EndMinute,
		&c.Window.AllowedDays, &c.Window.Timezone, &c.MaxPerDay, &scheduled, &c.CreatedAt)
	if err != nil {
		return campaign.Campaign{}, err
	}
	st, err := campaign.ParseStatus(status)
	if err != nil {
		return campaign.Campaign{}, err
	}
	c.Status = st
	if startHour.Valid {
		h := int(startHour.Int32)
		c.Window.StartHour = &h
	}
	if endHour.Valid {
		h := int(endHour.Int32)
		c.Window.EndHour = &h
	}
	if scheduled.Valid {
		t := scheduled.Time
		c.ScheduledAt = &t
	}
	return c, nil
}

// GetCampaign returns campaign.NotFoundError when the id is unknown.
func (s *Store) GetCampaign(ctx context.Context, id int64) (campaign.Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Campaign{}, campaign.NewNotFound(id)
	}
	return c, err
}

func (s *Store) ListActiveCampaigns(ctx context.Context) ([]campaign.Campaign, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY id`,
		string(campaign.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignStatus looks up only the status column of a campaign.
func (s *Store) CampaignStatus(ctx context.Context, id int64) (campaign.Status, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", campaign.NewNotFound(id)
	}
	if err != nil {
		return "", err
	}
	return campaign.ParseStatus(status)
}

// LastSent is the timestamp of the newest ledger entry of the campaign.
func (s *Store) LastSent(ctx context.Context, campaignID int64) (time.Time, bool, error) {
	var last sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM send_log
		WHERE campaign_id = $1 AND status = 'sent'
	`, campaignID).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	return last.Time, last.Valid, nil
}

// CountSentSince counts ledger entries created at or after since.
func (s *Store) CountSentSince(ctx context.Context, campaignID int64, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM send_log
		WHERE campaign_id = $1 AND status = 'sent' AND created_at >= $2
	`, campaignID, since).Scan(&n)
	return n, err
}

func (s *Store) HasSent(ctx context.Context, campaignID, leadID int64) (bool, error) {
	var ok bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM send_log
			WHERE campaign_id = $1 AND lead_id = $2 AND status = 'sent'
		)
	`, campaignID, leadID).Scan(&ok)
	return ok, err
}

func appendLedger(ctx context.Context, q querier, e campaign.LedgerEntry) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO send_log (campaign_id, lead_id, campaign_lead_id, status, message_id, mailbox_id, created_at)
		VALUES ($1, $2, $3, 'sent', $4, $5, $6)
		ON CONFLICT (campaign_id, lead_id) WHERE status = 'sent' DO NOTHING
		RETURNING id
	`, e.CampaignID, e.LeadID, e.CampaignLeadID, nullString(e.MessageID), nullInt64(e.MailboxID), e.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	return id, err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
