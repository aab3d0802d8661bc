package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

const queueColumns = `q.id, q.campaign_id, q.campaign_lead_id, q.scheduled_at, q.status,
	COALESCE(q.claimed_by, ''), COALESCE(q.last_error, ''), q.created_at, q.updated_at`

func scanQueueItem(r rowScanner) (campaign.QueueItem, error) {
	var (
		it     campaign.QueueItem
		status string
	)
	err := r.Scan(&it.ID, &it.CampaignID, &it.CampaignLeadID, &it.ScheduledAt, &status,
		&it.ClaimedBy, &it.LastError, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return campaign.QueueItem{}, err
	}
	if it.Status, err = campaign.ParseQueueStatus(status); err != nil {
		return campaign.QueueItem{}, err
	}
	return it, nil
}

func optionalItem(it campaign.QueueItem, err error) (campaign.QueueItem, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.QueueItem{}, false, nil
	}
	if err != nil {
		return campaign.QueueItem{}, false, err
	}
	return it, true, nil
}

// InsertQueueItem adds a pending item. A second active item for the same
// campaign lead returns ErrDuplicate.
func (s *Store) InsertQueueItem(ctx context.Context, campaignID, campaignLeadID int64, at time.Time) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO campaign_email_queue (campaign_id, campaign_lead_id, scheduled_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, campaignID, campaignLeadID, at, string(campaign.QueuePending)).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	return id, err
}

func (s *Store) HasActiveQueueItem(ctx context.Context, campaignLeadID int64) (bool, error) {
	var ok bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaign_email_queue
			WHERE campaign_lead_id = $1 AND status = ANY($2)
		)
	`, campaignLeadID, queueStatuses(campaign.ActiveQueueStatuses())).Scan(&ok)
	return ok, err
}

func (s *Store) CountActiveQueueItems(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_email_queue
		WHERE campaign_id = $1 AND status = ANY($2)
	`, campaignID, queueStatuses(campaign.ActiveQueueStatuses())).Scan(&n)
	return n, err
}

// CountStuckClaims counts claimed items not touched since before.
func (s *Store) CountStuckClaims(ctx context.Context, campaignID int64, before time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_email_queue
		WHERE campaign_id = $1 AND status = $2 AND updated_at < $3
	`, campaignID, string(campaign.QueueClaimed), before).Scan(&n)
	return n, err
}

// NextDueItem returns the oldest pending item scheduled in [from, now].
// Items with the same instant are ordered by lead priority.
func (s *Store) NextDueItem(ctx context.Context, campaignID int64, now, from time.Time) (campaign.QueueItem, bool, error) {
	return optionalItem(scanQueueItem(s.DB.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM campaign_email_queue q
		JOIN campaign_leads cl ON cl.id = q.campaign_lead_id
		JOIN leads l ON l.id = cl.lead_id
		WHERE q.campaign_id = $1
		  AND q.status = $2
		  AND q.scheduled_at <= $3
		  AND q.scheduled_at >= $4
		  AND NOT l.is_blocked
		ORDER BY q.scheduled_at, cl.priority, q.id
		LIMIT 1
	`, campaignID, string(campaign.QueuePending), now, from)))
}

// NextPending is the earliest pending item regardless of due time.
func (s *Store) NextPending(ctx context.Context, campaignID int64) (campaign.QueueItem, bool, error) {
	return optionalItem(scanQueueItem(s.DB.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM campaign_email_queue q
		JOIN campaign_leads cl ON cl.id = q.campaign_lead_id
		WHERE q.campaign_id = $1 AND q.status = $2
		ORDER BY q.scheduled_at, cl.priority, q.id
		LIMIT 1
	`, campaignID, string(campaign.QueuePending))))
}

// RescheduleItem moves a still pending item to at.
func (s *Store) RescheduleItem(ctx context.Context, id int64, at time.Time) (bool, error) {
	return affected(s.DB.ExecContext(ctx, `
		UPDATE campaign_email_queue SET scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, at, string(campaign.QueuePending)))
}

// ClaimItem is the compare-and-swap pending→claimed. false means another
// claimer got there first.
func (s *Store) ClaimItem(ctx context.Context, id int64, worker string) (bool, error) {
	return affected(s.DB.ExecContext(ctx, `
		UPDATE campaign_email_queue SET status = $2, claimed_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`, id, string(campaign.QueueClaimed), worker, queueStatuses(campaign.QueueSources(campaign.QueueClaimed))))
}

func transitionQueueItem(ctx context.Context, q querier, id int64, to campaign.QueueStatus, lastErr string) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE campaign_email_queue SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), nullString(lastErr), queueStatuses(campaign.QueueSources(to))))
}

// ReleaseClaim returns a claimed item to pending at the given instant and
// puts its lead back to queued.
func (s *Store) ReleaseClaim(ctx context.Context, itemID, campaignLeadID int64, at time.Time) (bool, error) {
	var ok bool
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		ok, err = affected(tx.ExecContext(ctx, `
			UPDATE campaign_email_queue
			   SET status = $2, scheduled_at = $3, claimed_by = NULL, updated_at = NOW()
			 WHERE id = $1 AND status = ANY($4)
		`, itemID, string(campaign.QueuePending), at, queueStatuses(campaign.QueueSources(campaign.QueuePending))))
		if err != nil || !ok {
			return err
		}
		_, err = transitionLead(ctx, tx, campaignLeadID, campaign.LeadQueued)
		return err
	})
	return ok, err
}

// CompleteSent appends the ledger entry and marks item and lead sent in one
// transaction. duplicate reports that the ledger already held the send.
func (s *Store) CompleteSent(ctx context.Context, itemID int64, e campaign.LedgerEntry) (duplicate bool, err error) {
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := appendLedger(ctx, tx, e); err != nil {
			if !errors.Is(err, ErrDuplicate) {
				return err
			}
			duplicate = true
		}
		if _, err := transitionQueueItem(ctx, tx, itemID, campaign.QueueSent, ""); err != nil {
			return err
		}
		_, err := transitionLead(ctx, tx, e.CampaignLeadID, campaign.LeadSent)
		return err
	})
	return duplicate, err
}

// CompleteFailed marks the item and its lead failed.
func (s *Store) CompleteFailed(ctx context.Context, itemID, campaignLeadID int64, reason string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := transitionQueueItem(ctx, tx, itemID, campaign.QueueFailed, reason); err != nil {
			return err
		}
		_, err := transitionLead(ctx, tx, campaignLeadID, campaign.LeadFailed)
		return err
	})
}

// MarkAlreadySent heals an item whose lead is already in the ledger.
func (s *Store) MarkAlreadySent(ctx context.Context, itemID, campaignLeadID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := transitionQueueItem(ctx, tx, itemID, campaign.QueueSent, "already sent"); err != nil {
			return err
		}
		_, err := transitionLead(ctx, tx, campaignLeadID, campaign.LeadSent)
		return err
	})
}

// DeleteTerminalBefore removes at most limit sent or failed items last
// updated before the cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM campaign_email_queue
		WHERE id IN (
			SELECT id FROM campaign_email_queue
			WHERE status = ANY($1) AND updated_at < $2
			ORDER BY id
			LIMIT $3
		)
	`, queueStatuses(campaign.TerminalQueueStatuses()), before, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseStuck returns claims older than before to pending and their leads
// to queued. campaignID 0 releases across all campaigns.
func (s *Store) ReleaseStuck(ctx context.Context, campaignID int64, before time.Time) (int64, error) {
	var released int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE campaign_email_queue
			   SET status = $1, claimed_by = NULL, updated_at = NOW()
			 WHERE status = ANY($2)
			   AND updated_at < $3
			   AND ($4::bigint = 0 OR campaign_id = $4)
			RETURNING campaign_lead_id
		`, string(campaign.QueuePending), queueStatuses(campaign.QueueSources(campaign.QueuePending)), before, campaignID)
		if err != nil {
			return err
		}
		var leadIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			leadIDs = append(leadIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		released = int64(len(leadIDs))
		if len(leadIDs) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE campaign_leads SET status = $1
			WHERE id = ANY($2) AND status = ANY($3)
		`, string(campaign.LeadQueued), int64Slice(leadIDs), leadStatuses(campaign.LeadSources(campaign.LeadQueued)))
		return err
	})
	return released, err
}

func (s *Store) QueueStats(ctx context.Context, campaignID int64) (campaign.QueueStats, error) {
	var st campaign.QueueStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*) FILTER (WHERE status='pending') AS pending,
		  COUNT(*) FILTER (WHERE status='claimed') AS claimed,
		  COUNT(*) FILTER (WHERE status='sent')    AS sent,
		  COUNT(*) FILTER (WHERE status='failed')  AS failed
		FROM campaign_email_queue
		WHERE campaign_id = $1
	`, campaignID).Scan(&st.Pending, &st.Claimed, &st.Sent, &st.Failed)
	return st, err
}
