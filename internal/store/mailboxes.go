package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

// NextAvailableMailbox resets counters of mailboxes not yet reset on today
// and returns the first active mailbox of the owner with capacity left,
// ordered by priority then least recently used.
func (s *Store) NextAvailableMailbox(ctx context.Context, ownerID int64, today time.Time) (campaign.Mailbox, bool, error) {
	day := today.Format("2006-01-02")
	if _, err := s.DB.ExecContext(ctx, `
		UPDATE mailboxes SET current_daily_sent = 0, last_reset_date = $2::date
		WHERE owner_id = $1 AND is_active
		  AND (last_reset_date IS NULL OR last_reset_date <> $2::date)
	`, ownerID, day); err != nil {
		return campaign.Mailbox{}, false, err
	}

	var m campaign.Mailbox
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, email, daily_limit, current_daily_sent
		FROM mailboxes
		WHERE owner_id = $1 AND is_active AND current_daily_sent < daily_limit
		ORDER BY priority, last_used_at NULLS FIRST, id
		LIMIT 1
	`, ownerID).Scan(&m.ID, &m.OwnerID, &m.Email, &m.DailyLimit, &m.CurrentDailySent)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Mailbox{}, false, nil
	}
	if err != nil {
		return campaign.Mailbox{}, false, err
	}
	return m, true, nil
}

// ReserveMailboxSlot takes one daily slot. false means the mailbox filled up
// since it was selected.
func (s *Store) ReserveMailboxSlot(ctx context.Context, mailboxID int64) (bool, error) {
	return affected(s.DB.ExecContext(ctx, `
		UPDATE mailboxes
		   SET current_daily_sent = current_daily_sent + 1, last_used_at = NOW()
		 WHERE id = $1 AND current_daily_sent < daily_limit
	`, mailboxID))
}

// ReleaseMailboxSlot gives back a slot taken by ReserveMailboxSlot for a job
// that was never sent.
func (s *Store) ReleaseMailboxSlot(ctx context.Context, mailboxID int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE mailboxes
		   SET current_daily_sent = GREATEST(current_daily_sent - 1, 0)
		 WHERE id = $1
	`, mailboxID)
	return err
}
