// Package store is the Postgres implementation of the dispatch tables:
// campaigns, campaign leads, the email queue, the send ledger and mailboxes.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
)

// ErrDuplicate is returned when an insert hits a unique index.
var ErrDuplicate = errors.New("store: duplicate")

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type int64Slice []int64

func (a int64Slice) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('}')
	return b.String(), nil
}

// textArray encodes status enums as a Postgres text[] literal. Values are
// enum constants and never need quoting.
type textArray []string

func (a textArray) Value() (driver.Value, error) {
	return "{" + strings.Join(a, ",") + "}", nil
}

func queueStatuses(ss []campaign.QueueStatus) textArray {
	out := make(textArray, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func leadStatuses(ss []campaign.LeadStatus) textArray {
	out := make(textArray, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
