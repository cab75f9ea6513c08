package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mailsync/core/domain"
	"mailsync/pkg/apperr"

	"github.com/jmoiron/sqlx"
)

// MailboxAdapter persists the mailbox (folder) half of the archive.
type MailboxAdapter struct {
	db *sqlx.DB
}

func NewMailboxAdapter(db *sqlx.DB) *MailboxAdapter {
	return &MailboxAdapter{db: db}
}

type mailboxEntity struct {
	ID             int64          `db:"id"`
	RemoteID       string         `db:"remote_id"`
	AccountID      string         `db:"account_id"`
	Name           string         `db:"name"`
	ParentRemoteID sql.NullString `db:"parent_remote_id"`
	Role           sql.NullString `db:"role"`
	SortOrder      int            `db:"sort_order"`
	TotalEmails    int            `db:"total_emails"`
	UnreadEmails   int            `db:"unread_emails"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (e *mailboxEntity) toDomain() *domain.Mailbox {
	m := &domain.Mailbox{
		ID:           e.ID,
		RemoteID:     e.RemoteID,
		AccountID:    e.AccountID,
		Name:         e.Name,
		SortOrder:    e.SortOrder,
		TotalEmails:  e.TotalEmails,
		UnreadEmails: e.UnreadEmails,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.ParentRemoteID.Valid {
		m.ParentRemoteID = e.ParentRemoteID.String
	}
	if e.Role.Valid {
		m.Role = e.Role.String
	}
	return m
}

func (a *MailboxAdapter) UpsertMailbox(ctx context.Context, m *domain.Mailbox) (*domain.Mailbox, error) {
	var e mailboxEntity
	query := `
		INSERT INTO mailboxes (
			remote_id, account_id, name, parent_remote_id, role,
			sort_order, total_emails, unread_emails
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			parent_remote_id = EXCLUDED.parent_remote_id,
			role = EXCLUDED.role,
			sort_order = EXCLUDED.sort_order,
			total_emails = EXCLUDED.total_emails,
			unread_emails = EXCLUDED.unread_emails,
			updated_at = NOW()
		RETURNING *`
	err := a.db.GetContext(ctx, &e, query,
		m.RemoteID, m.AccountID, m.Name, toNullableString(m.ParentRemoteID), toNullableString(m.Role),
		m.SortOrder, m.TotalEmails, m.UnreadEmails,
	)
	if err != nil {
		return nil, err
	}
	return e.toDomain(), nil
}

// UpsertMailboxes upserts the whole folder tree for an account in one
// transaction; mailboxes always land before the emails that reference them.
func (a *MailboxAdapter) UpsertMailboxes(ctx context.Context, ms []*domain.Mailbox) ([]*domain.Mailbox, error) {
	if len(ms) == 0 {
		return nil, nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO mailboxes (
			remote_id, account_id, name, parent_remote_id, role,
			sort_order, total_emails, unread_emails
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			parent_remote_id = EXCLUDED.parent_remote_id,
			role = EXCLUDED.role,
			sort_order = EXCLUDED.sort_order,
			total_emails = EXCLUDED.total_emails,
			unread_emails = EXCLUDED.unread_emails,
			updated_at = NOW()
		RETURNING *`

	out := make([]*domain.Mailbox, 0, len(ms))
	for _, m := range ms {
		var e mailboxEntity
		err := tx.QueryRowxContext(ctx, query,
			m.RemoteID, m.AccountID, m.Name, toNullableString(m.ParentRemoteID), toNullableString(m.Role),
			m.SortOrder, m.TotalEmails, m.UnreadEmails,
		).StructScan(&e)
		if err != nil {
			return nil, err
		}
		out = append(out, e.toDomain())
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *MailboxAdapter) GetMailboxByRemoteID(ctx context.Context, accountID, remoteID string) (*domain.Mailbox, error) {
	var e mailboxEntity
	query := `SELECT * FROM mailboxes WHERE account_id = $1 AND remote_id = $2`
	if err := a.db.GetContext(ctx, &e, query, accountID, remoteID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("mailbox %s for account %s", remoteID, accountID))
		}
		return nil, err
	}
	return e.toDomain(), nil
}

func (a *MailboxAdapter) ListMailboxes(ctx context.Context, accountID string) ([]*domain.Mailbox, error) {
	var entities []mailboxEntity
	query := `SELECT * FROM mailboxes WHERE account_id = $1 ORDER BY sort_order, name`
	if err := a.db.SelectContext(ctx, &entities, query, accountID); err != nil {
		return nil, err
	}
	out := make([]*domain.Mailbox, len(entities))
	for i, e := range entities {
		out[i] = e.toDomain()
	}
	return out, nil
}

// RecomputeMailboxCounters sets every mailbox's total_emails/unread_emails
// to match an actual COUNT(*) over emails, correcting drift left behind by
// a tick that crashed between writing the email rows and the mailbox
// counters the provider last reported. It reports the number of mailbox
// rows whose counters were wrong.
func (a *MailboxAdapter) RecomputeMailboxCounters(ctx context.Context, accountID string) (int, error) {
	const query = `
		UPDATE mailboxes m SET
			total_emails = coalesce(c.total, 0),
			unread_emails = coalesce(c.unread, 0),
			updated_at = NOW()
		FROM mailboxes m2
		LEFT JOIN (
			SELECT mailbox_remote_id, COUNT(*) AS total, COUNT(*) FILTER (WHERE NOT is_read) AS unread
			FROM emails
			WHERE account_id = $1 AND NOT is_deleted
			GROUP BY mailbox_remote_id
		) c ON c.mailbox_remote_id = m2.remote_id
		WHERE m.id = m2.id AND m2.account_id = $1
		AND (m.total_emails IS DISTINCT FROM coalesce(c.total, 0)
			OR m.unread_emails IS DISTINCT FROM coalesce(c.unread, 0))`

	res, err := a.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
