package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"mailsync/core/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ThreadAdapter persists conversation threads.
type ThreadAdapter struct {
	db *sqlx.DB
}

func NewThreadAdapter(db *sqlx.DB) *ThreadAdapter {
	return &ThreadAdapter{db: db}
}

type threadEntity struct {
	ID                int64          `db:"id"`
	RemoteID          string         `db:"remote_id"`
	AccountID         string         `db:"account_id"`
	EmailRemoteIDs    pq.StringArray `db:"email_remote_ids"`
	Subject           string         `db:"subject"`
	MailboxMembership []byte         `db:"mailbox_membership"`
	MessageCount      int            `db:"message_count"`
	UnreadCount       int            `db:"unread_count"`
	LastMessageDate   sql.NullTime   `db:"last_message_date"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (e *threadEntity) toDomain() *domain.Thread {
	t := &domain.Thread{
		ID:                e.RemoteID,
		AccountID:         e.AccountID,
		EmailRemoteIDs:    []string(e.EmailRemoteIDs),
		Subject:           e.Subject,
		MailboxMembership: decodeMailboxMembership(e.MailboxMembership),
		MessageCount:      e.MessageCount,
		UnreadCount:       e.UnreadCount,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if e.LastMessageDate.Valid {
		lastMessage := e.LastMessageDate.Time
		t.LastMessageDate = &lastMessage
	}
	return t
}

func (a *ThreadAdapter) UpsertThread(ctx context.Context, t *domain.Thread) (*domain.Thread, error) {
	membership, err := encodeMailboxMembership(t.MailboxMembership)
	if err != nil {
		return nil, err
	}

	var e threadEntity
	query := `
		INSERT INTO threads (
			remote_id, account_id, email_remote_ids, subject,
			mailbox_membership, message_count, unread_count, last_message_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, remote_id) DO UPDATE SET
			email_remote_ids = EXCLUDED.email_remote_ids,
			subject = EXCLUDED.subject,
			mailbox_membership = EXCLUDED.mailbox_membership,
			message_count = EXCLUDED.message_count,
			unread_count = EXCLUDED.unread_count,
			last_message_date = EXCLUDED.last_message_date,
			updated_at = NOW()
		RETURNING *`
	err = a.db.GetContext(ctx, &e, query,
		t.ID, t.AccountID, pq.Array(t.EmailRemoteIDs), t.Subject,
		membership, len(t.EmailRemoteIDs), t.UnreadCount, nullableTime(derefTime(t.LastMessageDate)),
	)
	if err != nil {
		return nil, err
	}
	return e.toDomain(), nil
}

func decodeMailboxMembership(raw []byte) map[string]bool {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]bool
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func encodeMailboxMembership(m map[string]bool) ([]byte, error) {
	if m == nil {
		m = map[string]bool{}
	}
	return json.Marshal(m)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
