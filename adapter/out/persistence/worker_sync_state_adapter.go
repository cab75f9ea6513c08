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

// CursorAdapter implements out.ArchiveStore's cursor/state-machine half.
type CursorAdapter struct {
	db *sqlx.DB
}

func NewCursorAdapter(db *sqlx.DB) *CursorAdapter {
	return &CursorAdapter{db: db}
}

type cursorEntity struct {
	AccountID         string         `db:"account_id"`
	LastSyncToken     sql.NullString `db:"last_sync_token"`
	LastSyncDate      sql.NullTime   `db:"last_sync_date"`
	TotalEmailsSynced int64          `db:"total_emails_synced"`
	LastError         sql.NullString `db:"last_error"`
	Status            string         `db:"status"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (e *cursorEntity) toDomain() *domain.SyncCursor {
	c := &domain.SyncCursor{
		AccountID:         e.AccountID,
		TotalEmailsSynced: e.TotalEmailsSynced,
		Status:            domain.SyncStatus(e.Status),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if e.LastSyncToken.Valid {
		c.LastSyncToken = e.LastSyncToken.String
	}
	if e.LastSyncDate.Valid {
		t := e.LastSyncDate.Time
		c.LastSyncDate = &t
	}
	if e.LastError.Valid {
		c.LastError = e.LastError.String
	}
	return c
}

func (a *CursorAdapter) InitializeCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	var e cursorEntity
	query := `
		INSERT INTO sync_cursors (account_id, status)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET account_id = sync_cursors.account_id
		RETURNING *`
	if err := a.db.GetContext(ctx, &e, query, accountID, string(domain.SyncStatusIdle)); err != nil {
		return nil, err
	}
	return e.toDomain(), nil
}

func (a *CursorAdapter) GetCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	var e cursorEntity
	query := `SELECT * FROM sync_cursors WHERE account_id = $1`
	if err := a.db.GetContext(ctx, &e, query, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("sync cursor for account %s", accountID))
		}
		return nil, err
	}
	return e.toDomain(), nil
}

func (a *CursorAdapter) ListCursors(ctx context.Context) ([]*domain.SyncCursor, error) {
	var entities []cursorEntity
	query := `SELECT * FROM sync_cursors ORDER BY account_id`
	if err := a.db.SelectContext(ctx, &entities, query); err != nil {
		return nil, err
	}
	cursors := make([]*domain.SyncCursor, len(entities))
	for i, e := range entities {
		cursors[i] = e.toDomain()
	}
	return cursors, nil
}

// AdvanceCursor persists the outcome of one durably-committed batch: the new
// opaque sync token, the running total, and the resulting status. It is the
// only way LastSyncToken moves forward, and it moves forward only after the
// caller has already committed the corresponding batch.
func (a *CursorAdapter) AdvanceCursor(ctx context.Context, accountID, newState string, emailsAdded int, status domain.SyncStatus) (*domain.SyncCursor, error) {
	var e cursorEntity
	query := `
		UPDATE sync_cursors SET
			last_sync_token = $1,
			last_sync_date = NOW(),
			total_emails_synced = total_emails_synced + $2,
			status = $3,
			last_error = NULL,
			updated_at = NOW()
		WHERE account_id = $4
		RETURNING *`
	if err := a.db.GetContext(ctx, &e, query, newState, emailsAdded, string(status), accountID); err != nil {
		return nil, err
	}
	return e.toDomain(), nil
}

func (a *CursorAdapter) RecordError(ctx context.Context, accountID, message string) error {
	query := `
		UPDATE sync_cursors SET
			status = $1,
			last_error = $2,
			updated_at = NOW()
		WHERE account_id = $3`
	_, err := a.db.ExecContext(ctx, query, string(domain.SyncStatusError), message, accountID)
	return err
}

// ResetCursor clears an account back to the start of its stream, or to
// newState when provided, forcing the next tick to resync from there.
func (a *CursorAdapter) ResetCursor(ctx context.Context, accountID string, newState *string) error {
	query := `
		UPDATE sync_cursors SET
			last_sync_token = $1,
			status = $2,
			last_error = NULL,
			updated_at = NOW()
		WHERE account_id = $3`
	_, err := a.db.ExecContext(ctx, query, toNullableString(derefOrEmpty(newState)), string(domain.SyncStatusIdle), accountID)
	return err
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toNullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
