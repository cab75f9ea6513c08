// Package out declares the interfaces the core services depend on but do
// not implement — the driven side of the hexagon.
package out

import (
	"context"
	"time"

	"mailsync/core/domain"
)

// Session is an authenticated JMAP session, as returned by OpenSession.
type Session struct {
	AccountID    string
	APIURL       string
	Capabilities []string
	State        string
}

// EmailProjection is the fixed set of properties GetEmails resolves, per
// the Remote Mail Client contract.
type EmailProjection struct{}

// QueryEmailsOptions parameterizes QueryEmails.
type QueryEmailsOptions struct {
	MailboxFilter string // remote mailbox id, optional
	SinceState    string // opaque cursor, optional — empty means "from the start"
	Limit         int
}

// QueryResult is the outcome of QueryEmails/QueryThreads: a page of
// provider-ordered ids and the opaque state to resume from. An empty ID
// list with an unchanged NextState means "no new work" and the caller must
// not advance its cursor.
type QueryResult struct {
	IDs       []string
	NextState string
}

// RemoteMailClient (C1) speaks JMAP against the remote mail provider with a
// bearer credential. It never retries internally — retry is policy, owned
// by the Sync Engine.
type RemoteMailClient interface {
	OpenSession(ctx context.Context, accessToken string) (*Session, error)
	ListMailboxes(ctx context.Context, session *Session) ([]*domain.Mailbox, error)
	QueryEmails(ctx context.Context, session *Session, opts QueryEmailsOptions) (*QueryResult, error)
	GetEmails(ctx context.Context, session *Session, ids []string) ([]*domain.Email, error)
	GetEmail(ctx context.Context, session *Session, id string) (*domain.Email, error)
	ListThreads(ctx context.Context, session *Session, sinceState string, limit int) (*QueryResult, error)
	GetThreads(ctx context.Context, session *Session, ids []string) ([]*domain.Thread, error)
	SetFlags(ctx context.Context, session *Session, id string, flags map[string]bool) error
}

// TokenStore (C2) is the durable, confidential store of OAuth credentials.
type TokenStore interface {
	Put(ctx context.Context, token *domain.OAuthToken) error
	Get(ctx context.Context, accountID string) (*domain.OAuthToken, error)
	Delete(ctx context.Context, accountID string) error
	Refresh(ctx context.Context, accountID string) (*domain.OAuthToken, error)
}

// EmailBatchResult is what BatchUpsertEmails returns: the post-write rows,
// tolerating per-item conflicts without aborting the batch.
type EmailBatchResult struct {
	Written []*domain.Email
}

// ArchiveStore (C3) is the only writer and authoritative reader of archived
// state.
type ArchiveStore interface {
	// Upserts.
	UpsertMailbox(ctx context.Context, m *domain.Mailbox) (*domain.Mailbox, error)
	UpsertMailboxes(ctx context.Context, ms []*domain.Mailbox) ([]*domain.Mailbox, error)
	UpsertThread(ctx context.Context, t *domain.Thread) (*domain.Thread, error)
	UpsertEmail(ctx context.Context, e *domain.Email) (*domain.Email, error)
	BatchUpsertEmails(ctx context.Context, es []*domain.Email) (*EmailBatchResult, error)

	// Readers.
	GetEmailByRemoteID(ctx context.Context, accountID, remoteID string) (*domain.Email, error)
	GetMailboxByRemoteID(ctx context.Context, accountID, remoteID string) (*domain.Mailbox, error)
	ListMailboxes(ctx context.Context, accountID string) ([]*domain.Mailbox, error)
	GetEmailsInMailbox(ctx context.Context, mailboxID string, sort domain.SearchSort, limit, offset int) ([]*domain.Email, error)
	RecentEmails(ctx context.Context, accountID string, limit int) ([]*domain.Email, error)

	Search(ctx context.Context, accountID, queryText string, filters domain.SearchFilters, sort domain.SearchSort, limit, offset int) ([]*domain.SearchHit, error)
	Stats(ctx context.Context, accountID string) (*domain.Stats, error)

	// Integrity.
	ValidateIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityCheck, error)
	RepairIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityRepairAction, error)

	// Cursor / state machine.
	InitializeCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error)
	GetCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error)
	ListCursors(ctx context.Context) ([]*domain.SyncCursor, error)
	AdvanceCursor(ctx context.Context, accountID, newState string, emailsAdded int, status domain.SyncStatus) (*domain.SyncCursor, error)
	RecordError(ctx context.Context, accountID, message string) error
	ResetCursor(ctx context.Context, accountID string, newState *string) error

	Health(ctx context.Context) (*domain.Health, error)
}

// StaleAfter is the duration without cursor advance after which a
// syncing/completed account counts as WARNING in Health.
const StaleAfter = 24 * time.Hour
