package persistence

import (
	"context"
	"time"

	"mailsync/core/domain"
	"mailsync/core/port/out"
	"mailsync/pkg/apperr"
	"mailsync/pkg/resilience"

	"github.com/jmoiron/sqlx"
)

// Store composes the per-table adapters into the single out.ArchiveStore
// the Sync Engine depends on. Each adapter owns its own table and carries
// its own entity/row-mapping; Store adds the cross-table Health read and a
// circuit breaker around the calls the tick loop makes on every batch, so a
// database outage surfaces as a classified, retryable StoreUnavailable
// instead of a raw connection error the engine would otherwise have to
// sniff out by string.
type Store struct {
	*CursorAdapter
	*MailboxAdapter
	*ThreadAdapter
	*EmailAdapter

	breaker *resilience.CircuitBreaker
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		CursorAdapter:  NewCursorAdapter(db),
		MailboxAdapter: NewMailboxAdapter(db),
		ThreadAdapter:  NewThreadAdapter(db),
		EmailAdapter:   NewEmailAdapter(db),
		breaker:        resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("archive_store")),
	}
}

var _ out.ArchiveStore = (*Store)(nil)

// withBreaker runs fn through the store's circuit breaker, translating a
// tripped breaker into the same StoreUnavailable taxon a direct connection
// failure would produce — the engine's retry policy dispatches on the
// taxon, not on which layer raised it.
func (s *Store) withBreaker(fn func() error) error {
	err := s.breaker.Execute(fn)
	if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequest {
		return apperr.StoreUnavailable("archive store circuit open", err)
	}
	return err
}

// UpsertMailboxes, BatchUpsertEmails, and the cursor writes run on every
// tick's hot path and are the ones worth tripping the breaker over; reads
// used for search/stats/integrity are left to surface plain errors.

func (s *Store) UpsertMailboxes(ctx context.Context, ms []*domain.Mailbox) ([]*domain.Mailbox, error) {
	var result []*domain.Mailbox
	err := s.withBreaker(func() error {
		var err error
		result, err = s.MailboxAdapter.UpsertMailboxes(ctx, ms)
		return err
	})
	return result, err
}

func (s *Store) BatchUpsertEmails(ctx context.Context, es []*domain.Email) (*out.EmailBatchResult, error) {
	var result *out.EmailBatchResult
	err := s.withBreaker(func() error {
		var err error
		result, err = s.EmailAdapter.BatchUpsertEmails(ctx, es)
		return err
	})
	return result, err
}

func (s *Store) GetCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	var result *domain.SyncCursor
	err := s.withBreaker(func() error {
		var err error
		result, err = s.CursorAdapter.GetCursor(ctx, accountID)
		return err
	})
	return result, err
}

func (s *Store) AdvanceCursor(ctx context.Context, accountID, newState string, emailsAdded int, status domain.SyncStatus) (*domain.SyncCursor, error) {
	var result *domain.SyncCursor
	err := s.withBreaker(func() error {
		var err error
		result, err = s.CursorAdapter.AdvanceCursor(ctx, accountID, newState, emailsAdded, status)
		return err
	})
	return result, err
}

// RepairIntegrity runs the EmailAdapter's email_search/content_hash repairs
// and adds the one repair action that spans both tables: recomputing each
// mailbox's denormalized counters against the emails actually archived for
// it, since those two can only be kept honest from outside either adapter.
func (s *Store) RepairIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityRepairAction, error) {
	actions, err := s.EmailAdapter.RepairIntegrity(ctx, accountID)
	if err != nil {
		return nil, err
	}

	recomputed, err := s.MailboxAdapter.RecomputeMailboxCounters(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return append(actions, domain.IntegrityRepairAction{Name: "recompute_mailbox_counters", Affected: recomputed}), nil
}

// Health reports ERROR if any account's cursor is in the error state,
// WARNING if any non-idle account hasn't advanced in over StaleAfter, and
// HEALTHY otherwise.
func (s *Store) Health(ctx context.Context) (*domain.Health, error) {
	cursors, err := s.ListCursors(ctx)
	if err != nil {
		return nil, err
	}

	h := &domain.Health{Status: domain.HealthHealthy, TotalAccounts: len(cursors)}
	now := time.Now()

	for _, c := range cursors {
		if c.Status == domain.SyncStatusError {
			h.ErrorAccounts++
			continue
		}
		if c.Status == domain.SyncStatusIdle {
			continue
		}
		if c.LastSyncDate == nil {
			continue
		}
		age := now.Sub(*c.LastSyncDate)
		if age > out.StaleAfter {
			h.StaleAccounts++
			if age > h.OldestStaleness {
				h.OldestStaleness = age
			}
		}
	}

	switch {
	case h.ErrorAccounts > 0:
		h.Status = domain.HealthError
	case h.StaleAccounts > 0:
		h.Status = domain.HealthWarning
	}

	return h, nil
}
