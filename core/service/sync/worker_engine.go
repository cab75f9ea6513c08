// Package sync implements the Sync Engine (C4): the per-account tick
// algorithm that pulls mailboxes and emails from the Remote Mail Client and
// durably persists them through the Archive Store.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailsync/core/domain"
	"mailsync/core/port/in"
	"mailsync/core/port/out"
	"mailsync/internal/lock"
	"mailsync/pkg/apperr"
	"mailsync/pkg/logger"
	"mailsync/pkg/resilience"
)

var _ in.SyncEngine = (*Engine)(nil)

// Config tunes the tick loop; zero values fall back to sane defaults via
// NewEngine.
type Config struct {
	AccountIDs   []string
	TickInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
	MaxDelay     time.Duration
}

// Engine is the default in.SyncEngine, wiring the Remote Mail Client, the
// Token Store, and the Archive Store together under one per-account tick
// lock.
type Engine struct {
	store  out.ArchiveStore
	remote out.RemoteMailClient
	tokens out.TokenStore
	locker *lock.Locker
	cfg    Config

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(store out.ArchiveStore, remote out.RemoteMailClient, tokens out.TokenStore, locker *lock.Locker, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Minute
	}
	return &Engine{store: store, remote: remote, tokens: tokens, locker: locker, cfg: cfg}
}

// Start begins one ticker goroutine that ticks every configured account
// once right away and then on every cfg.TickInterval. A slow or stuck account never blocks the others — each
// account's tick runs in its own goroutine, excluded from overlapping
// itself by the per-account Redis lock, not by this loop.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run()

	logger.Info("[sync.Engine] started, ticking %d account(s) every %s", len(e.cfg.AccountIDs), e.cfg.TickInterval)
	return nil
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.tickAll()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.tickAll()
		}
	}
}

func (e *Engine) tickAll() {
	for _, accountID := range e.cfg.AccountIDs {
		accountID := accountID
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.Tick(e.runCtx, accountID); err != nil && !apperr.IsCancelled(err) {
				logger.Error("[sync.Engine] tick failed for account %s: %v", accountID, err)
			}
		}()
	}
}

// Stop cancels the ticker and waits for every in-flight tick goroutine to
// finish its current batch before returning, so a shutdown never truncates
// a batch mid-persist.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("[sync.Engine] stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one full sync pass for accountID. It is mutually exclusive with
// itself across the whole deployment via a Redis-backed lock; a Tick that
// finds the lock already held returns immediately without error, treating
// "someone else is already syncing this account" as success rather than
// failure. When the Locker has no Redis client every acquire succeeds, so
// concurrent Ticks for one account are not excluded.
func (e *Engine) Tick(ctx context.Context, accountID string) error {
	ctx = context.WithValue(ctx, "account_id", accountID)

	acquired, err := e.locker.AcquireTick(ctx, accountID)
	if err != nil {
		return apperr.StoreUnavailable("failed to acquire tick lock", err)
	}
	if !acquired {
		logger.Debug("[sync.Engine] tick for %s already in progress, skipping", accountID)
		return nil
	}
	defer e.locker.ReleaseTick(ctx, accountID)

	cursor, err := e.loadOrInitCursor(ctx, accountID)
	if err != nil {
		return err
	}

	if _, err := e.store.AdvanceCursor(ctx, accountID, cursor.LastSyncToken, 0, domain.SyncStatusSyncing); err != nil {
		return err
	}

	session, err := e.openSession(ctx, accountID)
	if err != nil {
		e.recordFailure(ctx, accountID, err)
		return err
	}

	if err := e.syncMailboxes(ctx, session); err != nil {
		e.recordFailure(ctx, accountID, err)
		return err
	}

	totalAdded, finalState, err := e.syncEmailBatches(ctx, accountID, session, cursor.LastSyncToken)
	if err != nil {
		e.recordFailure(ctx, accountID, err)
		return err
	}

	// Per-batch AdvanceCursor calls inside syncEmailBatches already persisted
	// both the state token and the running count for every batch that landed;
	// this final call only flips the status to completed at the state the
	// loop actually reached.
	if _, err := e.store.AdvanceCursor(ctx, accountID, finalState, 0, domain.SyncStatusCompleted); err != nil {
		return err
	}

	logger.WithContext(ctx).Info("[sync.Engine] tick complete: %d emails synced", totalAdded)
	return nil
}

func (e *Engine) loadOrInitCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	cursor, err := e.store.GetCursor(ctx, accountID)
	if err == nil {
		return cursor, nil
	}
	appErr := apperr.AsAppError(err)
	if appErr.Code != apperr.CodeNotFound {
		return nil, err
	}
	return e.store.InitializeCursor(ctx, accountID)
}

func (e *Engine) recordFailure(ctx context.Context, accountID string, err error) {
	if recErr := e.store.RecordError(ctx, accountID, err.Error()); recErr != nil {
		logger.Error("[sync.Engine] failed to record error for %s: %v", accountID, recErr)
	}
}

// openSession exchanges the account's stored credential for a JMAP session,
// refreshing the access token first if it is already stale and once more
// if the provider rejects it outright — the single-retry-on-401 policy.
func (e *Engine) openSession(ctx context.Context, accountID string) (*out.Session, error) {
	token, err := e.tokens.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if token.NeedsRefresh() {
		token, err = e.tokens.Refresh(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	session, err := e.remote.OpenSession(ctx, token.AccessToken)
	if err == nil {
		return session, nil
	}
	if !apperr.IsAuthFailure(err) {
		return nil, err
	}

	logger.Warn("[sync.Engine] session rejected for %s, refreshing token once", accountID)
	token, refreshErr := e.tokens.Refresh(ctx, accountID)
	if refreshErr != nil {
		return nil, refreshErr
	}
	return e.remote.OpenSession(ctx, token.AccessToken)
}

func (e *Engine) syncMailboxes(ctx context.Context, session *out.Session) error {
	mailboxes, err := e.remote.ListMailboxes(ctx, session)
	if err != nil {
		return err
	}
	for _, m := range mailboxes {
		m.AccountID = session.AccountID
	}

	return e.retry(ctx, func(ctx context.Context) error {
		_, err := e.store.UpsertMailboxes(ctx, mailboxes)
		return err
	})
}

// syncEmailBatches pulls emails page by page starting at sinceState,
// persisting and advancing the durable cursor after every batch so a crash
// mid-sync resumes no earlier than the last batch that actually landed.
func (e *Engine) syncEmailBatches(ctx context.Context, accountID string, session *out.Session, sinceState string) (int, string, error) {
	totalAdded := 0

	for {
		var page *out.QueryResult
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			page, err = e.remote.QueryEmails(ctx, session, out.QueryEmailsOptions{
				SinceState: sinceState,
				Limit:      e.cfg.BatchSize,
			})
			return err
		})
		if err != nil {
			return totalAdded, sinceState, err
		}

		if len(page.IDs) == 0 {
			if page.NextState == sinceState {
				break
			}
			sinceState = page.NextState
			continue
		}

		added, err := e.syncEmailPage(ctx, accountID, session, page.IDs)
		if err != nil {
			return totalAdded, sinceState, err
		}
		totalAdded += added
		sinceState = page.NextState

		if _, err := e.store.AdvanceCursor(ctx, accountID, sinceState, added, domain.SyncStatusSyncing); err != nil {
			return totalAdded, sinceState, err
		}

		if len(page.IDs) < e.cfg.BatchSize {
			break
		}
	}

	return totalAdded, sinceState, nil
}

func (e *Engine) syncEmailPage(ctx context.Context, accountID string, session *out.Session, ids []string) (int, error) {
	var emails []*domain.Email
	err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		emails, err = e.remote.GetEmails(ctx, session, ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, em := range emails {
		em.AccountID = accountID
	}

	var result *out.EmailBatchResult
	err = e.retry(ctx, func(ctx context.Context) error {
		var err error
		result, err = e.store.BatchUpsertEmails(ctx, emails)
		return err
	})
	if err != nil {
		return 0, err
	}

	e.syncThreadsFor(ctx, accountID, session, result.Written)
	return len(result.Written), nil
}

// syncThreadsFor keeps thread metadata current for whatever emails just
// landed. A thread fetch failure is logged and skipped rather than failing
// the tick — thread membership is a derived convenience, not part of the
// durable cursor's own progress guarantee.
func (e *Engine) syncThreadsFor(ctx context.Context, accountID string, session *out.Session, emails []*domain.Email) {
	seen := make(map[string]bool, len(emails))
	var threadIDs []string
	for _, em := range emails {
		if em.ThreadID == "" || seen[em.ThreadID] {
			continue
		}
		seen[em.ThreadID] = true
		threadIDs = append(threadIDs, em.ThreadID)
	}
	if len(threadIDs) == 0 {
		return
	}

	threads, err := e.remote.GetThreads(ctx, session, threadIDs)
	if err != nil {
		logger.Warn("[sync.Engine] thread fetch failed for %s: %v", accountID, err)
		return
	}

	for _, t := range threads {
		t.AccountID = accountID
		if _, err := e.store.UpsertThread(ctx, t); err != nil {
			logger.Warn("[sync.Engine] thread upsert failed for %s/%s: %v", accountID, t.ID, err)
		}
	}
}

// SyncOne upserts a single email out of cursor order — the webhook-driven
// fast path, independent of the batch loop and its lock.
func (e *Engine) SyncOne(ctx context.Context, accountID, remoteEmailID string) error {
	session, err := e.openSession(ctx, accountID)
	if err != nil {
		return err
	}

	email, err := e.remote.GetEmail(ctx, session, remoteEmailID)
	if err != nil {
		return err
	}
	email.AccountID = accountID

	_, err = e.store.UpsertEmail(ctx, email)
	return err
}

// MarkDeleted soft-deletes the local record of an email the provider no
// longer has — the Archive Store has no hard-delete operation, so deletion
// is expressed as a flag flip through the same upsert path every other
// write takes.
func (e *Engine) MarkDeleted(ctx context.Context, accountID, remoteEmailID string) error {
	email, err := e.store.GetEmailByRemoteID(ctx, accountID, remoteEmailID)
	if err != nil {
		return err
	}
	email.IsDeleted = true
	_, err = e.store.UpsertEmail(ctx, email)
	return err
}

// Reset excludes a concurrent Tick for the same account via the same tick
// lock Tick itself uses, so a reset can never race a batch that is already
// advancing the cursor it is about to clear.
func (e *Engine) Reset(ctx context.Context, accountID string, newState *string) error {
	acquired, err := e.locker.AcquireTick(ctx, accountID)
	if err != nil {
		return apperr.StoreUnavailable("failed to acquire tick lock", err)
	}
	if !acquired {
		return apperr.BadRequest(fmt.Sprintf("account %s has a sync in progress, try again shortly", accountID))
	}
	defer e.locker.ReleaseTick(ctx, accountID)

	return e.store.ResetCursor(ctx, accountID, newState)
}

func (e *Engine) Status(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	return e.store.GetCursor(ctx, accountID)
}

func (e *Engine) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries: e.cfg.MaxRetries,
		BaseDelay:  e.cfg.RetryDelay,
		MaxDelay:   e.cfg.MaxDelay,
	}, apperr.IsRetryable, fn)
}
