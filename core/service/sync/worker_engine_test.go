package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mailsync/core/domain"
	"mailsync/core/port/out"
	"mailsync/internal/lock"
	"mailsync/pkg/apperr"
)

// fakeStore is a minimal in-memory out.ArchiveStore for exercising the
// Sync Engine's tick loop without a real Postgres connection.
type fakeStore struct {
	cursors map[string]*domain.SyncCursor
	emails  map[string]*domain.Email // keyed by accountID/remoteID

	advanceCalls []domain.SyncStatus
	upsertedMbx  []*domain.Mailbox
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cursors: make(map[string]*domain.SyncCursor),
		emails:  make(map[string]*domain.Email),
	}
}

func emailKey(accountID, remoteID string) string { return accountID + "/" + remoteID }

func (s *fakeStore) UpsertMailbox(ctx context.Context, m *domain.Mailbox) (*domain.Mailbox, error) {
	return m, nil
}

func (s *fakeStore) UpsertMailboxes(ctx context.Context, ms []*domain.Mailbox) ([]*domain.Mailbox, error) {
	s.upsertedMbx = append(s.upsertedMbx, ms...)
	return ms, nil
}

func (s *fakeStore) UpsertThread(ctx context.Context, t *domain.Thread) (*domain.Thread, error) {
	return t, nil
}

func (s *fakeStore) UpsertEmail(ctx context.Context, e *domain.Email) (*domain.Email, error) {
	s.emails[emailKey(e.AccountID, e.RemoteID)] = e
	return e, nil
}

func (s *fakeStore) BatchUpsertEmails(ctx context.Context, es []*domain.Email) (*out.EmailBatchResult, error) {
	for _, e := range es {
		s.emails[emailKey(e.AccountID, e.RemoteID)] = e
	}
	return &out.EmailBatchResult{Written: es}, nil
}

func (s *fakeStore) GetEmailByRemoteID(ctx context.Context, accountID, remoteID string) (*domain.Email, error) {
	e, ok := s.emails[emailKey(accountID, remoteID)]
	if !ok {
		return nil, apperr.NotFound("email")
	}
	return e, nil
}

func (s *fakeStore) GetMailboxByRemoteID(ctx context.Context, accountID, remoteID string) (*domain.Mailbox, error) {
	return nil, apperr.NotFound("mailbox")
}

func (s *fakeStore) ListMailboxes(ctx context.Context, accountID string) ([]*domain.Mailbox, error) {
	return nil, nil
}

func (s *fakeStore) GetEmailsInMailbox(ctx context.Context, mailboxID string, sort domain.SearchSort, limit, offset int) ([]*domain.Email, error) {
	return nil, nil
}

func (s *fakeStore) RecentEmails(ctx context.Context, accountID string, limit int) ([]*domain.Email, error) {
	return nil, nil
}

func (s *fakeStore) Search(ctx context.Context, accountID, queryText string, filters domain.SearchFilters, sort domain.SearchSort, limit, offset int) ([]*domain.SearchHit, error) {
	return nil, nil
}

func (s *fakeStore) Stats(ctx context.Context, accountID string) (*domain.Stats, error) {
	return &domain.Stats{}, nil
}

func (s *fakeStore) ValidateIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityCheck, error) {
	return nil, nil
}

func (s *fakeStore) RepairIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityRepairAction, error) {
	return nil, nil
}

func (s *fakeStore) InitializeCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	c := &domain.SyncCursor{AccountID: accountID, Status: domain.SyncStatusIdle}
	s.cursors[accountID] = c
	return c, nil
}

func (s *fakeStore) GetCursor(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	c, ok := s.cursors[accountID]
	if !ok {
		return nil, apperr.NotFound("cursor")
	}
	return c, nil
}

func (s *fakeStore) ListCursors(ctx context.Context) ([]*domain.SyncCursor, error) {
	all := make([]*domain.SyncCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		all = append(all, c)
	}
	return all, nil
}

func (s *fakeStore) AdvanceCursor(ctx context.Context, accountID, newState string, emailsAdded int, status domain.SyncStatus) (*domain.SyncCursor, error) {
	c, ok := s.cursors[accountID]
	if !ok {
		c = &domain.SyncCursor{AccountID: accountID}
		s.cursors[accountID] = c
	}
	c.LastSyncToken = newState
	c.TotalEmailsSynced += int64(emailsAdded)
	c.Status = status
	s.advanceCalls = append(s.advanceCalls, status)
	return c, nil
}

func (s *fakeStore) RecordError(ctx context.Context, accountID, message string) error {
	if c, ok := s.cursors[accountID]; ok {
		c.LastError = message
		c.Status = domain.SyncStatusError
	}
	return nil
}

func (s *fakeStore) ResetCursor(ctx context.Context, accountID string, newState *string) error {
	c, ok := s.cursors[accountID]
	if !ok {
		c = &domain.SyncCursor{AccountID: accountID}
		s.cursors[accountID] = c
	}
	if newState != nil {
		c.LastSyncToken = *newState
	} else {
		c.LastSyncToken = ""
	}
	c.Status = domain.SyncStatusIdle
	return nil
}

func (s *fakeStore) Health(ctx context.Context) (*domain.Health, error) {
	return &domain.Health{Status: domain.HealthHealthy}, nil
}

var _ out.ArchiveStore = (*fakeStore)(nil)

// fakeRemote is a minimal out.RemoteMailClient serving one page of emails.
type fakeRemote struct {
	pages      [][]string // one []string per QueryEmails call
	pageCalled int
	emails     map[string]*domain.Email
	openErr    error
}

func (r *fakeRemote) OpenSession(ctx context.Context, accessToken string) (*out.Session, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &out.Session{AccountID: "acct-1", APIURL: "https://jmap.example.com"}, nil
}

func (r *fakeRemote) ListMailboxes(ctx context.Context, session *out.Session) ([]*domain.Mailbox, error) {
	return []*domain.Mailbox{{RemoteID: "mbx-1", Name: "Inbox"}}, nil
}

func (r *fakeRemote) QueryEmails(ctx context.Context, session *out.Session, opts out.QueryEmailsOptions) (*out.QueryResult, error) {
	if r.pageCalled >= len(r.pages) {
		return &out.QueryResult{NextState: opts.SinceState}, nil
	}
	ids := r.pages[r.pageCalled]
	r.pageCalled++
	return &out.QueryResult{IDs: ids, NextState: fmt.Sprintf("state-%d", r.pageCalled)}, nil
}

func (r *fakeRemote) GetEmails(ctx context.Context, session *out.Session, ids []string) ([]*domain.Email, error) {
	var found []*domain.Email
	for _, id := range ids {
		if e, ok := r.emails[id]; ok {
			found = append(found, e)
		}
	}
	return found, nil
}

func (r *fakeRemote) GetEmail(ctx context.Context, session *out.Session, id string) (*domain.Email, error) {
	if e, ok := r.emails[id]; ok {
		return e, nil
	}
	return nil, apperr.NotFound("email")
}

func (r *fakeRemote) ListThreads(ctx context.Context, session *out.Session, sinceState string, limit int) (*out.QueryResult, error) {
	return &out.QueryResult{}, nil
}

func (r *fakeRemote) GetThreads(ctx context.Context, session *out.Session, ids []string) ([]*domain.Thread, error) {
	return nil, nil
}

func (r *fakeRemote) SetFlags(ctx context.Context, session *out.Session, id string, flags map[string]bool) error {
	return nil
}

var _ out.RemoteMailClient = (*fakeRemote)(nil)

// fakeTokens is a minimal out.TokenStore that never needs a refresh.
type fakeTokens struct {
	token *domain.OAuthToken
}

func (t *fakeTokens) Put(ctx context.Context, token *domain.OAuthToken) error {
	t.token = token
	return nil
}

func (t *fakeTokens) Get(ctx context.Context, accountID string) (*domain.OAuthToken, error) {
	if t.token == nil {
		return nil, apperr.NotFound("token")
	}
	return t.token, nil
}

func (t *fakeTokens) Delete(ctx context.Context, accountID string) error {
	t.token = nil
	return nil
}

func (t *fakeTokens) Refresh(ctx context.Context, accountID string) (*domain.OAuthToken, error) {
	t.token.ExpiresAt = time.Now().Add(time.Hour)
	return t.token, nil
}

var _ out.TokenStore = (*fakeTokens)(nil)

func validToken() *domain.OAuthToken {
	return &domain.OAuthToken{
		AccountID:   "acct-1",
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestTickSyncsEmailsAndAdvancesCursor(t *testing.T) {
	store := newFakeStore()
	remote := &fakeRemote{
		pages: [][]string{{"e1", "e2"}},
		emails: map[string]*domain.Email{
			"e1": {RemoteID: "e1", Subject: "Hello"},
			"e2": {RemoteID: "e2", Subject: "World"},
		},
	}
	tokens := &fakeTokens{token: validToken()}
	engine := NewEngine(store, remote, tokens, lock.New(nil), Config{BatchSize: 50})

	if err := engine.Tick(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	cursor, err := store.GetCursor(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor.Status != domain.SyncStatusCompleted {
		t.Errorf("status = %v, want %v", cursor.Status, domain.SyncStatusCompleted)
	}
	if cursor.TotalEmailsSynced != 2 {
		t.Errorf("TotalEmailsSynced = %d, want 2", cursor.TotalEmailsSynced)
	}
	if len(store.emails) != 2 {
		t.Errorf("persisted emails = %d, want 2", len(store.emails))
	}
}

func TestTickInitializesCursorOnFirstRun(t *testing.T) {
	store := newFakeStore()
	remote := &fakeRemote{}
	tokens := &fakeTokens{token: validToken()}
	engine := NewEngine(store, remote, tokens, lock.New(nil), Config{})

	if err := engine.Tick(context.Background(), "new-acct"); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if _, err := store.GetCursor(context.Background(), "new-acct"); err != nil {
		t.Errorf("expected cursor to be initialized, got error: %v", err)
	}
}

func TestTickRecordsFailureOnOpenSessionError(t *testing.T) {
	store := newFakeStore()
	remote := &fakeRemote{openErr: apperr.AuthFailure("bad credential", nil)}
	tokens := &fakeTokens{token: validToken()}
	engine := NewEngine(store, remote, tokens, lock.New(nil), Config{})

	err := engine.Tick(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected Tick to return an error")
	}

	cursor, getErr := store.GetCursor(context.Background(), "acct-1")
	if getErr != nil {
		t.Fatalf("GetCursor: %v", getErr)
	}
	if cursor.Status != domain.SyncStatusError {
		t.Errorf("status = %v, want %v", cursor.Status, domain.SyncStatusError)
	}
	if cursor.LastError == "" {
		t.Error("expected LastError to be recorded")
	}
}

func TestSyncOneUpsertsSingleEmail(t *testing.T) {
	store := newFakeStore()
	remote := &fakeRemote{emails: map[string]*domain.Email{
		"e9": {RemoteID: "e9", Subject: "Direct push"},
	}}
	tokens := &fakeTokens{token: validToken()}
	engine := NewEngine(store, remote, tokens, lock.New(nil), Config{})

	if err := engine.SyncOne(context.Background(), "acct-1", "e9"); err != nil {
		t.Fatalf("SyncOne returned error: %v", err)
	}

	got, err := store.GetEmailByRemoteID(context.Background(), "acct-1", "e9")
	if err != nil {
		t.Fatalf("GetEmailByRemoteID: %v", err)
	}
	if got.Subject != "Direct push" {
		t.Errorf("subject = %q, want %q", got.Subject, "Direct push")
	}
}

func TestMarkDeletedFlipsIsDeleted(t *testing.T) {
	store := newFakeStore()
	store.emails[emailKey("acct-1", "e5")] = &domain.Email{AccountID: "acct-1", RemoteID: "e5"}
	remote := &fakeRemote{}
	tokens := &fakeTokens{token: validToken()}
	engine := NewEngine(store, remote, tokens, lock.New(nil), Config{})

	if err := engine.MarkDeleted(context.Background(), "acct-1", "e5"); err != nil {
		t.Fatalf("MarkDeleted returned error: %v", err)
	}

	got, err := store.GetEmailByRemoteID(context.Background(), "acct-1", "e5")
	if err != nil {
		t.Fatalf("GetEmailByRemoteID: %v", err)
	}
	if !got.IsDeleted {
		t.Error("expected IsDeleted = true")
	}
}

func TestResetClearsCursor(t *testing.T) {
	store := newFakeStore()
	store.cursors["acct-1"] = &domain.SyncCursor{AccountID: "acct-1", LastSyncToken: "state-5", Status: domain.SyncStatusCompleted}
	remote := &fakeRemote{}
	tokens := &fakeTokens{token: validToken()}
	engine := NewEngine(store, remote, tokens, lock.New(nil), Config{})

	if err := engine.Reset(context.Background(), "acct-1", nil); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	cursor, err := store.GetCursor(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor.LastSyncToken != "" {
		t.Errorf("LastSyncToken = %q, want empty after reset", cursor.LastSyncToken)
	}
	if cursor.Status != domain.SyncStatusIdle {
		t.Errorf("status = %v, want %v", cursor.Status, domain.SyncStatusIdle)
	}
}
