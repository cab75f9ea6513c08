package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"mailsync/core/domain"
	"mailsync/internal/lock"
)

// fakeEngine is a minimal in.SyncEngine recording which method was called.
type fakeEngine struct {
	syncOneCalled     bool
	markDeletedCalled bool
	tickCalled        bool
	lastAccountID     string
	lastEmailID       string
	err               error
}

func (f *fakeEngine) Start(ctx context.Context) error { return nil }
func (f *fakeEngine) Stop(ctx context.Context) error  { return nil }
func (f *fakeEngine) Tick(ctx context.Context, accountID string) error {
	f.tickCalled = true
	f.lastAccountID = accountID
	return f.err
}
func (f *fakeEngine) SyncOne(ctx context.Context, accountID, remoteEmailID string) error {
	f.syncOneCalled = true
	f.lastAccountID = accountID
	f.lastEmailID = remoteEmailID
	return f.err
}
func (f *fakeEngine) MarkDeleted(ctx context.Context, accountID, remoteEmailID string) error {
	f.markDeletedCalled = true
	f.lastAccountID = accountID
	f.lastEmailID = remoteEmailID
	return f.err
}
func (f *fakeEngine) Reset(ctx context.Context, accountID string, newState *string) error {
	return nil
}
func (f *fakeEngine) Status(ctx context.Context, accountID string) (*domain.SyncCursor, error) {
	return &domain.SyncCursor{AccountID: accountID}, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAccepsMatchingHMAC(t *testing.T) {
	h := NewWebhookHandler(&fakeEngine{}, lock.New(nil), "shared-secret")
	body := []byte(`{"type":"email.received","accountId":"acct-1","emailId":"e1"}`)

	if err := h.verifySignature(body, sign("shared-secret", body)); err != nil {
		t.Errorf("expected valid signature to pass, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	h := NewWebhookHandler(&fakeEngine{}, lock.New(nil), "shared-secret")
	body := []byte(`{"type":"email.received"}`)

	if err := h.verifySignature(body, sign("wrong-secret", body)); err == nil {
		t.Error("expected mismatched signature to be rejected")
	}
}

func TestVerifySignatureFailsClosedWhenUnconfigured(t *testing.T) {
	h := NewWebhookHandler(&fakeEngine{}, lock.New(nil), "")
	body := []byte(`{"type":"email.received"}`)

	// Even a syntactically well-formed signature must be rejected: there is
	// no secret to validate it against.
	if err := h.verifySignature(body, sign("anything", body)); err == nil {
		t.Error("expected verification to fail closed when no secret is configured")
	}
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	h := NewWebhookHandler(&fakeEngine{}, lock.New(nil), "shared-secret")
	body := []byte(`{}`)

	cases := []string{"", "sha256=", "md5=deadbeef", "not-a-header"}
	for _, header := range cases {
		if err := h.verifySignature(body, header); err == nil {
			t.Errorf("header %q: expected rejection", header)
		}
	}
}
