package http

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"mailsync/core/domain"
	"mailsync/infra/middleware"

	"github.com/gofiber/fiber/v2"
)

// fakeCursorLister backs the "status for all accounts" path.
type fakeCursorLister struct {
	cursors []*domain.SyncCursor
}

func (f *fakeCursorLister) ListCursors(ctx context.Context) ([]*domain.SyncCursor, error) {
	return f.cursors, nil
}

func newSyncTestApp(engine *fakeEngine, cursors *fakeCursorLister) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	var lister cursorLister
	if cursors != nil {
		lister = cursors
	}
	h := NewSyncHandler(engine, lister)
	h.Register(app)
	return app
}

func TestSyncTriggerRunsTick(t *testing.T) {
	engine := &fakeEngine{}
	app := newSyncTestApp(engine, nil)

	body := []byte(`{"accountId":"acct-1"}`)
	req := httptest.NewRequest("POST", "/sync/trigger", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if !engine.tickCalled {
		t.Error("expected Tick to be called")
	}
	if engine.lastAccountID != "acct-1" {
		t.Errorf("accountID = %q, want %q", engine.lastAccountID, "acct-1")
	}
}

func TestSyncTriggerMissingAccountIDIsBadRequest(t *testing.T) {
	engine := &fakeEngine{}
	app := newSyncTestApp(engine, nil)

	req := httptest.NewRequest("POST", "/sync/trigger", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
	if engine.tickCalled {
		t.Error("expected Tick not to be called without an accountId")
	}
}

func TestSyncStatusForOneAccount(t *testing.T) {
	engine := &fakeEngine{}
	app := newSyncTestApp(engine, nil)

	req := httptest.NewRequest("GET", "/sync/status?accountId=acct-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestSyncStatusForAllAccountsWhenAccountIDOmitted(t *testing.T) {
	engine := &fakeEngine{}
	cursors := &fakeCursorLister{cursors: []*domain.SyncCursor{
		{AccountID: "acct-1"},
		{AccountID: "acct-2"},
	}}
	app := newSyncTestApp(engine, cursors)

	req := httptest.NewRequest("GET", "/sync/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestSyncStatusWithoutListerOrAccountIDIsBadRequest(t *testing.T) {
	engine := &fakeEngine{}
	app := newSyncTestApp(engine, nil)

	req := httptest.NewRequest("GET", "/sync/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}
