package http

import (
	"context"

	"mailsync/core/domain"
	"mailsync/core/port/in"
	"mailsync/pkg/apperr"
	"mailsync/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// cursorLister is the narrow slice of out.ArchiveStore the status endpoint
// needs to answer "list the cursor for every account" — accepted as its
// own tiny interface rather than the whole Archive Store so this handler
// doesn't take a dependency wider than what it actually calls.
type cursorLister interface {
	ListCursors(ctx context.Context) ([]*domain.SyncCursor, error)
}

// SyncHandler exposes the operator-facing manual-trigger and status
// surface over the Sync Engine. Both routes are guarded by
// middleware.OperatorAuth at registration time, not here.
type SyncHandler struct {
	engine  in.SyncEngine
	cursors cursorLister
}

func NewSyncHandler(engine in.SyncEngine, cursors cursorLister) *SyncHandler {
	return &SyncHandler{engine: engine, cursors: cursors}
}

func (h *SyncHandler) Register(router fiber.Router) {
	router.Post("/sync/trigger", h.Trigger)
	router.Get("/sync/status", h.Status)
}

type triggerRequest struct {
	AccountID string `json:"accountId"`
	Force     bool   `json:"force"`
}

// Trigger runs one immediate Tick for accountID, outside the engine's own
// ticker schedule. Force first resets the account's cursor to the
// beginning, so the following tick resyncs from scratch.
func (h *SyncHandler) Trigger(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil || req.AccountID == "" {
		return apperr.BadRequest("accountId is required")
	}

	if req.Force {
		if err := h.engine.Reset(c.Context(), req.AccountID, nil); err != nil {
			return err
		}
	}

	if err := h.engine.Tick(c.Context(), req.AccountID); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"accountId": req.AccountID, "triggered": true, "forced": req.Force})
}

// Status reports the durable cursor for the account named by the
// "accountId" query parameter, or every account's cursor when omitted.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	accountID := c.Query("accountId")
	if accountID != "" {
		cursor, err := h.engine.Status(c.Context(), accountID)
		if err != nil {
			return err
		}
		return response.OK(c, cursor)
	}

	if h.cursors == nil {
		return apperr.BadRequest("accountId query parameter is required")
	}
	all, err := h.cursors.ListCursors(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, all)
}
