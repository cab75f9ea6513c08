package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-json"

	"mailsync/core/domain"
	"mailsync/core/port/in"
	"mailsync/internal/lock"
	"mailsync/pkg/apperr"
	"mailsync/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// WebhookMetrics counts inbound delivery outcomes, surfaced via
// GetWebhookMetrics for operators.
type WebhookMetrics struct {
	Processed  int64
	Duplicates int64
	Errors     int64
}

// WebhookHandler is the Change Listener (C5)'s push-notification ingress:
// it verifies the provider's HMAC signature, de-duplicates by delivery id,
// decodes the event body, and dispatches straight into the Sync Engine's
// fast path (SyncOne/MarkDeleted) — no queue, no intermediate repository,
// since the engine is itself the durable write path.
type WebhookHandler struct {
	engine  in.SyncEngine
	locker  *lock.Locker
	secret  string
	metrics WebhookMetrics
}

func NewWebhookHandler(engine in.SyncEngine, locker *lock.Locker, secret string) *WebhookHandler {
	return &WebhookHandler{engine: engine, locker: locker, secret: secret}
}

func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhook/:provider", h.Handle)
}

func (h *WebhookHandler) RegisterManagement(router fiber.Router) {
	router.Get("/webhooks/metrics", h.GetWebhookMetrics)
}

// Handle verifies the request's HMAC signature over the raw body, decodes
// the event, checks delivery idempotency, and dispatches it to the engine.
// A missing or bad signature is rejected with 401 and never reaches the
// engine; a duplicate delivery is acknowledged with 200 without being
// dispatched again.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	provider := c.Params("provider")
	body := c.Body()

	if err := h.verifySignature(body, c.Get("Signature")); err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return err
	}

	var evt domain.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return apperr.BadRequest("malformed webhook body: " + err.Error())
	}
	if evt.AccountID == "" {
		atomic.AddInt64(&h.metrics.Errors, 1)
		return apperr.BadRequest("webhook event missing accountId")
	}

	deliveryID := c.Get("X-Delivery-Id")
	if deliveryID == "" {
		deliveryID = uuid.New().String()
	}
	seen, err := h.locker.SeenDelivery(c.Context(), provider, deliveryID)
	if err != nil {
		logger.Warn("[webhook] idempotency check failed: %v", err)
	} else if seen {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.Context()
	switch evt.Type {
	case domain.EventEmailReceived, domain.EventEmailUpdated:
		if evt.EmailID == "" {
			return apperr.BadRequest("webhook event missing emailId")
		}
		err = h.engine.SyncOne(ctx, evt.AccountID, evt.EmailID)
	case domain.EventEmailDeleted:
		if evt.EmailID == "" {
			return apperr.BadRequest("webhook event missing emailId")
		}
		err = h.engine.MarkDeleted(ctx, evt.AccountID, evt.EmailID)
	case domain.EventMailboxUpdated:
		err = h.engine.Tick(ctx, evt.AccountID)
	default:
		// Forward-compatibility: an event type we don't recognize yet is
		// logged and acknowledged, never rejected.
		logger.Warn("[webhook] unknown event type %q for account %s, ignoring", evt.Type, evt.AccountID)
		return c.SendStatus(fiber.StatusOK)
	}

	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		logger.Error("[webhook] dispatch failed for %s/%s: %v", evt.AccountID, evt.Type, err)
		return err
	}

	atomic.AddInt64(&h.metrics.Processed, 1)
	return c.SendStatus(fiber.StatusOK)
}

// verifySignature checks the "Signature: sha256=<hex>" header against an
// HMAC-SHA256 digest of body, in constant time. Any algorithm other than
// sha256 is rejected as malformed, matching "algorithm=hex_digest". A
// missing configured secret fails closed — every delivery is rejected,
// not waved through — the warning is logged once at boot, not per request.
func (h *WebhookHandler) verifySignature(body []byte, header string) error {
	if h.secret == "" {
		return apperr.Unauthorized("webhook signature verification not configured")
	}
	alg, digest, found := strings.Cut(header, "=")
	if !found || alg != "sha256" || digest == "" {
		return apperr.Unauthorized("malformed signature header")
	}

	want, err := hex.DecodeString(digest)
	if err != nil {
		return apperr.Unauthorized("malformed signature header")
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	got := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return apperr.Unauthorized("signature mismatch")
	}
	return nil
}

func (h *WebhookHandler) GetWebhookMetrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"processed":  atomic.LoadInt64(&h.metrics.Processed),
		"duplicates": atomic.LoadInt64(&h.metrics.Duplicates),
		"errors":     atomic.LoadInt64(&h.metrics.Errors),
	})
}
