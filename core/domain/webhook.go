package domain

// WebhookEventType enumerates the change-notification kinds the remote
// mail service can push.
type WebhookEventType string

const (
	EventEmailReceived  WebhookEventType = "email.received"
	EventEmailUpdated   WebhookEventType = "email.updated"
	EventEmailDeleted   WebhookEventType = "email.deleted"
	EventMailboxUpdated WebhookEventType = "mailbox.updated"
)

// WebhookEvent is the decoded envelope of an inbound webhook body.
type WebhookEvent struct {
	Type      WebhookEventType       `json:"type"`
	AccountID string                 `json:"accountId"`
	EmailID   string                 `json:"emailId,omitempty"`
	MailboxID string                 `json:"mailboxId,omitempty"`
	Changes   map[string]interface{} `json:"changes,omitempty"`
}
