package domain

import "time"

// Thread mirrors a JMAP Thread. MessageCount must equal
// len(EmailRemoteIDs); the Archive Store enforces this on every write.
type Thread struct {
	ID                string
	AccountID         string
	EmailRemoteIDs    []string
	Subject           string
	MailboxMembership map[string]bool
	MessageCount      int
	UnreadCount       int
	LastMessageDate   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
