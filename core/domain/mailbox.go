package domain

import "time"

// Mailbox mirrors a JMAP Mailbox object. RemoteID is the natural key used
// by the Archive Store's upsert.
type Mailbox struct {
	ID             int64
	RemoteID       string
	AccountID      string
	Name           string
	ParentRemoteID string
	Role           string
	SortOrder      int
	TotalEmails    int
	UnreadEmails   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
