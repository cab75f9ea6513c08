package domain

import "time"

// Address is one entry of an address-list header (From/To/Cc/...).
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes one MIME part of an Email fetched via its blob id;
// the blob bytes themselves are never archived, only the pointer to fetch
// them from the provider on demand.
type Attachment struct {
	ID          string `json:"id"`
	BlobID      string `json:"blobId"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        int64  `json:"size"`
	ContentID   string `json:"contentId,omitempty"`
	Inline      bool   `json:"inline"`
}

// Canonical keyword flags recognized by the archive; every other keyword
// the provider reports is kept verbatim in Flags but has no derived field.
const (
	KeywordSeen    = "$seen"
	KeywordFlagged = "$flagged"
)

// Email is the archived, local copy of a JMAP Email object.
type Email struct {
	ID               int64
	RemoteID         string
	AccountID        string
	ThreadID         string
	MailboxID        string
	Subject          string
	FromAddress      *Address
	ToAddresses      []Address
	CcAddresses      []Address
	BccAddresses     []Address
	ReplyToAddresses []Address
	DateReceived     *time.Time
	DateSent         *time.Time
	MessageID        string
	InReplyTo        string
	References       []string
	BodyText         string
	BodyHTML         string
	Attachments      []Attachment
	Flags            map[string]bool
	SizeBytes        int64
	IsRead           bool
	IsFlagged        bool
	IsDeleted        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ApplyFlags derives IsRead/IsFlagged from the canonical keyword flags, per
// the invariant that these fields are never set independently of Flags.
func (e *Email) ApplyFlags() {
	if e.Flags == nil {
		e.IsRead = false
		e.IsFlagged = false
		return
	}
	e.IsRead = e.Flags[KeywordSeen]
	e.IsFlagged = e.Flags[KeywordFlagged]
}

// SearchText is the concatenation of the fields the content hash covers
// (subject, sender, text and HTML bodies); both the store's upsert and its
// repair job must build this string identically.
func (e *Email) SearchText() string {
	from := ""
	if e.FromAddress != nil {
		from = e.FromAddress.Name + " " + e.FromAddress.Email
	}
	return e.Subject + " " + from + " " + e.BodyText + " " + e.BodyHTML
}
