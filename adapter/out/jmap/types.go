// Package jmap implements the C1 Remote Mail Client port against a JMAP
// (RFC 8620/8621) mail server using the compound request/response wire
// format directly — no JMAP SDK exists in the ecosystem to lean on, so the
// envelope is hand-rolled over net/http in the teacher's own
// request/response-struct style.
package jmap

import "encoding/json"

// coreCapability and mailCapability are the JMAP URNs this client declares
// support for in every request's "using" array.
const (
	coreCapability = "urn:ietf:params:jmap:core"
	mailCapability = "urn:ietf:params:jmap:mail"
)

// request is one JMAP compound call: a list of [name, arguments, callId]
// invocations sharing a single HTTP round trip.
type request struct {
	Using       []string      `json:"using"`
	MethodCalls []invocation  `json:"methodCalls"`
}

// invocation is one [name, arguments, callId] triple. json.Marshal/Unmarshal
// of a fixed-size array keeps the wire shape exact without a custom
// MarshalJSON.
type invocation [3]interface{}

func newInvocation(name string, args interface{}, callID string) invocation {
	return invocation{name, args, callID}
}

// response mirrors request: a list of [name, result, callId] invocations,
// one per methodCall, in the same order.
type response struct {
	MethodResponses []json.RawMessage `json:"methodResponses"`
	SessionState    string            `json:"sessionState"`
}

// rawInvocation is used to peel [name, arguments, callId] apart without
// knowing arguments' shape up front.
type rawInvocation struct {
	Name      string
	Arguments json.RawMessage
	CallID    string
}

func (r *rawInvocation) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &r.Name); err != nil {
		return err
	}
	r.Arguments = raw[1]
	return json.Unmarshal(raw[2], &r.CallID)
}

// sessionResource is the JMAP session object returned by the well-known
// session endpoint.
type sessionResource struct {
	Capabilities map[string]json.RawMessage `json:"capabilities"`
	Accounts     map[string]json.RawMessage `json:"accounts"`
	PrimaryAccounts map[string]string       `json:"primaryAccounts"`
	APIURL          string                  `json:"apiUrl"`
	State           string                  `json:"state"`
}

// mailboxGetArgs/mailboxGetResult are Mailbox/get.
type mailboxGetArgs struct {
	AccountID string `json:"accountId"`
}

type mailboxObject struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ParentID     string `json:"parentId,omitempty"`
	Role         string `json:"role,omitempty"`
	SortOrder    int    `json:"sortOrder"`
	TotalEmails  int    `json:"totalEmails"`
	UnreadEmails int    `json:"unreadEmails"`
}

type mailboxGetResult struct {
	AccountID string          `json:"accountId"`
	State     string          `json:"state"`
	List      []mailboxObject `json:"list"`
}

// emailQueryArgs/emailQueryResult are Email/query. JMAP's changes-since
// idiom via Email/queryChanges is intentionally not used; instead the
// client encodes the Sync Engine's opaque cursor as a decimal Position and
// pages forward through the provider's receivedAt-ordered result set.
type emailFilter struct {
	InMailbox string `json:"inMailbox,omitempty"`
}

type emailQueryArgs struct {
	AccountID string      `json:"accountId"`
	Filter    emailFilter `json:"filter,omitempty"`
	Sort      []sortItem  `json:"sort,omitempty"`
	Position  int         `json:"position"`
	Limit     int         `json:"limit,omitempty"`
}

type sortItem struct {
	Property    string `json:"property"`
	IsAscending bool   `json:"isAscending"`
}

type emailQueryResult struct {
	AccountID  string   `json:"accountId"`
	QueryState string   `json:"queryState"`
	IDs        []string `json:"ids"`
}

// emailGetArgs/emailGetResult are Email/get, requesting the full
// projection the Archive Store needs to reconstruct a domain.Email.
type emailGetArgs struct {
	AccountID  string   `json:"accountId"`
	IDs        []string `json:"ids"`
	Properties []string `json:"properties,omitempty"`
}

var emailProperties = []string{
	"id", "threadId", "mailboxIds", "subject", "from", "to", "cc", "bcc",
	"replyTo", "receivedAt", "sentAt", "messageId", "inReplyTo", "references",
	"bodyValues", "textBody", "htmlBody", "attachments", "keywords", "size",
}

type emailAddressObject struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type emailBodyPart struct {
	PartID   string `json:"partId,omitempty"`
	BlobID   string `json:"blobId,omitempty"`
	Type     string `json:"type,omitempty"`
	Charset  string `json:"charset,omitempty"`
}

type emailBodyValue struct {
	Value string `json:"value"`
}

type emailAttachmentObject struct {
	PartID   string `json:"partId,omitempty"`
	BlobID   string `json:"blobId"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Size     int64  `json:"size"`
	CID      string `json:"cid,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

type emailObject struct {
	ID          string                    `json:"id"`
	ThreadID    string                    `json:"threadId"`
	MailboxIDs  map[string]bool           `json:"mailboxIds"`
	Subject     string                    `json:"subject"`
	From        []emailAddressObject      `json:"from"`
	To          []emailAddressObject      `json:"to"`
	CC          []emailAddressObject      `json:"cc"`
	BCC         []emailAddressObject      `json:"bcc"`
	ReplyTo     []emailAddressObject      `json:"replyTo"`
	ReceivedAt  string                    `json:"receivedAt"`
	SentAt      string                    `json:"sentAt"`
	MessageID   []string                  `json:"messageId"`
	InReplyTo   []string                  `json:"inReplyTo"`
	References  []string                  `json:"references"`
	TextBody    []emailBodyPart           `json:"textBody"`
	HTMLBody    []emailBodyPart           `json:"htmlBody"`
	BodyValues  map[string]emailBodyValue `json:"bodyValues"`
	Attachments []emailAttachmentObject   `json:"attachments"`
	Keywords    map[string]bool           `json:"keywords"`
	Size        int64                     `json:"size"`
}

type emailGetResult struct {
	AccountID string        `json:"accountId"`
	State     string        `json:"state"`
	List      []emailObject `json:"list"`
	NotFound  []string      `json:"notFound"`
}

// emailSetArgs is Email/set, used only to flip keywords (SetFlags).
type emailSetArgs struct {
	AccountID string                            `json:"accountId"`
	Update    map[string]map[string]interface{} `json:"update"`
}

type emailSetResult struct {
	AccountID string                     `json:"accountId"`
	Updated   map[string]json.RawMessage `json:"updated"`
	NotUpdated map[string]jmapSetError   `json:"notUpdated"`
}

type jmapSetError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// threadGetArgs/threadGetResult are Thread/get, mirroring the Email
// equivalents.
type threadGetArgs struct {
	AccountID string   `json:"accountId"`
	IDs       []string `json:"ids"`
}

type threadObject struct {
	ID      string   `json:"id"`
	EmailIDs []string `json:"emailIds"`
}

type threadGetResult struct {
	AccountID string         `json:"accountId"`
	State     string         `json:"state"`
	List      []threadObject `json:"list"`
	NotFound  []string       `json:"notFound"`
}

// methodError is the JMAP "error" pseudo-method result returned in place of
// a successful result when a call fails server-side.
type methodError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}
