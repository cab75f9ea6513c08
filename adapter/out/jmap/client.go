package jmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"mailsync/core/domain"
	"mailsync/core/port/out"
	"mailsync/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

// Client is the C1 Remote Mail Client, speaking JMAP's compound
// request/response protocol over net/http. It never retries — retry is
// Sync Engine policy — but it does trip a circuit breaker on repeated
// server-side failures, the same protection the teacher gives its Gmail
// adapter.
type Client struct {
	httpClient *http.Client
	sessionURL string
	cb         *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	tokens map[string]string // accountID -> bearer token, set by OpenSession
}

func NewClient(sessionURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	cbSettings := gobreaker.Settings{
		Name:        "jmap-client",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
	}

	return &Client{
		httpClient: httpClient,
		sessionURL: sessionURL,
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		tokens:     make(map[string]string),
	}
}

var _ out.RemoteMailClient = (*Client)(nil)

// nonCircuitError wraps a client/auth-taxon error so a tripped breaker
// threshold only counts genuine server-side trouble, mirroring the
// teacher's own Gmail adapter distinction.
type nonCircuitError struct{ err error }

func (e *nonCircuitError) Error() string { return e.err.Error() }
func (e *nonCircuitError) Unwrap() error { return e.err }

func (c *Client) executeWithBreaker(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if appErr, ok := err.(*apperr.AppError); ok {
				switch appErr.Code {
				case apperr.CodeAuthFailure, apperr.CodeProtocol:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.Network("jmap circuit open", err)
	}
	return err
}

func (c *Client) OpenSession(ctx context.Context, accessToken string) (*out.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL, nil)
	if err != nil {
		return nil, apperr.ConfigError("invalid jmap session url: " + err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var session sessionResource
	if err := c.executeWithBreaker(func() error {
		return c.doJSON(req, &session)
	}); err != nil {
		return nil, err
	}

	accountID := session.PrimaryAccounts[mailCapability]
	if accountID == "" {
		return nil, apperr.Protocol("jmap session has no mail account", nil)
	}

	caps := make([]string, 0, len(session.Capabilities))
	for name := range session.Capabilities {
		caps = append(caps, name)
	}

	c.mu.Lock()
	c.tokens[accountID] = accessToken
	c.mu.Unlock()

	return &out.Session{
		AccountID:    accountID,
		APIURL:       session.APIURL,
		Capabilities: caps,
		State:        session.State,
	}, nil
}

func (c *Client) tokenFor(accountID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[accountID]
}

// call sends one compound request of a single method call and decodes its
// one result into out, translating a JMAP "error" pseudo-method response
// into the apperr taxonomy.
func (c *Client) call(ctx context.Context, session *out.Session, method string, args interface{}, result interface{}) error {
	body := request{
		Using:       []string{coreCapability, mailCapability},
		MethodCalls: []invocation{newInvocation(method, args, "c0")},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Protocol("failed to encode jmap request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, session.APIURL, bytes.NewReader(payload))
	if err != nil {
		return apperr.ConfigError("invalid jmap api url: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.tokenFor(session.AccountID))

	var resp response
	if execErr := c.executeWithBreaker(func() error {
		return c.doJSON(httpReq, &resp)
	}); execErr != nil {
		return execErr
	}

	if len(resp.MethodResponses) == 0 {
		return apperr.Protocol("jmap response had no method responses", nil)
	}

	var raw rawInvocation
	if err := json.Unmarshal(resp.MethodResponses[0], &raw); err != nil {
		return apperr.Protocol("malformed jmap method response", err)
	}
	if raw.Name == "error" {
		var methodErr methodError
		json.Unmarshal(raw.Arguments, &methodErr)
		return classifyMethodError(methodErr)
	}

	return json.Unmarshal(raw.Arguments, result)
}

// doJSON performs req and decodes a 2xx JSON body into v, classifying
// non-2xx statuses into the apperr taxonomy the way the teacher's provider
// adapters classify their own SDK errors.
func (c *Client) doJSON(req *http.Request, v interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Network("jmap request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Network("failed to read jmap response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.AuthFailure("jmap server rejected credentials", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.RateLimited("jmap server rate limited the request", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return apperr.Network("jmap server error", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperr.Protocol("jmap request rejected", fmt.Errorf("status %d: %s", resp.StatusCode, string(data)))
	}

	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Protocol("malformed jmap response body", err)
	}
	return nil
}

func classifyMethodError(e methodError) error {
	switch e.Type {
	case "accountNotFound", "unknownMethod", "invalidArguments", "invalidResultReference":
		return apperr.Protocol("jmap method error: "+e.Type, errors.New(e.Description))
	case "requestTooLarge", "serverFail":
		return apperr.Network("jmap method error: "+e.Type, errors.New(e.Description))
	default:
		return apperr.Protocol("jmap method error: "+e.Type, errors.New(e.Description))
	}
}

func (c *Client) ListMailboxes(ctx context.Context, session *out.Session) ([]*domain.Mailbox, error) {
	var result mailboxGetResult
	if err := c.call(ctx, session, "Mailbox/get", mailboxGetArgs{AccountID: session.AccountID}, &result); err != nil {
		return nil, err
	}

	mailboxes := make([]*domain.Mailbox, len(result.List))
	for i, m := range result.List {
		mailboxes[i] = &domain.Mailbox{
			RemoteID:       m.ID,
			AccountID:      session.AccountID,
			Name:           m.Name,
			ParentRemoteID: m.ParentID,
			Role:           m.Role,
			SortOrder:      m.SortOrder,
			TotalEmails:    m.TotalEmails,
			UnreadEmails:   m.UnreadEmails,
		}
	}
	return mailboxes, nil
}

// QueryEmails pages through the mailbox using JMAP's position-based paging
// rather than QueryChanges: the Sync Engine's cursor is opaque to it, so
// this client is free to encode it as a decimal position. SinceState "" (or
// unparseable) starts at position 0; the returned NextState is the position
// just past the page just read, so feeding it back in as SinceState resumes
// exactly where the last page left off.
func (c *Client) QueryEmails(ctx context.Context, session *out.Session, opts out.QueryEmailsOptions) (*out.QueryResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	position, _ := strconv.Atoi(opts.SinceState)
	if position < 0 {
		position = 0
	}

	args := emailQueryArgs{
		AccountID: session.AccountID,
		Filter:    emailFilter{InMailbox: opts.MailboxFilter},
		Sort:      []sortItem{{Property: "receivedAt", IsAscending: true}},
		Position:  position,
		Limit:     limit,
	}

	var result emailQueryResult
	if err := c.call(ctx, session, "Email/query", args, &result); err != nil {
		return nil, err
	}

	nextPosition := position + len(result.IDs)
	return &out.QueryResult{IDs: result.IDs, NextState: strconv.Itoa(nextPosition)}, nil
}

func (c *Client) GetEmails(ctx context.Context, session *out.Session, ids []string) ([]*domain.Email, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := emailGetArgs{AccountID: session.AccountID, IDs: ids, Properties: emailProperties}
	var result emailGetResult
	if err := c.call(ctx, session, "Email/get", args, &result); err != nil {
		return nil, err
	}

	emails := make([]*domain.Email, len(result.List))
	for i, e := range result.List {
		emails[i] = toDomainEmail(&e)
	}
	return emails, nil
}

func (c *Client) GetEmail(ctx context.Context, session *out.Session, id string) (*domain.Email, error) {
	emails, err := c.GetEmails(ctx, session, []string{id})
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, apperr.NotFound("email " + id)
	}
	return emails[0], nil
}

func (c *Client) ListThreads(ctx context.Context, session *out.Session, sinceState string, limit int) (*out.QueryResult, error) {
	if limit <= 0 {
		limit = 50
	}
	// JMAP has no dedicated Thread/query — threads surface as the
	// threadId of whatever Email/query returns, so the engine drives
	// thread discovery off the same query used for emails.
	return c.QueryEmails(ctx, session, out.QueryEmailsOptions{SinceState: sinceState, Limit: limit})
}

func (c *Client) GetThreads(ctx context.Context, session *out.Session, ids []string) ([]*domain.Thread, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := threadGetArgs{AccountID: session.AccountID, IDs: ids}
	var result threadGetResult
	if err := c.call(ctx, session, "Thread/get", args, &result); err != nil {
		return nil, err
	}

	threads := make([]*domain.Thread, len(result.List))
	for i, t := range result.List {
		threads[i] = &domain.Thread{
			ID:             t.ID,
			AccountID:      session.AccountID,
			EmailRemoteIDs: t.EmailIDs,
			MessageCount:   len(t.EmailIDs),
		}
	}
	return threads, nil
}

func (c *Client) SetFlags(ctx context.Context, session *out.Session, id string, flags map[string]bool) error {
	patch := make(map[string]interface{}, len(flags))
	for k, v := range flags {
		patch["keywords/"+k] = v
	}

	args := emailSetArgs{
		AccountID: session.AccountID,
		Update:    map[string]map[string]interface{}{id: patch},
	}

	var result emailSetResult
	if err := c.call(ctx, session, "Email/set", args, &result); err != nil {
		return err
	}
	if setErr, failed := result.NotUpdated[id]; failed {
		return apperr.Protocol("jmap rejected flag update: "+setErr.Type, errors.New(setErr.Description))
	}
	return nil
}

func toDomainEmail(e *emailObject) *domain.Email {
	em := &domain.Email{
		RemoteID:   e.ID,
		ThreadID:   e.ThreadID,
		Subject:    e.Subject,
		References: e.References,
		SizeBytes:  e.Size,
		Flags:      e.Keywords,
	}

	for mailboxID := range e.MailboxIDs {
		em.MailboxID = mailboxID
		break
	}

	if len(e.From) > 0 {
		em.FromAddress = &domain.Address{Name: e.From[0].Name, Email: e.From[0].Email}
	}
	em.ToAddresses = toDomainAddresses(e.To)
	em.CcAddresses = toDomainAddresses(e.CC)
	em.BccAddresses = toDomainAddresses(e.BCC)
	em.ReplyToAddresses = toDomainAddresses(e.ReplyTo)

	if len(e.MessageID) > 0 {
		em.MessageID = e.MessageID[0]
	}
	if len(e.InReplyTo) > 0 {
		em.InReplyTo = e.InReplyTo[0]
	}

	em.BodyText = firstBodyValue(e.TextBody, e.BodyValues)
	em.BodyHTML = firstBodyValue(e.HTMLBody, e.BodyValues)

	em.Attachments = make([]domain.Attachment, len(e.Attachments))
	for i, a := range e.Attachments {
		em.Attachments[i] = domain.Attachment{
			ID:        a.PartID,
			BlobID:    a.BlobID,
			Name:      a.Name,
			MimeType:  a.Type,
			Size:      a.Size,
			ContentID: a.CID,
			Inline:    a.Disposition == "inline",
		}
	}

	if t, err := time.Parse(time.RFC3339, e.ReceivedAt); err == nil {
		em.DateReceived = &t
	}
	if t, err := time.Parse(time.RFC3339, e.SentAt); err == nil {
		em.DateSent = &t
	}

	em.ApplyFlags()
	return em
}

func toDomainAddresses(addrs []emailAddressObject) []domain.Address {
	if len(addrs) == 0 {
		return nil
	}
	converted := make([]domain.Address, len(addrs))
	for i, a := range addrs {
		converted[i] = domain.Address{Name: a.Name, Email: a.Email}
	}
	return converted
}

func firstBodyValue(parts []emailBodyPart, values map[string]emailBodyValue) string {
	if len(parts) == 0 {
		return ""
	}
	v, ok := values[parts[0].PartID]
	if !ok {
		return ""
	}
	return v.Value
}
