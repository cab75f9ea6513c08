package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailsync/core/domain"
	"mailsync/core/port/out"
	"mailsync/pkg/apperr"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EmailAdapter persists archived emails and serves the search/stats/
// integrity reads that run against them.
type EmailAdapter struct {
	db *sqlx.DB
}

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

type emailEntity struct {
	ID              int64          `db:"id"`
	RemoteID        string         `db:"remote_id"`
	AccountID       string         `db:"account_id"`
	ThreadRemoteID  sql.NullString `db:"thread_remote_id"`
	MailboxRemoteID sql.NullString `db:"mailbox_remote_id"`
	Subject         string         `db:"subject"`
	FromName        sql.NullString `db:"from_name"`
	FromEmail       sql.NullString `db:"from_email"`
	ToAddrs         []byte         `db:"to_addrs"`
	CcAddrs         []byte         `db:"cc_addrs"`
	BccAddrs        []byte         `db:"bcc_addrs"`
	ReplyToAddrs    []byte         `db:"reply_to_addrs"`
	MessageIDHeader sql.NullString `db:"message_id_header"`
	InReplyTo       sql.NullString `db:"in_reply_to"`
	References      pq.StringArray `db:"references"`
	BodyText        string         `db:"body_text"`
	BodyHTML        string         `db:"body_html"`
	Attachments     []byte         `db:"attachments"`
	Flags           []byte         `db:"flags"`
	SizeBytes       int64          `db:"size_bytes"`
	IsRead          bool           `db:"is_read"`
	IsFlagged       bool           `db:"is_flagged"`
	IsDeleted       bool           `db:"is_deleted"`
	DateReceived    sql.NullTime   `db:"date_received"`
	DateSent        sql.NullTime   `db:"date_sent"`
	ContentHash     string         `db:"content_hash"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (e *emailEntity) toDomain() *domain.Email {
	em := &domain.Email{
		ID:           e.ID,
		RemoteID:     e.RemoteID,
		AccountID:    e.AccountID,
		MailboxID:    e.MailboxRemoteID.String,
		ThreadID:     e.ThreadRemoteID.String,
		Subject:      e.Subject,
		InReplyTo:    e.InReplyTo.String,
		MessageID:    e.MessageIDHeader.String,
		References:   []string(e.References),
		BodyText:     e.BodyText,
		BodyHTML:     e.BodyHTML,
		SizeBytes:    e.SizeBytes,
		IsRead:       e.IsRead,
		IsFlagged:    e.IsFlagged,
		IsDeleted:    e.IsDeleted,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.FromEmail.Valid {
		em.FromAddress = &domain.Address{Name: e.FromName.String, Email: e.FromEmail.String}
	}
	em.ToAddresses = decodeAddresses(e.ToAddrs)
	em.CcAddresses = decodeAddresses(e.CcAddrs)
	em.BccAddresses = decodeAddresses(e.BccAddrs)
	em.ReplyToAddresses = decodeAddresses(e.ReplyToAddrs)
	em.Attachments = decodeAttachments(e.Attachments)
	em.Flags = decodeMailboxMembership(e.Flags) // same shape: map[string]bool
	if e.DateReceived.Valid {
		em.DateReceived = &e.DateReceived.Time
	}
	if e.DateSent.Valid {
		em.DateSent = &e.DateSent.Time
	}
	return em
}

func decodeAddresses(raw []byte) []domain.Address {
	if len(raw) == 0 {
		return nil
	}
	var addrs []domain.Address
	if err := json.Unmarshal(raw, &addrs); err != nil {
		return nil
	}
	return addrs
}

func encodeAddresses(addrs []domain.Address) ([]byte, error) {
	if addrs == nil {
		addrs = []domain.Address{}
	}
	return json.Marshal(addrs)
}

func decodeAttachments(raw []byte) []domain.Attachment {
	if len(raw) == 0 {
		return nil
	}
	var atts []domain.Attachment
	if err := json.Unmarshal(raw, &atts); err != nil {
		return nil
	}
	return atts
}

func encodeAttachments(atts []domain.Attachment) ([]byte, error) {
	if atts == nil {
		atts = []domain.Attachment{}
	}
	return json.Marshal(atts)
}

// contentHash pins the fields that define an email's archived identity, so
// RepairIntegrity can detect a row that drifted from what SearchText/the
// provider would now produce.
func contentHash(e *domain.Email) string {
	sum := sha256.Sum256([]byte(e.RemoteID + "\x00" + e.SearchText()))
	return hex.EncodeToString(sum[:])
}

const upsertEmailSQL = `
	INSERT INTO emails (
		remote_id, account_id, thread_remote_id, mailbox_remote_id, subject,
		from_name, from_email, to_addrs, cc_addrs, bcc_addrs, reply_to_addrs,
		message_id_header, in_reply_to, "references", body_text, body_html,
		attachments, flags, size_bytes, is_read, is_flagged, is_deleted,
		date_received, date_sent, content_hash
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25
	)
	ON CONFLICT (account_id, remote_id) DO UPDATE SET
		thread_remote_id = EXCLUDED.thread_remote_id,
		mailbox_remote_id = EXCLUDED.mailbox_remote_id,
		subject = EXCLUDED.subject,
		from_name = EXCLUDED.from_name,
		from_email = EXCLUDED.from_email,
		to_addrs = EXCLUDED.to_addrs,
		cc_addrs = EXCLUDED.cc_addrs,
		bcc_addrs = EXCLUDED.bcc_addrs,
		reply_to_addrs = EXCLUDED.reply_to_addrs,
		body_text = EXCLUDED.body_text,
		body_html = EXCLUDED.body_html,
		attachments = EXCLUDED.attachments,
		flags = EXCLUDED.flags,
		size_bytes = EXCLUDED.size_bytes,
		is_read = EXCLUDED.is_read,
		is_flagged = EXCLUDED.is_flagged,
		is_deleted = EXCLUDED.is_deleted,
		date_received = EXCLUDED.date_received,
		date_sent = EXCLUDED.date_sent,
		content_hash = EXCLUDED.content_hash,
		updated_at = NOW()
	RETURNING *`

func emailArgs(e *domain.Email) ([]interface{}, error) {
	e.ApplyFlags()
	toAddrs, err := encodeAddresses(e.ToAddresses)
	if err != nil {
		return nil, err
	}
	ccAddrs, err := encodeAddresses(e.CcAddresses)
	if err != nil {
		return nil, err
	}
	bccAddrs, err := encodeAddresses(e.BccAddresses)
	if err != nil {
		return nil, err
	}
	replyToAddrs, err := encodeAddresses(e.ReplyToAddresses)
	if err != nil {
		return nil, err
	}
	attachments, err := encodeAttachments(e.Attachments)
	if err != nil {
		return nil, err
	}
	flags, err := encodeMailboxMembership(e.Flags)
	if err != nil {
		return nil, err
	}

	var fromName, fromEmail interface{}
	if e.FromAddress != nil {
		fromName = toNullableString(e.FromAddress.Name)
		fromEmail = toNullableString(e.FromAddress.Email)
	}

	return []interface{}{
		e.RemoteID, e.AccountID, toNullableString(e.ThreadID), toNullableString(e.MailboxID), e.Subject,
		fromName, fromEmail, toAddrs, ccAddrs, bccAddrs, replyToAddrs,
		toNullableString(e.MessageID), toNullableString(e.InReplyTo), pq.Array(e.References), e.BodyText, e.BodyHTML,
		attachments, flags, e.SizeBytes, e.IsRead, e.IsFlagged, e.IsDeleted,
		nullableTime(derefTime(e.DateReceived)), nullableTime(derefTime(e.DateSent)), contentHash(e),
	}, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// upsertSearchRowSQL/deleteSearchRowSQL maintain email_search, the
// independently persisted Search Row artifact: one row per Email that
// exists and is not deleted, carrying the content hash and the tsvector
// Search queries against instead of building it inline per call.
const upsertSearchRowSQL = `
	INSERT INTO email_search (email_id, content_hash, search_vector, updated_at)
	VALUES ($1, $2, setweight(to_tsvector('english', $3), 'A') || setweight(to_tsvector('english', $4), 'B'), NOW())
	ON CONFLICT (email_id) DO UPDATE SET
		content_hash = EXCLUDED.content_hash,
		search_vector = EXCLUDED.search_vector,
		updated_at = NOW()`

const deleteSearchRowSQL = `DELETE FROM email_search WHERE email_id = $1`

// syncSearchRow keeps email_search in lockstep with the emails row it was
// just called for: deleted emails lose their Search Row, everything else
// gets one written or refreshed in the same transaction as the email write
// so the two can never observably drift.
func syncSearchRow(ctx context.Context, ext sqlx.ExtContext, e *emailEntity) error {
	if e.IsDeleted {
		_, err := ext.ExecContext(ctx, deleteSearchRowSQL, e.ID)
		return err
	}
	dom := e.toDomain()
	row := domain.SearchRow{EmailID: e.ID, ContentHash: contentHash(dom)}
	rest := dom.BodyText
	if dom.FromAddress != nil {
		rest = dom.FromAddress.Name + " " + dom.FromAddress.Email + " " + rest
	}
	_, err := ext.ExecContext(ctx, upsertSearchRowSQL, row.EmailID, row.ContentHash, dom.Subject, rest)
	return err
}

func (a *EmailAdapter) UpsertEmail(ctx context.Context, e *domain.Email) (*domain.Email, error) {
	args, err := emailArgs(e)
	if err != nil {
		return nil, err
	}
	var entity emailEntity
	if err := a.db.GetContext(ctx, &entity, upsertEmailSQL, args...); err != nil {
		return nil, err
	}
	if err := syncSearchRow(ctx, a.db, &entity); err != nil {
		return nil, err
	}
	return entity.toDomain(), nil
}

// BatchUpsertEmails writes a page of emails in one transaction, but isolates
// each row behind a savepoint so a single malformed row does not sour the
// rest of the batch — it is simply absent from Written and left for the
// next tick to retry.
func (a *EmailAdapter) BatchUpsertEmails(ctx context.Context, es []*domain.Email) (*out.EmailBatchResult, error) {
	if len(es) == 0 {
		return &out.EmailBatchResult{}, nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	written := make([]*domain.Email, 0, len(es))
	for i, e := range es {
		sp := fmt.Sprintf("sp_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return nil, err
		}

		args, err := emailArgs(e)
		if err != nil {
			tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
			continue
		}
		var entity emailEntity
		if err := tx.QueryRowxContext(ctx, upsertEmailSQL, args...).StructScan(&entity); err != nil {
			tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
			continue
		}
		if err := syncSearchRow(ctx, tx, &entity); err != nil {
			tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
			continue
		}
		tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
		written = append(written, entity.toDomain())
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out.EmailBatchResult{Written: written}, nil
}

func (a *EmailAdapter) GetEmailByRemoteID(ctx context.Context, accountID, remoteID string) (*domain.Email, error) {
	var e emailEntity
	query := `SELECT * FROM emails WHERE account_id = $1 AND remote_id = $2`
	if err := a.db.GetContext(ctx, &e, query, accountID, remoteID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("email %s for account %s", remoteID, accountID))
		}
		return nil, err
	}
	return e.toDomain(), nil
}

func (a *EmailAdapter) GetEmailsInMailbox(ctx context.Context, mailboxID string, sort domain.SearchSort, limit, offset int) ([]*domain.Email, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT * FROM emails
		WHERE mailbox_remote_id = $1 AND NOT is_deleted
		ORDER BY %s
		LIMIT $2 OFFSET $3`, orderByClause(sort, "date_received"))

	var entities []emailEntity
	if err := a.db.SelectContext(ctx, &entities, query, mailboxID, limit, offset); err != nil {
		return nil, err
	}
	return toDomainEmails(entities), nil
}

func (a *EmailAdapter) RecentEmails(ctx context.Context, accountID string, limit int) ([]*domain.Email, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT * FROM emails
		WHERE account_id = $1 AND NOT is_deleted
		ORDER BY date_received DESC NULLS LAST
		LIMIT $2`
	var entities []emailEntity
	if err := a.db.SelectContext(ctx, &entities, query, accountID, limit); err != nil {
		return nil, err
	}
	return toDomainEmails(entities), nil
}

func toDomainEmails(entities []emailEntity) []*domain.Email {
	emails := make([]*domain.Email, len(entities))
	for i, e := range entities {
		emails[i] = e.toDomain()
	}
	return emails
}

// orderByClause whitelists the sortable columns; an unrecognized field
// falls back to defaultField rather than letting caller input reach SQL.
func orderByClause(sort domain.SearchSort, defaultField string) string {
	field := defaultField
	switch sort.Field {
	case domain.SortDateReceived:
		field = "date_received"
	case domain.SortSubject:
		field = "subject"
	case domain.SortRank:
		field = defaultField
	}
	dir := "DESC"
	if sort.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s NULLS LAST", field, dir)
}

// Search runs PostgreSQL full-text search against the persisted email_search
// Search Row (not an inline-built tsvector), ranked by ts_rank, with the
// caller's structured filters applied as plain equality/range predicates
// alongside the tsquery match. Joining email_search also means a row
// without a Search Row — one RepairIntegrity hasn't caught up on yet —
// simply cannot surface as a hit.
func (a *EmailAdapter) Search(ctx context.Context, accountID, queryText string, filters domain.SearchFilters, sort domain.SearchSort, limit, offset int) ([]*domain.SearchHit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	conditions := []string{"e.account_id = $1", "NOT e.is_deleted"}
	args := []interface{}{accountID}
	argIdx := 2

	rankExpr := "0"

	if strings.TrimSpace(queryText) != "" {
		conditions = append(conditions, fmt.Sprintf("es.search_vector @@ plainto_tsquery('english', $%d)", argIdx))
		args = append(args, queryText)
		rankExpr = fmt.Sprintf("ts_rank(es.search_vector, plainto_tsquery('english', $%d))", argIdx)
		argIdx++
	}

	if len(filters.MailboxIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("e.mailbox_remote_id = ANY($%d)", argIdx))
		args = append(args, pq.Array(filters.MailboxIDs))
		argIdx++
	}
	if filters.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("e.date_received >= $%d", argIdx))
		args = append(args, *filters.DateFrom)
		argIdx++
	}
	if filters.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("e.date_received <= $%d", argIdx))
		args = append(args, *filters.DateTo)
		argIdx++
	}
	if filters.IsRead != nil {
		conditions = append(conditions, fmt.Sprintf("e.is_read = $%d", argIdx))
		args = append(args, *filters.IsRead)
		argIdx++
	}
	if filters.IsFlagged != nil {
		conditions = append(conditions, fmt.Sprintf("e.is_flagged = $%d", argIdx))
		args = append(args, *filters.IsFlagged)
		argIdx++
	}
	if filters.HasAttachments != nil {
		if *filters.HasAttachments {
			conditions = append(conditions, "e.attachments != '[]'")
		} else {
			conditions = append(conditions, "e.attachments = '[]'")
		}
	}

	order := "rank DESC"
	if sort.Field != "" && sort.Field != domain.SortRank {
		order = orderByClause(sort, "date_received")
	} else if sort.Ascending {
		order = "rank ASC"
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.subject,
			coalesce(e.from_name, '') || CASE WHEN e.from_name IS NOT NULL AND e.from_email IS NOT NULL THEN ' ' ELSE '' END || coalesce(e.from_email, '') AS from_disp,
			left(coalesce(e.body_text, ''), 240) AS snippet,
			(%s) AS rank,
			e.date_received, e.is_read, e.is_flagged
		FROM emails e
		JOIN email_search es ON es.email_id = e.id
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, rankExpr, strings.Join(conditions, " AND "), order, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*domain.SearchHit
	for rows.Next() {
		var (
			id           int64
			subject      string
			fromDisp     string
			snippet      string
			rank         float64
			dateReceived sql.NullTime
			isRead       bool
			isFlagged    bool
		)
		if err := rows.Scan(&id, &subject, &fromDisp, &snippet, &rank, &dateReceived, &isRead, &isFlagged); err != nil {
			return nil, err
		}
		hit := &domain.SearchHit{
			EmailID:   id,
			Subject:   subject,
			From:      fromDisp,
			Snippet:   snippet,
			Rank:      rank,
			IsRead:    isRead,
			IsFlagged: isFlagged,
		}
		if dateReceived.Valid {
			hit.DateReceived = &dateReceived.Time
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (a *EmailAdapter) Stats(ctx context.Context, accountID string) (*domain.Stats, error) {
	stats := &domain.Stats{PerMailbox: map[string]int{}, PerMonth: map[string]int{}}

	totals := struct {
		Total   int `db:"total"`
		Unread  int `db:"unread"`
		Flagged int `db:"flagged"`
	}{}
	totalsQuery := `
		SELECT
			COUNT(*) FILTER (WHERE NOT is_deleted) AS total,
			COUNT(*) FILTER (WHERE NOT is_deleted AND NOT is_read) AS unread,
			COUNT(*) FILTER (WHERE NOT is_deleted AND is_flagged) AS flagged
		FROM emails WHERE account_id = $1`
	if err := a.db.GetContext(ctx, &totals, totalsQuery, accountID); err != nil {
		return nil, err
	}
	stats.TotalEmails = totals.Total
	stats.UnreadEmails = totals.Unread
	stats.FlaggedEmails = totals.Flagged

	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var perMailbox []bucket
	mailboxQuery := `
		SELECT coalesce(mailbox_remote_id, '') AS key, COUNT(*) AS count
		FROM emails WHERE account_id = $1 AND NOT is_deleted
		GROUP BY mailbox_remote_id`
	if err := a.db.SelectContext(ctx, &perMailbox, mailboxQuery, accountID); err != nil {
		return nil, err
	}
	for _, b := range perMailbox {
		stats.PerMailbox[b.Key] = b.Count
	}

	var perMonth []bucket
	monthQuery := `
		SELECT to_char(date_received, 'YYYY-MM') AS key, COUNT(*) AS count
		FROM emails
		WHERE account_id = $1 AND NOT is_deleted AND date_received IS NOT NULL
		GROUP BY key`
	if err := a.db.SelectContext(ctx, &perMonth, monthQuery, accountID); err != nil {
		return nil, err
	}
	for _, b := range perMonth {
		stats.PerMonth[b.Key] = b.Count
	}

	return stats, nil
}

// ValidateIntegrity runs a fixed set of consistency checks against the
// archive and reports each as pass/fail with an affected-row count.
func (a *EmailAdapter) ValidateIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityCheck, error) {
	checks := []domain.IntegrityCheck{}

	var orphanedThreads int
	orphanQuery := `
		SELECT COUNT(*) FROM emails e
		WHERE e.account_id = $1 AND NOT e.is_deleted AND e.thread_remote_id IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM threads t WHERE t.account_id = e.account_id AND t.remote_id = e.thread_remote_id
		)`
	if err := a.db.GetContext(ctx, &orphanedThreads, orphanQuery, accountID); err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "thread_references", Pass: orphanedThreads == 0, Issues: orphanedThreads})

	var orphanedMailboxes int
	mailboxQuery := `
		SELECT COUNT(*) FROM emails e
		WHERE e.account_id = $1 AND NOT e.is_deleted AND e.mailbox_remote_id IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM mailboxes m WHERE m.account_id = e.account_id AND m.remote_id = e.mailbox_remote_id
		)`
	if err := a.db.GetContext(ctx, &orphanedMailboxes, mailboxQuery, accountID); err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "mailbox_references", Pass: orphanedMailboxes == 0, Issues: orphanedMailboxes})

	var duplicateRemoteIDs int
	dupQuery := `
		SELECT COUNT(*) FROM (
			SELECT remote_id FROM emails WHERE account_id = $1 GROUP BY remote_id HAVING COUNT(*) > 1
		) dup`
	if err := a.db.GetContext(ctx, &duplicateRemoteIDs, dupQuery, accountID); err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "duplicate_remote_id", Pass: duplicateRemoteIDs == 0, Issues: duplicateRemoteIDs})

	orphanSearchRows, err := a.countOrphanSearchRows(ctx, accountID)
	if err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "orphan_search_row", Pass: orphanSearchRows == 0, Issues: orphanSearchRows})

	missingSearchRows, err := a.countMissingSearchRows(ctx, accountID)
	if err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "missing_search_row", Pass: missingSearchRows == 0, Issues: missingSearchRows})

	malformed, err := a.countMalformedAddressArrays(ctx, accountID)
	if err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "malformed_address_array", Pass: malformed == 0, Issues: malformed})

	stale, err := a.countStaleContentHashes(ctx, accountID)
	if err != nil {
		return nil, err
	}
	checks = append(checks, domain.IntegrityCheck{Name: "content_hash", Pass: stale == 0, Issues: stale})

	return checks, nil
}

func (a *EmailAdapter) countOrphanSearchRows(ctx context.Context, accountID string) (int, error) {
	var n int
	query := `
		SELECT COUNT(*) FROM email_search es
		JOIN emails e ON e.id = es.email_id
		WHERE e.account_id = $1 AND e.is_deleted`
	err := a.db.GetContext(ctx, &n, query, accountID)
	return n, err
}

func (a *EmailAdapter) countMissingSearchRows(ctx context.Context, accountID string) (int, error) {
	var n int
	query := `
		SELECT COUNT(*) FROM emails e
		WHERE e.account_id = $1 AND NOT e.is_deleted
		AND NOT EXISTS (SELECT 1 FROM email_search es WHERE es.email_id = e.id)`
	err := a.db.GetContext(ctx, &n, query, accountID)
	return n, err
}

func (a *EmailAdapter) countMalformedAddressArrays(ctx context.Context, accountID string) (int, error) {
	var entities []emailEntity
	query := `SELECT * FROM emails WHERE account_id = $1 AND NOT is_deleted`
	if err := a.db.SelectContext(ctx, &entities, query, accountID); err != nil {
		return 0, err
	}
	malformed := 0
	for _, e := range entities {
		if !validAddressArray(e.ToAddrs) || !validAddressArray(e.CcAddrs) ||
			!validAddressArray(e.BccAddrs) || !validAddressArray(e.ReplyToAddrs) {
			malformed++
		}
	}
	return malformed, nil
}

// validAddressArray reports whether raw decodes as a JSON array of
// addresses that all carry a non-empty Email field. An empty column is
// valid (no addresses), but anything present must parse cleanly.
func validAddressArray(raw []byte) bool {
	if len(raw) == 0 {
		return true
	}
	var addrs []domain.Address
	if err := json.Unmarshal(raw, &addrs); err != nil {
		return false
	}
	for _, addr := range addrs {
		if addr.Email == "" {
			return false
		}
	}
	return true
}

// RepairIntegrity fixes what it can without contacting the provider: it
// reconciles email_search against the emails it should mirror and
// recomputes any content hash that drifted. Reattaching orphaned emails to
// a synthetic mailbox is explicitly out of scope.
func (a *EmailAdapter) RepairIntegrity(ctx context.Context, accountID string) ([]domain.IntegrityRepairAction, error) {
	deletedOrphans, err := a.deleteOrphanSearchRows(ctx, accountID)
	if err != nil {
		return nil, err
	}

	createdMissing, err := a.createMissingSearchRows(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var entities []emailEntity
	query := `SELECT * FROM emails WHERE account_id = $1 AND NOT is_deleted`
	if err := a.db.SelectContext(ctx, &entities, query, accountID); err != nil {
		return nil, err
	}

	affected := 0
	for _, e := range entities {
		em := e.toDomain()
		want := contentHash(em)
		if want == e.ContentHash {
			continue
		}
		if _, err := a.db.ExecContext(ctx, `UPDATE emails SET content_hash = $1, updated_at = NOW() WHERE id = $2`, want, e.ID); err != nil {
			return nil, err
		}
		affected++
	}

	return []domain.IntegrityRepairAction{
		{Name: "delete_orphan_search_rows", Affected: deletedOrphans},
		{Name: "create_missing_search_rows", Affected: createdMissing},
		{Name: "content_hash", Affected: affected},
	}, nil
}

func (a *EmailAdapter) deleteOrphanSearchRows(ctx context.Context, accountID string) (int, error) {
	const query = `
		DELETE FROM email_search es
		USING emails e
		WHERE es.email_id = e.id AND e.account_id = $1 AND e.is_deleted`
	res, err := a.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (a *EmailAdapter) createMissingSearchRows(ctx context.Context, accountID string) (int, error) {
	var entities []emailEntity
	query := `
		SELECT e.* FROM emails e
		WHERE e.account_id = $1 AND NOT e.is_deleted
		AND NOT EXISTS (SELECT 1 FROM email_search es WHERE es.email_id = e.id)`
	if err := a.db.SelectContext(ctx, &entities, query, accountID); err != nil {
		return 0, err
	}

	for i := range entities {
		if err := syncSearchRow(ctx, a.db, &entities[i]); err != nil {
			return 0, err
		}
	}
	return len(entities), nil
}

func (a *EmailAdapter) countStaleContentHashes(ctx context.Context, accountID string) (int, error) {
	var entities []emailEntity
	query := `SELECT * FROM emails WHERE account_id = $1 AND NOT is_deleted`
	if err := a.db.SelectContext(ctx, &entities, query, accountID); err != nil {
		return 0, err
	}
	stale := 0
	for _, e := range entities {
		if contentHash(e.toDomain()) != e.ContentHash {
			stale++
		}
	}
	return stale, nil
}
