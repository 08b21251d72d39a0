package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Email Index (PostgreSQL full-text)
// =============================================================================

const backendName = "postgres"

// EmailIndex implements out.EmailIndex on a PostgreSQL table with a generated
// tsvector column. See migrations/ for the schema.
type EmailIndex struct {
	db *sqlx.DB
}

var _ out.EmailIndex = (*EmailIndex)(nil)

func NewEmailIndex(db *sqlx.DB) *EmailIndex {
	return &EmailIndex{db: db}
}

const upsertEmailSQL = `
	INSERT INTO emails (message_id, from_addr, to_addr, from_address, to_address, date, date_ts, subject, body)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (message_id) DO UPDATE SET
		from_addr = EXCLUDED.from_addr,
		to_addr = EXCLUDED.to_addr,
		from_address = EXCLUDED.from_address,
		to_address = EXCLUDED.to_address,
		date = EXCLUDED.date,
		date_ts = EXCLUDED.date_ts,
		subject = EXCLUDED.subject,
		body = EXCLUDED.body,
		updated_at = now()`

func upsertArgs(e *domain.Email) []any {
	var ts sql.NullTime
	if t, ok := e.ParsedDate(); ok {
		ts = sql.NullTime{Time: t, Valid: true}
	}
	return []any{
		e.MessageID,
		e.From,
		e.To,
		strings.ToLower(domain.Address(e.From)),
		strings.ToLower(domain.Address(e.To)),
		e.Date,
		ts,
		e.Subject,
		e.Body,
	}
}

func (x *EmailIndex) Upsert(ctx context.Context, email *domain.Email) error {
	if email == nil || email.MessageID == "" {
		return nil
	}
	if _, err := x.db.ExecContext(ctx, upsertEmailSQL, upsertArgs(email)...); err != nil {
		return x.unavailable("upsert", err)
	}
	return nil
}

// UpsertMany writes all emails in one transaction.
func (x *EmailIndex) UpsertMany(ctx context.Context, emails []*domain.Email) error {
	batch := make([]*domain.Email, 0, len(emails))
	for _, e := range emails {
		if e != nil && e.MessageID != "" {
			batch = append(batch, e)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return x.unavailable("upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, upsertEmailSQL)
	if err != nil {
		return x.unavailable("upsert", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, upsertArgs(e)...); err != nil {
			return x.unavailable("upsert", fmt.Errorf("message %s: %w", e.MessageID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return x.unavailable("upsert", err)
	}
	return nil
}

func (x *EmailIndex) Delete(ctx context.Context, messageID string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM emails WHERE message_id = $1`, messageID); err != nil {
		return x.unavailable("delete", err)
	}
	return nil
}

func (x *EmailIndex) Clear(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `TRUNCATE TABLE emails`); err != nil {
		return x.unavailable("clear", err)
	}
	return nil
}

func (x *EmailIndex) Search(ctx context.Context, query string, filter *string, limit int) ([]*domain.Email, error) {
	if limit <= 0 {
		limit = 20
	}
	q, args, err := buildSearchSQL(query, filter, limit)
	if err != nil {
		return nil, apperr.InvalidInput("filter", err.Error()).WithError(err)
	}

	emails := []*domain.Email{}
	if err := x.db.SelectContext(ctx, &emails, q, args...); err != nil {
		return nil, x.unavailable("search", err)
	}
	return emails, nil
}

// Fetch returns the most recent emails first.
func (x *EmailIndex) Fetch(ctx context.Context, limit int) ([]*domain.Email, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + emailColumns + ` FROM emails ORDER BY date_ts DESC NULLS LAST, message_id LIMIT $1`

	emails := []*domain.Email{}
	if err := x.db.SelectContext(ctx, &emails, q, limit); err != nil {
		return nil, x.unavailable("fetch", err)
	}
	return emails, nil
}

func (x *EmailIndex) Ping(ctx context.Context) error {
	if err := x.db.PingContext(ctx); err != nil {
		return x.unavailable("ping", err)
	}
	return nil
}

func (x *EmailIndex) unavailable(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	metrics.SearchError(backendName, operation)
	logger.WithError(err).Warn("[EmailIndex] %s failed", operation)
	return apperr.SearchUnavailable(backendName, fmt.Errorf("%s: %w", operation, err))
}
