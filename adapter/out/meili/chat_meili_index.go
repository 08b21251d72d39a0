// Package meili implements out.EmailIndex on top of the Meilisearch REST API.
package meili

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/filterexpr"
	"mailchat_server/pkg/httputil"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"
)

const backendName = "meilisearch"

// primaryKey Meilisearch 문서 키. message_id는 허용되지 않는 문자('<', '@', '.')를 담을 수 있어 별도 필드를 쓴다.
const primaryKey = "id"

var (
	filterableAttributes = []string{"message_id", "from", "to", "from_address", "to_address", "subject", "date_ts"}
	sortableAttributes   = []string{"date_ts"}
)

// ErrTaskFailed is returned when an indexing task ends in failed or canceled.
var ErrTaskFailed = errors.New("meilisearch task failed")

type Config struct {
	Host         string
	AdminKey     string
	SearchKey    string
	Index        string
	TaskTimeout  time.Duration
	PollInterval time.Duration
}

// Index is a Meilisearch-backed email index.
type Index struct {
	client       *http.Client
	host         string
	adminKey     string
	searchKey    string
	uid          string
	taskTimeout  time.Duration
	pollInterval time.Duration
}

var _ out.EmailIndex = (*Index)(nil)

// New creates an index client. client may be nil to use the shared search pool.
func New(cfg Config, client *http.Client) *Index {
	if client == nil {
		client = httputil.SearchClient()
	}
	uid := cfg.Index
	if uid == "" {
		uid = "emails"
	}
	searchKey := cfg.SearchKey
	if searchKey == "" {
		searchKey = cfg.AdminKey
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Index{
		client:       client,
		host:         strings.TrimRight(cfg.Host, "/"),
		adminKey:     cfg.AdminKey,
		searchKey:    searchKey,
		uid:          uid,
		taskTimeout:  taskTimeout,
		pollInterval: poll,
	}
}

// document is the stored form of an email.
type document struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	FromAddress string `json:"from_address,omitempty"`
	ToAddress   string `json:"to_address,omitempty"`
	Date        string `json:"date,omitempty"`
	DateTS      *int64 `json:"date_ts,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body,omitempty"`
}

func toDocument(e *domain.Email) document {
	doc := document{
		ID:          DocumentID(e.MessageID),
		MessageID:   e.MessageID,
		From:        e.From,
		To:          e.To,
		FromAddress: strings.ToLower(domain.Address(e.From)),
		ToAddress:   strings.ToLower(domain.Address(e.To)),
		Date:        e.Date,
		Subject:     e.Subject,
		Body:        e.Body,
	}
	if t, ok := e.ParsedDate(); ok {
		ts := t.Unix()
		doc.DateTS = &ts
	}
	return doc
}

func (d document) toEmail() *domain.Email {
	return &domain.Email{
		From:      d.From,
		To:        d.To,
		Date:      d.Date,
		Subject:   d.Subject,
		Body:      d.Body,
		MessageID: d.MessageID,
	}
}

var documentIDExpr = regexp.MustCompile(`^[A-Za-z0-9_-]{1,511}$`)

// DocumentID maps a message id to a valid Meilisearch document id. Ids that
// are already valid are kept so documents stay readable in the dashboard.
func DocumentID(messageID string) string {
	if documentIDExpr.MatchString(messageID) {
		return messageID
	}
	sum := sha256.Sum256([]byte(messageID))
	return "m_" + hex.EncodeToString(sum[:16])
}

// =============================================================================
// Setup
// =============================================================================

// EnsureIndex creates the index when missing and configures filterable and
// sortable attributes. It is safe to call on every start.
func (x *Index) EnsureIndex(ctx context.Context) error {
	status, err := x.do(ctx, http.MethodGet, x.indexPath(), x.adminKey, nil, nil)
	if err != nil && status != http.StatusNotFound {
		return x.unavailable("ensure_index", err)
	}
	if status == http.StatusNotFound {
		var task taskRef
		body := map[string]string{"uid": x.uid, "primaryKey": primaryKey}
		if _, err := x.do(ctx, http.MethodPost, "/indexes", x.adminKey, body, &task); err != nil {
			return x.unavailable("ensure_index", err)
		}
		if err := x.waitTask(ctx, task.TaskUID); err != nil {
			return x.unavailable("ensure_index", err)
		}
		logger.Info("[Meili] created index %s", x.uid)
	}

	settings := map[string]any{
		"filterableAttributes": filterableAttributes,
		"sortableAttributes":   sortableAttributes,
	}
	var task taskRef
	if _, err := x.do(ctx, http.MethodPatch, x.indexPath()+"/settings", x.adminKey, settings, &task); err != nil {
		return x.unavailable("ensure_index", err)
	}
	if err := x.waitTask(ctx, task.TaskUID); err != nil {
		return x.unavailable("ensure_index", err)
	}
	return nil
}

// Ping checks the /health endpoint.
func (x *Index) Ping(ctx context.Context) error {
	if _, err := x.do(ctx, http.MethodGet, "/health", "", nil, nil); err != nil {
		return x.unavailable("ping", err)
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

func (x *Index) Upsert(ctx context.Context, email *domain.Email) error {
	return x.UpsertMany(ctx, []*domain.Email{email})
}

// UpsertMany adds or replaces documents keyed on message_id and waits for the
// indexing task to finish.
func (x *Index) UpsertMany(ctx context.Context, emails []*domain.Email) error {
	docs := make([]document, 0, len(emails))
	for _, e := range emails {
		if e == nil || e.MessageID == "" {
			continue
		}
		docs = append(docs, toDocument(e))
	}
	if len(docs) == 0 {
		return nil
	}

	path := x.indexPath() + "/documents?primaryKey=" + primaryKey
	var task taskRef
	if _, err := x.do(ctx, http.MethodPost, path, x.adminKey, docs, &task); err != nil {
		return x.unavailable("upsert", err)
	}
	if err := x.waitTask(ctx, task.TaskUID); err != nil {
		return x.unavailable("upsert", err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, messageID string) error {
	path := x.indexPath() + "/documents/" + url.PathEscape(DocumentID(messageID))
	var task taskRef
	if _, err := x.do(ctx, http.MethodDelete, path, x.adminKey, nil, &task); err != nil {
		return x.unavailable("delete", err)
	}
	if err := x.waitTask(ctx, task.TaskUID); err != nil {
		return x.unavailable("delete", err)
	}
	return nil
}

// Clear deletes every document but keeps the index and its settings.
func (x *Index) Clear(ctx context.Context) error {
	var task taskRef
	if _, err := x.do(ctx, http.MethodDelete, x.indexPath()+"/documents", x.adminKey, nil, &task); err != nil {
		return x.unavailable("clear", err)
	}
	if err := x.waitTask(ctx, task.TaskUID); err != nil {
		return x.unavailable("clear", err)
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

type searchRequest struct {
	Q      string `json:"q"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type searchResponse struct {
	Hits []document `json:"hits"`
}

type documentsResponse struct {
	Results []document `json:"results"`
}

// Search rejects filters that do not parse, and filters Meilisearch refuses,
// as invalid input rather than an outage.
func (x *Index) Search(ctx context.Context, query string, filter *string, limit int) ([]*domain.Email, error) {
	if filter != nil && strings.TrimSpace(*filter) != "" {
		if _, err := filterexpr.Parse(*filter); err != nil {
			return nil, apperr.InvalidInput("filter", err.Error()).WithError(err)
		}
	}

	q, f := Translate(query, filter)
	req := searchRequest{Q: q, Filter: f, Limit: limit}

	var resp searchResponse
	if _, err := x.do(ctx, http.MethodPost, x.indexPath()+"/search", x.searchKey, req, &resp); err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
			return nil, apperr.InvalidInput("filter", se.Body).WithError(err)
		}
		return nil, x.unavailable("search", err)
	}
	return toEmails(resp.Hits), nil
}

func (x *Index) Fetch(ctx context.Context, limit int) ([]*domain.Email, error) {
	if limit <= 0 {
		limit = 20
	}
	path := x.indexPath() + "/documents?limit=" + strconv.Itoa(limit)
	var resp documentsResponse
	if _, err := x.do(ctx, http.MethodGet, path, x.adminKey, nil, &resp); err != nil {
		return nil, x.unavailable("fetch", err)
	}
	return toEmails(resp.Results), nil
}

func toEmails(docs []document) []*domain.Email {
	emails := make([]*domain.Email, 0, len(docs))
	for _, d := range docs {
		emails = append(emails, d.toEmail())
	}
	return emails
}

// =============================================================================
// Query translation
// =============================================================================

// Translate adapts a query and filter produced by the query builder to
// Meilisearch:
//   - field-scoped name terms become phrase terms
//   - subject clauses become phrase terms (filters only support equality)
//   - from/to clauses also match the extracted address fields
//   - date comparisons on RFC3339 strings become numeric date_ts comparisons
//
// A filter that does not parse is passed through unchanged.
func Translate(query string, filter *string) (string, string) {
	rest, scoped := filterexpr.ScopedTerms(query)
	terms := []string{}
	if rest != "" {
		terms = append(terms, rest)
	}
	for _, t := range scoped {
		terms = append(terms, filterexpr.Quote(t.Value))
	}

	if filter == nil || strings.TrimSpace(*filter) == "" {
		return strings.Join(terms, " "), ""
	}
	clauses, err := filterexpr.Parse(*filter)
	if err != nil {
		return strings.Join(terms, " "), *filter
	}

	var parts []string
	for _, c := range clauses {
		switch {
		case c.Field == "subject" && c.Op == "=":
			terms = append(terms, filterexpr.Quote(c.Value))
		case (c.Field == "from" || c.Field == "to") && c.Op == "=":
			parts = append(parts, fmt.Sprintf("(%s OR %s)",
				c.String(),
				filterexpr.Clause{Field: c.Field + "_address", Op: "=", Value: strings.ToLower(c.Value)}.String()))
		case c.Field == "date":
			t, err := time.Parse(time.RFC3339, c.Value)
			if err != nil {
				parts = append(parts, c.String())
				continue
			}
			parts = append(parts, fmt.Sprintf("date_ts %s %d", c.Op, t.Unix()))
		default:
			parts = append(parts, c.String())
		}
	}
	return strings.Join(terms, " "), strings.Join(parts, " AND ")
}

// =============================================================================
// Tasks
// =============================================================================

type taskRef struct {
	TaskUID int64 `json:"taskUid"`
}

type taskStatus struct {
	UID    int64  `json:"uid"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// waitTask polls /tasks/{uid} until the task leaves the queue.
func (x *Index) waitTask(ctx context.Context, uid int64) error {
	ctx, cancel := context.WithTimeout(ctx, x.taskTimeout)
	defer cancel()

	ticker := time.NewTicker(x.pollInterval)
	defer ticker.Stop()

	path := "/tasks/" + strconv.FormatInt(uid, 10)
	for {
		var st taskStatus
		if _, err := x.do(ctx, http.MethodGet, path, x.adminKey, nil, &st); err != nil {
			return err
		}
		switch st.Status {
		case "succeeded":
			return nil
		case "failed", "canceled":
			if st.Error != nil {
				return fmt.Errorf("%w: task %d %s: %s", ErrTaskFailed, uid, st.Status, st.Error.Message)
			}
			return fmt.Errorf("%w: task %d %s", ErrTaskFailed, uid, st.Status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait task %d: %w", uid, ctx.Err())
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (x *Index) indexPath() string {
	return "/indexes/" + url.PathEscape(x.uid)
}

func (x *Index) do(ctx context.Context, method, path, key string, body, result any) (int, error) {
	req := httputil.Request{Method: method, URL: x.host + path, Body: body}
	if key != "" {
		req.Headers = map[string]string{"Authorization": "Bearer " + key}
	}
	return httputil.DoJSON(ctx, x.client, req, result)
}

func (x *Index) unavailable(operation string, err error) error {
	// 호출자가 끊은 요청은 장애가 아님
	if errors.Is(err, context.Canceled) {
		return err
	}
	metrics.SearchError(backendName, operation)
	logger.WithError(err).Warn("[Meili] %s failed", operation)
	return apperr.SearchUnavailable(backendName, fmt.Errorf("%s: %w", operation, err))
}
