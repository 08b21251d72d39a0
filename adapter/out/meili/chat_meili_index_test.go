package meili

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMeili is a minimal in-memory Meilisearch: every task succeeds
// immediately unless failTasks is set.
type fakeMeili struct {
	mu          sync.Mutex
	indexExists bool
	docs        map[string]document
	settings    map[string]any
	lastSearch  searchRequest
	lastAuth    map[string]string
	failTasks   bool
	nextTask    int64
}

func newFakeMeili() *fakeMeili {
	return &fakeMeili{docs: map[string]document{}, lastAuth: map[string]string{}}
}

func (f *fakeMeili) task(w http.ResponseWriter) {
	f.nextTask++
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"taskUid": f.nextTask, "status": "enqueued"})
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.lastAuth[r.Method+" "+path] = r.Header.Get("Authorization")

	switch {
	case path == "/health":
		_, _ = w.Write([]byte(`{"status":"available"}`))

	case strings.HasPrefix(path, "/tasks/"):
		if f.failTasks {
			_, _ = w.Write([]byte(`{"uid":1,"status":"failed","error":{"message":"invalid document","code":"invalid_document_id"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"uid":1,"status":"succeeded"}`))

	case path == "/indexes" && r.Method == http.MethodPost:
		f.indexExists = true
		f.task(w)

	case path == "/indexes/emails" && r.Method == http.MethodGet:
		if !f.indexExists {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"index_not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"uid":"emails","primaryKey":"id"}`))

	case path == "/indexes/emails/settings" && r.Method == http.MethodPatch:
		f.settings = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.settings)
		f.task(w)

	case path == "/indexes/emails/documents" && r.Method == http.MethodPost:
		var docs []document
		_ = json.NewDecoder(r.Body).Decode(&docs)
		for _, d := range docs {
			f.docs[d.ID] = d
		}
		f.task(w)

	case path == "/indexes/emails/documents" && r.Method == http.MethodGet:
		var out []document
		for _, d := range f.docs {
			out = append(out, d)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": out})

	case path == "/indexes/emails/documents" && r.Method == http.MethodDelete:
		f.docs = map[string]document{}
		f.task(w)

	case strings.HasPrefix(path, "/indexes/emails/documents/") && r.Method == http.MethodDelete:
		delete(f.docs, strings.TrimPrefix(path, "/indexes/emails/documents/"))
		f.task(w)

	case path == "/indexes/emails/search":
		_ = json.NewDecoder(r.Body).Decode(&f.lastSearch)
		var hits []document
		for _, d := range f.docs {
			if strings.Contains(strings.ToLower(d.Subject+" "+d.Body), strings.ToLower(f.lastSearch.Q)) {
				hits = append(hits, d)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": hits})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestIndex(t *testing.T, h http.Handler) *Index {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		Host:         srv.URL,
		AdminKey:     "admin-key",
		SearchKey:    "search-key",
		Index:        "emails",
		PollInterval: time.Millisecond,
		TaskTimeout:  time.Second,
	}, srv.Client())
}

func sampleEmails() []*domain.Email {
	return []*domain.Email{
		{
			From:      "Kai Henderson <kai@corp.io>",
			To:        "me@example.com",
			Date:      "2025-03-08T09:00:00Z",
			Subject:   "Invoice #2231",
			Body:      "Please find the invoice attached.",
			MessageID: "<CAB123@mail.gmail.com>",
		},
		{
			From:      "alice@example.com",
			Subject:   "Lunch",
			Body:      "Tacos on Friday?",
			MessageID: "18e2f9a0c1",
		},
	}
}

func TestIndex_EnsureIndex(t *testing.T) {
	fake := newFakeMeili()
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.EnsureIndex(context.Background()))

	assert.True(t, fake.indexExists)
	assert.ElementsMatch(t, []any{"message_id", "from", "to", "from_address", "to_address", "subject", "date_ts"}, fake.settings["filterableAttributes"])
	assert.Equal(t, "Bearer admin-key", fake.lastAuth["POST /indexes"])

	// second call finds the index and only refreshes settings
	require.NoError(t, idx.EnsureIndex(context.Background()))
}

func TestIndex_UpsertSearchDelete(t *testing.T) {
	fake := newFakeMeili()
	fake.indexExists = true
	idx := newTestIndex(t, fake)
	ctx := context.Background()

	require.NoError(t, idx.UpsertMany(ctx, sampleEmails()))
	require.Len(t, fake.docs, 2)

	// same message_id again replaces the stored document
	revised := *sampleEmails()[0]
	revised.Subject = "Invoice #2231 (revised)"
	require.NoError(t, idx.Upsert(ctx, &revised))
	require.Len(t, fake.docs, 2)
	assert.Equal(t, "Invoice #2231 (revised)", fake.docs[DocumentID("<CAB123@mail.gmail.com>")].Subject)

	stored := fake.docs[DocumentID("<CAB123@mail.gmail.com>")]
	assert.Equal(t, "<CAB123@mail.gmail.com>", stored.MessageID)
	assert.Equal(t, "kai@corp.io", stored.FromAddress)
	require.NotNil(t, stored.DateTS)
	assert.Equal(t, time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC).Unix(), *stored.DateTS)
	assert.Nil(t, fake.docs["18e2f9a0c1"].DateTS, "undated email has no date_ts")

	filter := `from = "kai@corp.io" AND date >= "2025-03-01T00:00:00Z"`
	results, err := idx.Search(ctx, "invoice", &filter, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Kai Henderson <kai@corp.io>", results[0].From)
	assert.Equal(t, `(from = "kai@corp.io" OR from_address = "kai@corp.io") AND date_ts >= 1740787200`, fake.lastSearch.Filter)
	assert.Equal(t, 5, fake.lastSearch.Limit)
	assert.Equal(t, "Bearer search-key", fake.lastAuth["POST /indexes/emails/search"])

	require.NoError(t, idx.Delete(ctx, "<CAB123@mail.gmail.com>"))
	assert.Len(t, fake.docs, 1)

	require.NoError(t, idx.Clear(ctx))
	assert.Empty(t, fake.docs)
}

func TestIndex_UpsertSkipsEmptyBatch(t *testing.T) {
	fake := newFakeMeili()
	idx := newTestIndex(t, fake)

	err := idx.UpsertMany(context.Background(), []*domain.Email{{Subject: "no id"}})
	require.NoError(t, err)
	assert.Zero(t, fake.nextTask)
}

func TestIndex_Fetch(t *testing.T) {
	fake := newFakeMeili()
	fake.indexExists = true
	idx := newTestIndex(t, fake)
	ctx := context.Background()

	require.NoError(t, idx.UpsertMany(ctx, sampleEmails()))

	emails, err := idx.Fetch(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, emails, 2)
}

func TestIndex_EmptyResultIsNotAnError(t *testing.T) {
	fake := newFakeMeili()
	fake.indexExists = true
	idx := newTestIndex(t, fake)

	results, err := idx.Search(context.Background(), "nothing", nil, 10)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestIndex_Unavailable(t *testing.T) {
	down := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	})
	idx := newTestIndex(t, down)
	ctx := context.Background()

	_, err := idx.Search(ctx, "invoice", nil, 10)
	assert.True(t, apperr.IsSearchUnavailable(err))

	_, err = idx.Fetch(ctx, 10)
	assert.True(t, apperr.IsSearchUnavailable(err))

	assert.True(t, apperr.IsSearchUnavailable(idx.Ping(ctx)))
	assert.Equal(t, http.StatusServiceUnavailable, apperr.GetHTTPStatus(idx.Clear(ctx)))
}

func TestIndex_SearchErrorsThatAreNotOutages(t *testing.T) {
	var calls atomic.Int32
	rejecting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Attribute ` + "`cc`" + ` is not filterable","code":"invalid_search_filter"}`))
	})
	idx := newTestIndex(t, rejecting)

	t.Run("filter refused by meilisearch", func(t *testing.T) {
		filter := `cc = "kai@corp.io"`
		_, err := idx.Search(context.Background(), "invoice", &filter, 10)
		require.Error(t, err)
		assert.False(t, apperr.IsSearchUnavailable(err))
		assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput))
		assert.Equal(t, http.StatusBadRequest, apperr.GetHTTPStatus(err))
	})

	t.Run("filter that does not parse", func(t *testing.T) {
		before := calls.Load()
		filter := `from = "unterminated`
		_, err := idx.Search(context.Background(), "", &filter, 10)
		assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput))
		assert.Equal(t, before, calls.Load(), "rejected before reaching meilisearch")
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := idx.Search(ctx, "invoice", nil, 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, apperr.IsSearchUnavailable(err))

		_, err = idx.Fetch(ctx, 10)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, apperr.IsSearchUnavailable(err))
	})
}

func TestIndex_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()

	idx := New(Config{Host: host, Index: "emails"}, nil)
	_, err := idx.Search(context.Background(), "x", nil, 1)
	assert.True(t, apperr.IsSearchUnavailable(err))
}

func TestIndex_FailedTask(t *testing.T) {
	fake := newFakeMeili()
	fake.indexExists = true
	fake.failTasks = true
	idx := newTestIndex(t, fake)

	err := idx.UpsertMany(context.Background(), sampleEmails())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.True(t, apperr.IsSearchUnavailable(err))
	assert.Contains(t, err.Error(), "invalid document")
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "18e2f9a0c1", DocumentID("18e2f9a0c1"))
	assert.Equal(t, "msg_1-a", DocumentID("msg_1-a"))

	hashed := DocumentID("<CAB123@mail.gmail.com>")
	assert.True(t, strings.HasPrefix(hashed, "m_"))
	assert.Len(t, hashed, 34)
	assert.Equal(t, hashed, DocumentID("<CAB123@mail.gmail.com>"))
	assert.NotEqual(t, hashed, DocumentID("<CAB124@mail.gmail.com>"))
}

func TestTranslate(t *testing.T) {
	filter := func(s string) *string { return &s }

	tests := []struct {
		name       string
		query      string
		filter     *string
		wantQuery  string
		wantFilter string
	}{
		{
			name:      "keywords only",
			query:     "invoice budget",
			wantQuery: "invoice budget",
		},
		{
			name:      "scoped name becomes phrase",
			query:     `budget from:"Kai Henderson"`,
			wantQuery: `budget "Kai Henderson"`,
		},
		{
			name:       "party clause also matches address field",
			query:      "invoice",
			filter:     filter(`from = "Kai@Corp.io"`),
			wantQuery:  "invoice",
			wantFilter: `(from = "Kai@Corp.io" OR from_address = "kai@corp.io")`,
		},
		{
			name:       "subject moves into the query",
			filter:     filter(`subject = "Q3 plan" AND to = "bob@x.io"`),
			wantQuery:  `"Q3 plan"`,
			wantFilter: `(to = "bob@x.io" OR to_address = "bob@x.io")`,
		},
		{
			name:       "date range",
			filter:     filter(`date >= "2025-03-01T00:00:00Z" AND date <= "2025-03-01T23:59:59Z"`),
			wantFilter: `date_ts >= 1740787200 AND date_ts <= 1740873599`,
		},
		{
			name:       "offset respected",
			filter:     filter(`date >= "2025-03-01T01:00:00+01:00"`),
			wantFilter: `date_ts >= 1740787200`,
		},
		{
			name:       "unparseable date kept",
			filter:     filter(`date >= "last tuesday"`),
			wantFilter: `date >= "last tuesday"`,
		},
		{
			name:       "unparseable filter passed through",
			query:      "x",
			filter:     filter(`from = kai`),
			wantQuery:  "x",
			wantFilter: `from = kai`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, f := Translate(tt.query, tt.filter)
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.wantFilter, f)
		})
	}
}
