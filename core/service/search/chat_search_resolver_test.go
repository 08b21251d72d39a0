package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu         sync.Mutex
	pool       []*domain.Email
	results    []*domain.Email
	err        error
	searches   int
	fetches    int
	lastQuery  string
	lastFilter *string
	lastLimit  int
}

func (f *fakeIndex) Upsert(context.Context, *domain.Email) error       { return nil }
func (f *fakeIndex) UpsertMany(context.Context, []*domain.Email) error { return nil }
func (f *fakeIndex) Delete(context.Context, string) error              { return nil }
func (f *fakeIndex) Clear(context.Context) error                       { return nil }

func (f *fakeIndex) Search(_ context.Context, query string, filter *string, limit int) ([]*domain.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	f.lastQuery, f.lastFilter, f.lastLimit = query, filter, limit
	return f.results, f.err
}

func (f *fakeIndex) Fetch(_ context.Context, limit int) ([]*domain.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.pool) {
		return f.pool[:limit], nil
	}
	return f.pool, nil
}

func newTestResolver(index *fakeIndex) *Resolver {
	extractor := NewCriteriaExtractor(0.7, []ExtractionStrategy{NewQueryAnalyzer()},
		WithClock(func() time.Time { return testNow }))
	return NewResolver(extractor, index, 50, 10)
}

func TestResolver_BareNameIsDisambiguated(t *testing.T) {
	index := &fakeIndex{pool: kaiCorpus()}
	criteria, emails, err := newTestResolver(index).Resolve(context.Background(), "explain the email from Kai", domain.IntentExplain)

	require.NoError(t, err)
	assert.Equal(t, "Kai", criteria.From)
	assert.Equal(t, []string{"kai-latest"}, messageIDs(emails))
	assert.Equal(t, 1, index.fetches)
	assert.Equal(t, 50, index.lastLimit)
	assert.Zero(t, index.searches)
}

func TestResolver_DateBoundsNarrowThePool(t *testing.T) {
	index := &fakeIndex{pool: kaiCorpus()}
	_, emails, err := newTestResolver(index).Resolve(context.Background(), "list what Kai sent in February, after:2025-01-15 before:2025-02-28", domain.IntentList)

	require.NoError(t, err)
	assert.Equal(t, []string{"kai-invoice"}, messageIDs(emails))
}

func TestResolver_VerifiedAddressUsesFilter(t *testing.T) {
	index := &fakeIndex{results: []*domain.Email{{MessageID: "a1", From: "alice@example.com"}}}
	criteria, emails, err := newTestResolver(index).Resolve(context.Background(), "explain from:alice@example.com", domain.IntentExplain)

	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", criteria.From)
	assert.Equal(t, []string{"a1"}, messageIDs(emails))
	assert.Equal(t, "", index.lastQuery)
	require.NotNil(t, index.lastFilter)
	assert.Equal(t, `from = "alice@example.com"`, *index.lastFilter)
	assert.Equal(t, 10, index.lastLimit)
	assert.Zero(t, index.fetches)
}

func TestResolver_SingleEmailIntentsAreTrimmed(t *testing.T) {
	index := &fakeIndex{results: []*domain.Email{{MessageID: "1"}, {MessageID: "2"}}}

	_, emails, err := newTestResolver(index).Resolve(context.Background(), "reply about the budget", domain.IntentReply)
	require.NoError(t, err)
	assert.Len(t, emails, 1)

	_, emails, err = newTestResolver(index).Resolve(context.Background(), "list budget threads", domain.IntentList)
	require.NoError(t, err)
	assert.Len(t, emails, 2)
}

func TestResolver_EmptyResultIsNotAnError(t *testing.T) {
	index := &fakeIndex{}
	_, emails, err := newTestResolver(index).Resolve(context.Background(), "budget spreadsheet", domain.IntentGeneral)

	require.NoError(t, err)
	assert.NotNil(t, emails)
	assert.Empty(t, emails)
}

func TestResolver_SearchUnavailablePropagates(t *testing.T) {
	index := &fakeIndex{err: apperr.SearchUnavailable("meili", errors.New("connection refused"))}

	_, _, err := newTestResolver(index).Resolve(context.Background(), "budget spreadsheet", domain.IntentGeneral)
	require.Error(t, err)
	assert.True(t, apperr.IsSearchUnavailable(err))

	_, _, err = newTestResolver(index).Resolve(context.Background(), "explain the email from Kai", domain.IntentExplain)
	require.Error(t, err)
	assert.True(t, apperr.IsSearchUnavailable(err))
}

func TestResolver_EmptyCriteria(t *testing.T) {
	index := &fakeIndex{results: []*domain.Email{{MessageID: "x"}}}

	_, emails, err := newTestResolver(index).Resolve(context.Background(), "hi", domain.IntentGeneral)
	require.NoError(t, err)
	assert.Empty(t, emails)
	assert.Zero(t, index.searches)

	_, emails, err = newTestResolver(index).Resolve(context.Background(), "ok", domain.IntentList)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
	assert.Equal(t, 1, index.searches)
	assert.Nil(t, index.lastFilter)
}
