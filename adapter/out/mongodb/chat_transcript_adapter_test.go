package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeTranscripts struct {
	inserted   []interface{}
	insertErr  error
	found      []interface{}
	findErr    error
	lastFilter interface{}
	lastOpts   *options.FindOptions
}

func (f *fakeTranscripts) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = append(f.inserted, doc)
	return &mongo.InsertOneResult{}, nil
}

func (f *fakeTranscripts) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	f.lastFilter = filter
	if len(opts) > 0 {
		f.lastOpts = opts[0]
	}
	if f.findErr != nil {
		return nil, f.findErr
	}
	return mongo.NewCursorFromDocuments(f.found, nil, nil)
}

func newTestAdapter(fake *fakeTranscripts, retention time.Duration) *TranscriptAdapter {
	now := time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC)
	return &TranscriptAdapter{docs: fake, retention: retention, now: func() time.Time { return now }}
}

func TestTranscriptAdapter_Save(t *testing.T) {
	fake := &fakeTranscripts{}
	a := newTestAdapter(fake, 24*time.Hour)

	err := a.Save(context.Background(), &domain.Transcript{
		SessionID:   "s1",
		UserMessage: "reply to Kai",
		Reply:       "Hi Kai,",
		Intent:      domain.IntentReply,
		MessageIDs:  []string{"kai-latest"},
	})
	require.NoError(t, err)
	require.Len(t, fake.inserted, 1)

	doc := fake.inserted[0].(transcriptDoc)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "s1", doc.SessionID)
	assert.Equal(t, time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC), doc.CreatedAt)
	require.NotNil(t, doc.ExpiresAt)
	assert.Equal(t, doc.CreatedAt.Add(24*time.Hour), *doc.ExpiresAt)
}

func TestTranscriptAdapter_SaveValidation(t *testing.T) {
	fake := &fakeTranscripts{}
	a := newTestAdapter(fake, 0)

	require.NoError(t, a.Save(context.Background(), nil))

	err := a.Save(context.Background(), &domain.Transcript{Reply: "x"})
	assert.True(t, apperr.HasCode(err, apperr.CodeMissingField))
	assert.Empty(t, fake.inserted)
}

func TestTranscriptAdapter_SaveFailure(t *testing.T) {
	a := newTestAdapter(&fakeTranscripts{insertErr: errors.New("no primary")}, 0)

	err := a.Save(context.Background(), &domain.Transcript{SessionID: "s1"})
	assert.True(t, apperr.HasCode(err, apperr.CodeDatabaseError))
}

func TestTranscriptAdapter_ListBySession(t *testing.T) {
	newer := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	fake := &fakeTranscripts{found: []interface{}{
		transcriptDoc{ID: "2", Transcript: domain.Transcript{SessionID: "s1", Reply: "second", CreatedAt: newer}},
		transcriptDoc{ID: "1", Transcript: domain.Transcript{SessionID: "s1", Reply: "first", CreatedAt: older}},
	}}
	a := newTestAdapter(fake, 0)

	list, err := a.ListBySession(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Reply)
	assert.True(t, list[0].CreatedAt.Equal(newer))
	assert.Equal(t, "first", list[1].Reply)

	assert.Equal(t, bson.M{"session_id": "s1"}, fake.lastFilter)
	require.NotNil(t, fake.lastOpts)
	assert.Equal(t, int64(10), *fake.lastOpts.Limit)
	assert.Equal(t, bson.D{{Key: "created_at", Value: -1}}, fake.lastOpts.Sort)
}

func TestTranscriptAdapter_ListEmptyAndErrors(t *testing.T) {
	a := newTestAdapter(&fakeTranscripts{}, 0)
	list, err := a.ListBySession(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	a = newTestAdapter(&fakeTranscripts{findErr: errors.New("timeout")}, 0)
	_, err = a.ListBySession(context.Background(), "s1", 5)
	assert.True(t, apperr.HasCode(err, apperr.CodeDatabaseError))
}
