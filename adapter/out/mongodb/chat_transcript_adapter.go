package mongodb

import (
	"context"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Transcript Adapter
// =============================================================================

const collectionTranscripts = "chat_transcripts"

// transcriptCollection is the subset of *mongo.Collection the adapter uses.
type transcriptCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// TranscriptAdapter implements out.TranscriptStore using MongoDB.
type TranscriptAdapter struct {
	collection *mongo.Collection
	docs       transcriptCollection
	retention  time.Duration
	now        func() time.Time
}

var _ out.TranscriptStore = (*TranscriptAdapter)(nil)

// NewTranscriptAdapter creates the adapter. A positive retention expires
// transcripts through a TTL index.
func NewTranscriptAdapter(db *mongo.Database, retention time.Duration) *TranscriptAdapter {
	collection := db.Collection(collectionTranscripts)
	return &TranscriptAdapter{
		collection: collection,
		docs:       collection,
		retention:  retention,
		now:        time.Now,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *TranscriptAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type transcriptDoc struct {
	ID                string     `bson:"_id"`
	domain.Transcript `bson:",inline"`
	ExpiresAt         *time.Time `bson:"expires_at,omitempty"`
}

// =============================================================================
// Operations
// =============================================================================

func (a *TranscriptAdapter) Save(ctx context.Context, t *domain.Transcript) error {
	if t == nil {
		return nil
	}
	if t.SessionID == "" {
		return apperr.MissingField("session_id")
	}

	doc := transcriptDoc{
		ID:         uuid.New().String(),
		Transcript: *t,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = a.now().UTC()
	}
	if a.retention > 0 {
		exp := doc.CreatedAt.Add(a.retention)
		doc.ExpiresAt = &exp
	}

	if _, err := a.docs.InsertOne(ctx, doc); err != nil {
		return apperr.DatabaseError("save transcript", err)
	}
	return nil
}

// ListBySession returns the newest transcripts of a session first.
func (a *TranscriptAdapter) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Transcript, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.docs.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, apperr.DatabaseError("list transcripts", err)
	}
	defer cursor.Close(ctx)

	var docs []transcriptDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperr.DatabaseError("decode transcripts", err)
	}

	result := make([]*domain.Transcript, 0, len(docs))
	for i := range docs {
		t := docs[i].Transcript
		result = append(result, &t)
	}
	return result, nil
}
