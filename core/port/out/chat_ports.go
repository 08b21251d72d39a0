package out

import (
	"context"

	"mailchat_server/core/domain"
)

// EmailIndex 전문 검색 인덱스 (Meilisearch / Postgres)
//
// Implementations return an error satisfying apperr.IsSearchUnavailable when
// the backend cannot be reached or answers with a non-2xx status. An empty
// result is never an error.
type EmailIndex interface {
	Upsert(ctx context.Context, email *domain.Email) error
	UpsertMany(ctx context.Context, emails []*domain.Email) error
	Delete(ctx context.Context, messageID string) error
	Search(ctx context.Context, query string, filter *string, limit int) ([]*domain.Email, error)
	// Fetch returns up to limit documents without search ranking.
	Fetch(ctx context.Context, limit int) ([]*domain.Email, error)
	Clear(ctx context.Context) error
}

// Completer 자연어 완성 (LLM) 클라이언트
type Completer interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// SessionStore is a keyed, concurrency-safe session map.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.Session, bool, error)
	Put(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
	// Append adds messages to the session history, keeping at most limit entries.
	Append(ctx context.Context, id string, limit int, msgs ...domain.ChatMessage) error
}

// MailSource 메일 원본 (Gmail inbox)
type MailSource interface {
	FetchInbox(ctx context.Context, max int) ([]*domain.Email, error)
}

// SenderDirectory records who sent what, for contact lookup.
type SenderDirectory interface {
	RecordSenders(ctx context.Context, emails []*domain.Email) error
	Lookup(ctx context.Context, prefix string, limit int) ([]*domain.Contact, error)
}

// TranscriptStore persists chat turns.
type TranscriptStore interface {
	Save(ctx context.Context, t *domain.Transcript) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Transcript, error)
}

// SyncQueue enqueues background mail imports.
type SyncQueue interface {
	EnqueueImport(ctx context.Context, maxResults int) (string, error)
}
