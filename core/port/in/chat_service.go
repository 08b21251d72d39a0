package in

import (
	"context"

	"mailchat_server/core/domain"
)

// Resolver turns free text into criteria and the emails they select.
type Resolver interface {
	Resolve(ctx context.Context, rawText string, intent domain.Intent) (*domain.QueryCriteria, []*domain.Email, error)
}

type ChatService interface {
	InitSession(ctx context.Context) (*InitSessionResponse, error)
	ProcessChat(ctx context.Context, sessionID, message string) (*ChatResponse, error)
	History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Transcripts(ctx context.Context, sessionID string, limit int) ([]*domain.Transcript, error)
}

type CorpusService interface {
	Import(ctx context.Context, maxResults int) (*ImportResult, error)
	Upsert(ctx context.Context, emails []*domain.Email) error
	Delete(ctx context.Context, messageID string) error
	Search(ctx context.Context, query string, filter *string, limit int) ([]*domain.Email, error)
	Clear(ctx context.Context) error
	Contacts(ctx context.Context, prefix string, limit int) ([]*domain.Contact, error)
}

type InitSessionResponse struct {
	Initialized bool   `json:"initialized"`
	SessionID   string `json:"session_id"`
	EmailCount  int    `json:"email_count"`
}

type ChatResponse struct {
	Reply      string                `json:"reply"`
	Intent     domain.Intent         `json:"intent"`
	Confidence float64               `json:"confidence"`
	Criteria   *domain.QueryCriteria `json:"criteria,omitempty"`
	Emails     []*domain.Email       `json:"emails"`
	// Clarification is set when no email matched a request that needs one.
	Clarification bool `json:"clarification,omitempty"`
}

type ImportResult struct {
	Fetched int `json:"fetched"`
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}
