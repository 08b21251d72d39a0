package domain

import "time"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session holds the conversation state of one browser session.
type Session struct {
	ID         string        `json:"id"`
	History    []ChatMessage `json:"history"`
	EmailCount int           `json:"email_count"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsed   time.Time     `json:"last_used"`
}

// AppendHistory adds messages and keeps at most limit entries.
func (s *Session) AppendHistory(limit int, msgs ...ChatMessage) {
	s.History = append(s.History, msgs...)
	if limit > 0 && len(s.History) > limit {
		s.History = append([]ChatMessage(nil), s.History[len(s.History)-limit:]...)
	}
	s.LastUsed = time.Now()
}

// Transcript is the durable record of one chat turn.
type Transcript struct {
	SessionID   string         `json:"session_id" bson:"session_id"`
	UserMessage string         `json:"user_message" bson:"user_message"`
	Reply       string         `json:"reply" bson:"reply"`
	Intent      Intent         `json:"intent" bson:"intent"`
	Confidence  float64        `json:"confidence" bson:"confidence"`
	Criteria    *QueryCriteria `json:"criteria,omitempty" bson:"criteria,omitempty"`
	MessageIDs  []string       `json:"message_ids" bson:"message_ids"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
}
