package worker

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType represents the type of a background job.
type JobType = string

const (
	// 메일함 가져오기 (Gmail inbox → 검색 인덱스)
	JobMailImport JobType = "mail.import"
)

// Message is one job delivered by the sync stream.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// ImportPayload is the payload of a JobMailImport job.
type ImportPayload struct {
	MaxResults int `json:"max_results"`
}

// NewImportMessage builds a mail import job.
func NewImportMessage(maxResults int) *Message {
	return &Message{
		ID:   uuid.New().String(),
		Type: JobMailImport,
		Payload: map[string]any{
			"max_results": maxResults,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
