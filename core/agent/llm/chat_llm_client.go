package llm

import (
	"context"
	"errors"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/httputil"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// Client talks to any OpenAI-compatible chat completion endpoint (OpenAI,
// Ollama's /v1 API, vLLM). It implements out.Completer.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	cb          *gobreaker.CircuitBreaker
}

type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

const (
	DefaultModel   = "llama3.2"
	DefaultTimeout = 30 * time.Second
)

func NewClientWithConfig(cfg ClientConfig) *Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Ollama ignores the key but the client still sends the header.
		apiKey = "ollama"
	}
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httputil.CompletionClient()

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cbSettings := gobreaker.Settings{
		Name:        "completion",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 연속 5회 실패 시 차단
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and returns the first choice's content. The
// call is bounded by the client timeout and guarded by a circuit breaker.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	purpose := purposeFrom(ctx)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		status := completionStatus(err)
		metrics.ObserveCompletion(purpose, status, time.Since(start))
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"purpose": purpose,
			"status":  status,
			"model":   c.model,
		}).Warn("completion call failed")
		return "", apperr.ExternalError("completion", err)
	}

	metrics.ObserveCompletion(purpose, "ok", time.Since(start))
	return out.(string), nil
}

// Complete sends a single user prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}})
}

// IsCircuitOpen returns true if the circuit breaker is open (calls fail fast).
func (c *Client) IsCircuitOpen() bool {
	return c.cb.State() == gobreaker.StateOpen
}

func toOpenAIMessages(messages []domain.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func completionStatus(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "open"
	default:
		return "error"
	}
}

type purposeKey struct{}

// Purposes label completion metrics.
const (
	PurposeClassify = "classify"
	PurposeExtract  = "extract"
	PurposeReply    = "reply"
)

// WithPurpose tags ctx so completion metrics can tell callers apart.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

func purposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok && p != "" {
		return p
	}
	return "chat"
}
