package llm

import (
	"context"
	"fmt"
	"strings"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"

	"github.com/goccy/go-json"
)

const classifySystemPrompt = "You are a helpful assistant."

const classifyPromptTemplate = `You are an AI assistant that classifies user intent related to emails. Your task is to determine whether the user wants to:

(A) Reply to an email
(B) Compose a new email
(C) Explain an email
(D) List emails matching a description
(E) Something else (general question about their mail)

Based on the user input, respond in valid JSON format with the following structure:

{
  "intent": "reply" | "compose" | "explain" | "list" | "general",
  "confidence": 0.0 - 1.0,
  "reasoning": "Short explanation of why this classification was chosen."
}

Ensure that:
- "intent" is one of "reply", "compose", "explain", "list" or "general".
- "confidence" is a number between 0 and 1, representing how sure you are about the classification.
- "reasoning" provides a concise justification for the classification.

Now, classify the following user input:

**User Input:** %q`

// IntentClassifier maps raw text to an intent via the completion collaborator.
type IntentClassifier struct {
	completer out.Completer
}

func NewIntentClassifier(completer out.Completer) *IntentClassifier {
	return &IntentClassifier{completer: completer}
}

type classificationResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify never fails. Collaborator errors, timeouts and unparseable
// responses all yield {General, 0}.
func (c *IntentClassifier) Classify(ctx context.Context, text string) domain.IntentClassification {
	log := logger.WithContext(ctx)

	resp, err := c.completer.Chat(WithPurpose(ctx, PurposeClassify), []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: classifySystemPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf(classifyPromptTemplate, text)},
	})
	if err != nil {
		log.WithError(err).Warn("intent classification failed, defaulting to general")
		return degraded()
	}

	result, err := ParseClassification(resp)
	if err != nil {
		log.WithError(err).WithField("response", truncate(resp, 200)).Warn("unparseable intent classification")
		return degraded()
	}

	metrics.IntentClassified(string(result.Intent), false)
	log.WithFields(map[string]any{
		"intent":     result.Intent,
		"confidence": result.Confidence,
	}).Debug("intent classified")
	return result
}

// ParseClassification decodes a classifier response, tolerating code fences
// and surrounding prose.
func ParseClassification(resp string) (domain.IntentClassification, error) {
	var parsed classificationResponse
	if err := json.Unmarshal([]byte(RepairJSON(ExtractJSON(resp))), &parsed); err != nil {
		return domain.IntentClassification{}, fmt.Errorf("decode classification: %w", err)
	}
	if strings.TrimSpace(parsed.Intent) == "" {
		return domain.IntentClassification{}, fmt.Errorf("decode classification: missing intent")
	}

	confidence := parsed.Confidence
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return domain.IntentClassification{
		Intent:     domain.ParseIntent(parsed.Intent),
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
	}, nil
}

func degraded() domain.IntentClassification {
	metrics.IntentClassified(string(domain.IntentGeneral), true)
	return domain.IntentClassification{Intent: domain.IntentGeneral, Confidence: 0}
}
