package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/core/service/search"

	"github.com/goccy/go-json"
)

const extractPromptTemplate = `Today is %s.

The user would like to %s. Using information from the query, extract parameters which will be used to find emails in their inbox relevant to the user's intent. Only supply criteria if you can derive them from the query.

Query: %q

Format your response as a valid JSON object with the following structure:
{
  "from": "sender email or name (null if not specified)",
  "to": "recipient email or name (null if not specified)",
  "subject": "email subject terms (null if not specified)",
  "date_from": "ISO date string for earliest date (null if not specified)",
  "date_to": "ISO date string for latest date (null if not specified)",
  "has_attachment": boolean indicating if attachments are required (null if not specified),
  "keywords": ["important", "words", "for", "search"],
  "confidence": 0.95
}

"confidence" is your confidence in this extraction from 0.0 to 1.0.
Only output valid JSON with no additional text.`

var intentGoals = map[domain.Intent]string{
	domain.IntentReply:   "reply to an email",
	domain.IntentCompose: "compose an email",
	domain.IntentExplain: "explain an email",
	domain.IntentList:    "see a list of matching emails",
	domain.IntentGeneral: "find emails",
}

// CompletionStrategy is the assisted extraction strategy: it asks the
// completion collaborator for criteria as JSON.
type CompletionStrategy struct {
	completer out.Completer
}

func NewCompletionStrategy(completer out.Completer) *CompletionStrategy {
	return &CompletionStrategy{completer: completer}
}

func (s *CompletionStrategy) Name() string              { return "completion" }
func (s *CompletionStrategy) Kind() search.StrategyKind { return search.KindAssisted }

type criteriaResponse struct {
	From          *string  `json:"from"`
	To            *string  `json:"to"`
	Subject       *string  `json:"subject"`
	DateFrom      *string  `json:"date_from"`
	DateTo        *string  `json:"date_to"`
	HasAttachment *bool    `json:"has_attachment"`
	Keywords      []string `json:"keywords"`
	Confidence    float64  `json:"confidence"`
}

func (s *CompletionStrategy) Extract(ctx context.Context, rawText string, intent domain.Intent, now time.Time) (*domain.QueryCriteria, error) {
	goal, ok := intentGoals[intent]
	if !ok {
		goal = intentGoals[domain.IntentGeneral]
	}
	prompt := fmt.Sprintf(extractPromptTemplate, now.Format("2006-01-02"), goal, rawText)

	resp, err := s.completer.Chat(WithPurpose(ctx, PurposeExtract), []domain.ChatMessage{
		{Role: domain.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, search.NewExtractionFailure(s.Name(), search.FailureCollaborator, err)
	}

	c, err := ParseCriteria(resp, rawText, now)
	if err != nil {
		return nil, search.NewExtractionFailure(s.Name(), search.FailureParse, err)
	}
	return c, nil
}

// ParseCriteria decodes a criteria response. Placeholder values such as
// "null" or "unknown" are treated as absent.
func ParseCriteria(resp, rawText string, now time.Time) (*domain.QueryCriteria, error) {
	var parsed criteriaResponse
	if err := json.Unmarshal([]byte(RepairJSON(ExtractJSON(resp))), &parsed); err != nil {
		return nil, fmt.Errorf("decode criteria: %w", err)
	}

	c := &domain.QueryCriteria{
		Keywords:      []string{},
		From:          clean(parsed.From),
		To:            clean(parsed.To),
		Subject:       clean(parsed.Subject),
		HasAttachment: parsed.HasAttachment,
		RawQuery:      rawText,
		Confidence:    parsed.Confidence,
	}
	if v := clean(parsed.DateFrom); v != "" {
		c.DateFrom = parseDateString(v, now, false)
	}
	if v := clean(parsed.DateTo); v != "" {
		c.DateTo = parseDateString(v, now, true)
	}
	for _, k := range parsed.Keywords {
		c.AddKeywords(strings.ToLower(strings.TrimSpace(k)))
	}
	return c, nil
}

var placeholders = map[string]struct{}{
	"": {}, "null": {}, "none": {}, "nil": {}, "unknown": {}, "n/a": {}, "not specified": {},
}

func clean(v *string) string {
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(*v)
	if _, ok := placeholders[strings.ToLower(s)]; ok {
		return ""
	}
	return s
}

var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", true},
	{"2006/01/02", true},
	{"02-01-2006", true},
	{"02/01/2006", true},
}

// parseDateString accepts ISO-like dates and a few relative words. A date
// without a time used as an upper bound covers the whole day.
func parseDateString(s string, now time.Time, upper bool) *time.Time {
	for _, l := range dateLayouts {
		t, err := time.ParseInLocation(l.layout, s, now.Location())
		if err != nil {
			continue
		}
		if l.dateOnly && upper {
			t = t.Add(24*time.Hour - time.Second)
		}
		return &t
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var t time.Time
	switch strings.ToLower(s) {
	case "today":
		t = today
	case "yesterday":
		t = today.AddDate(0, 0, -1)
	case "last week":
		t = today.AddDate(0, 0, -7)
	case "last month":
		t = today.AddDate(0, 0, -30)
	default:
		return nil
	}
	return &t
}
