package domain

import "strings"

// Intent is what the user wants to do with their mail.
type Intent string

const (
	IntentReply   Intent = "reply"
	IntentCompose Intent = "compose"
	IntentExplain Intent = "explain"
	IntentList    Intent = "list"
	IntentGeneral Intent = "general"
)

// AllIntents lists every intent in prompt order.
var AllIntents = []Intent{IntentReply, IntentCompose, IntentExplain, IntentList, IntentGeneral}

// ParseIntent maps a label to an Intent. Unknown labels are General.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentReply:
		return IntentReply
	case IntentCompose:
		return IntentCompose
	case IntentExplain:
		return IntentExplain
	case IntentList:
		return IntentList
	default:
		return IntentGeneral
	}
}

// IsComposeLike reports whether a bare name in the request names a recipient.
func (i Intent) IsComposeLike() bool {
	return i == IntentCompose
}

// IsReplyLike reports whether a bare name in the request names a sender.
func (i Intent) IsReplyLike() bool {
	return !i.IsComposeLike()
}

// NeedsSingleEmail reports whether the intent operates on exactly one message.
func (i Intent) NeedsSingleEmail() bool {
	return i == IntentReply || i == IntentExplain
}

// IntentClassification is the classifier output.
type IntentClassification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}
