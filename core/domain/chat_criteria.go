package domain

import (
	"strings"
	"time"
)

// QueryCriteria is the structured form of a user's request.
//
// From and To are either a verified address (contains "@") or a bare
// display-name fragment that still needs disambiguation. Confidence is only
// comparable between results of the same extraction method; deterministic
// extraction alone always yields 0.
type QueryCriteria struct {
	Keywords      []string   `json:"keywords"`
	From          string     `json:"from,omitempty"`
	To            string     `json:"to,omitempty"`
	Subject       string     `json:"subject,omitempty"`
	DateFrom      *time.Time `json:"date_from,omitempty"`
	DateTo        *time.Time `json:"date_to,omitempty"`
	HasAttachment *bool      `json:"has_attachment,omitempty"`
	RawQuery      string     `json:"raw_query"`
	Confidence    float64    `json:"confidence"`
}

// IsVerified reports whether a from/to value is an exact address.
func IsVerified(value string) bool {
	return strings.Contains(value, "@")
}

// HasBareParty reports whether From or To holds an unverified name.
func (c *QueryCriteria) HasBareParty() bool {
	return (c.From != "" && !IsVerified(c.From)) || (c.To != "" && !IsVerified(c.To))
}

// IsEmpty reports whether no search field is set.
func (c *QueryCriteria) IsEmpty() bool {
	return len(c.Keywords) == 0 && c.From == "" && c.To == "" && c.Subject == "" &&
		c.DateFrom == nil && c.DateTo == nil && c.HasAttachment == nil
}

// ClampConfidence keeps Confidence inside [0, 1].
func (c *QueryCriteria) ClampConfidence() {
	switch {
	case c.Confidence < 0:
		c.Confidence = 0
	case c.Confidence > 1:
		c.Confidence = 1
	}
}

// Clone returns a deep copy.
func (c *QueryCriteria) Clone() *QueryCriteria {
	if c == nil {
		return nil
	}
	out := *c
	out.Keywords = append([]string(nil), c.Keywords...)
	if c.DateFrom != nil {
		t := *c.DateFrom
		out.DateFrom = &t
	}
	if c.DateTo != nil {
		t := *c.DateTo
		out.DateTo = &t
	}
	if c.HasAttachment != nil {
		b := *c.HasAttachment
		out.HasAttachment = &b
	}
	return &out
}

// AddKeywords appends keywords not already present, keeping order.
func (c *QueryCriteria) AddKeywords(words ...string) {
	seen := make(map[string]struct{}, len(c.Keywords))
	for _, k := range c.Keywords {
		seen[k] = struct{}{}
	}
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		c.Keywords = append(c.Keywords, w)
	}
}
