package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Email is a single indexed message. MessageID is the only stable identity;
// From and To are untrusted display strings such as "Kai Henderson <kai@corp.io>".
type Email struct {
	From      string `json:"from,omitempty" db:"from_addr"`
	To        string `json:"to,omitempty" db:"to_addr"`
	Date      string `json:"date,omitempty" db:"date"`
	Subject   string `json:"subject,omitempty" db:"subject"`
	Body      string `json:"body,omitempty" db:"body"`
	MessageID string `json:"message_id" db:"message_id"`
}

// Accepted layouts for the Date field, most common first.
var emailDateLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParsedDate parses Date as an RFC 5322 date, then against emailDateLayouts.
// The second return value is false when the field is empty or in an unknown
// layout.
func (e *Email) ParsedDate() (time.Time, bool) {
	raw := strings.TrimSpace(e.Date)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return t, true
	}
	for _, layout := range emailDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DisplayName returns the name part of From.
func (e *Email) DisplayName() string {
	return DisplayName(e.From)
}

// Address returns the address part of From.
func (e *Email) Address() string {
	return Address(e.From)
}

// LocalPart returns the part of the From address before "@".
func (e *Email) LocalPart() string {
	addr := e.Address()
	if i := strings.Index(addr, "@"); i >= 0 {
		return addr[:i]
	}
	return ""
}

// DisplayName extracts the display name from a header value. RFC 5322
// addresses go through net/mail, so encoded words are decoded; anything it
// rejects falls back to splitting on the angle bracket.
//
//	"Kai Henderson <kai@corp.io>" -> "Kai Henderson"
//	"kai@corp.io"                 -> ""
//	"Kai"                         -> "Kai"
func DisplayName(header string) string {
	header = strings.TrimSpace(header)
	if a, err := mail.ParseAddress(header); err == nil {
		return a.Name
	}
	if i := strings.Index(header, "<"); i >= 0 {
		return strings.Trim(strings.TrimSpace(header[:i]), `"'`)
	}
	if strings.Contains(header, "@") {
		return ""
	}
	return strings.Trim(header, `"'`)
}

// Address extracts the address from a header value, or the whole value when
// it is a bare address.
func Address(header string) string {
	header = strings.TrimSpace(header)
	if a, err := mail.ParseAddress(header); err == nil {
		return a.Address
	}
	if i := strings.Index(header, "<"); i >= 0 {
		rest := header[i+1:]
		if j := strings.Index(rest, ">"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if strings.Contains(header, "@") {
		return header
	}
	return ""
}

// String renders the email as a labelled block. Empty fields are skipped.
func (e Email) String() string {
	var sb strings.Builder
	sb.WriteString("Email:\n")
	writeField(&sb, "From", e.From)
	writeField(&sb, "To", e.To)
	writeField(&sb, "Date", e.Date)
	writeField(&sb, "Subject", e.Subject)
	writeField(&sb, "Body", e.Body)
	writeField(&sb, "Message ID", e.MessageID)
	return sb.String()
}

func writeField(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	sb.WriteString("  ")
	sb.WriteString(label)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// Contact is a sender known to the sender directory.
type Contact struct {
	Address      string    `json:"address"`
	Name         string    `json:"name,omitempty"`
	MessageCount int       `json:"message_count"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
}
