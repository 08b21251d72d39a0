package search

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"mailchat_server/core/domain"
)

// stopWords never become keywords.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about an are as at be by com for from how i in is it of on or that the this
		to was what when where who will with show me my mail email emails message messages find get search
		containing has have received sent attachment attachments yesterday today ago week month day subject
		regarding please explain reply compose draft write help can you list`) {
		stopWords[w] = struct{}{}
	}
}

// QueryAnalyzer is the deterministic extraction strategy: date ranges from a
// fixed vocabulary, search operators, and stop-word filtered keywords.
type QueryAnalyzer struct {
	explicitDate *regexp.Regexp
	lastNDays    *regexp.Regexp
	after        *regexp.Regexp
	before       *regexp.Regexp
	operator     *regexp.Regexp
}

// NewQueryAnalyzer creates a new query analyzer.
func NewQueryAnalyzer() *QueryAnalyzer {
	return &QueryAnalyzer{
		explicitDate: regexp.MustCompile(`(?i)\b(?:on|date):?\s*(\d{4}-\d{2}-\d{2})\b`),
		lastNDays:    regexp.MustCompile(`(?i)\blast\s+(\d+)\s+days?\b`),
		after:        regexp.MustCompile(`(?i)\bafter:?\s*(\d{4}-\d{2}-\d{2})\b`),
		before:       regexp.MustCompile(`(?i)\bbefore:?\s*(\d{4}-\d{2}-\d{2})\b`),
		operator:     regexp.MustCompile(`(?i)\b(from|to|subject):("[^"]+"|\S+)`),
	}
}

func (a *QueryAnalyzer) Name() string       { return "deterministic" }
func (a *QueryAnalyzer) Kind() StrategyKind { return KindDeterministic }

// Extract never fails. Confidence is always 0.
func (a *QueryAnalyzer) Extract(_ context.Context, rawText string, _ domain.Intent, now time.Time) (*domain.QueryCriteria, error) {
	c := &domain.QueryCriteria{RawQuery: rawText, Keywords: []string{}}
	rest := a.extractOperators(rawText, c)
	a.extractDates(rawText, now, c)
	c.Keywords = a.ExtractKeywords(rest)
	return c, nil
}

// extractOperators pulls explicit from:/to:/subject: operators and returns the
// text with them removed.
func (a *QueryAnalyzer) extractOperators(text string, c *domain.QueryCriteria) string {
	for _, m := range a.operator.FindAllStringSubmatch(text, -1) {
		value := strings.Trim(m[2], `"'`)
		switch strings.ToLower(m[1]) {
		case "from":
			if c.From == "" {
				c.From = value
			}
		case "to":
			if c.To == "" {
				c.To = value
			}
		case "subject":
			if c.Subject == "" {
				c.Subject = value
			}
		}
	}
	return a.operator.ReplaceAllString(text, " ")
}

// extractDates resolves the date vocabulary against now. An explicit date wins;
// otherwise the first matching relative phrase applies, and after/before bounds
// then narrow whichever side they name.
func (a *QueryAnalyzer) extractDates(text string, now time.Time, c *domain.QueryCriteria) {
	lower := strings.ToLower(text)
	today := startOfDay(now)

	if m := a.explicitDate.FindStringSubmatch(text); m != nil {
		if day, err := time.ParseInLocation("2006-01-02", m[1], now.Location()); err == nil {
			c.DateFrom = timePtr(day)
			c.DateTo = timePtr(endOfDay(day))
			return
		}
	}

	switch {
	case strings.Contains(lower, "today"):
		c.DateFrom = timePtr(today)
	case strings.Contains(lower, "yesterday"):
		y := today.AddDate(0, 0, -1)
		c.DateFrom = timePtr(y)
		c.DateTo = timePtr(endOfDay(y))
	case strings.Contains(lower, "this week"):
		c.DateFrom = timePtr(startOfWeek(today))
	case strings.Contains(lower, "last week"):
		thisMonday := startOfWeek(today)
		lastMonday := thisMonday.AddDate(0, 0, -7)
		c.DateFrom = timePtr(lastMonday)
		c.DateTo = timePtr(endOfDay(thisMonday.AddDate(0, 0, -1)))
	case strings.Contains(lower, "this month"):
		c.DateFrom = timePtr(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()))
	default:
		if m := a.lastNDays.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				c.DateFrom = timePtr(today.AddDate(0, 0, -n))
			}
		}
	}

	if m := a.after.FindStringSubmatch(text); m != nil {
		if day, err := time.ParseInLocation("2006-01-02", m[1], now.Location()); err == nil {
			c.DateFrom = timePtr(day)
		}
	}
	if m := a.before.FindStringSubmatch(text); m != nil {
		if day, err := time.ParseInLocation("2006-01-02", m[1], now.Location()); err == nil {
			c.DateTo = timePtr(endOfDay(day))
		}
	}
}

// ExtractKeywords lowercases, splits on whitespace, strips non-alphanumeric
// edges and drops stop words and tokens of two characters or fewer. Order is
// preserved and duplicates removed.
func (a *QueryAnalyzer) ExtractKeywords(text string) []string {
	keywords := make([]string, 0)
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		tok = strings.TrimSuffix(strings.TrimSuffix(tok, "'s"), "’s")
		if len([]rune(tok)) <= 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
