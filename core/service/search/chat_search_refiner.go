package search

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"mailchat_server/core/domain"
)

// nameExpr captures a person reference: one token, plus a following
// capitalized token ("Kai Henderson").
const nameExpr = `([\p{L}\p{N}._%+@'’-]+(?:\s+\p{Lu}[\p{L}'’-]*)?)`

// properNameExpr only accepts capitalized names or addresses, for
// prepositions that mostly introduce things ("by noon", "for approval").
const properNameExpr = `(\p{Lu}[\p{L}'’-]*(?:\s+\p{Lu}[\p{L}'’-]*)?|[\w.%+-]+@[\w.-]+)`

// sentenceStarters are capitalized words that never name a person.
var sentenceStarters = map[string]struct{}{"The": {}, "A": {}, "An": {}, "I": {}, "This": {}}

// nonNames are lowercase words a name pattern may capture by accident
// ("reply to the email ...").
var nonNames = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an my me this that these those his her their our your it him them us
		all any some every everyone someone anyone last recent latest new email emails message messages mail
		reply explain compose draft write show find list tell summarize what who when where why how can could
		would please help hi hello hey thanks today yesterday week month monday tuesday wednesday thursday
		friday saturday sunday tomorrow`) {
		nonNames[w] = struct{}{}
	}
}

// IntentRefiner fills criteria fields the extraction strategies left empty,
// using patterns specific to the request's intent.
type IntentRefiner struct {
	replyTo  *regexp.Regexp
	from     *regexp.Regexp
	to       *regexp.Regexp
	forName  *regexp.Regexp
	by       *regexp.Regexp
	about    *regexp.Regexp
	recently *regexp.Regexp
}

func NewIntentRefiner() *IntentRefiner {
	return &IntentRefiner{
		replyTo:  regexp.MustCompile(`\b(?i:reply\s+to)\s+` + nameExpr),
		from:     regexp.MustCompile(`\b(?i:from)\s+` + nameExpr),
		to:       regexp.MustCompile(`\b(?i:to)\s+` + nameExpr),
		forName:  regexp.MustCompile(`\b(?i:for)\s+` + properNameExpr),
		by:       regexp.MustCompile(`\b(?i:by)\s+` + properNameExpr),
		about:    regexp.MustCompile(`\b(?i:about|regarding)\s+(.+?)(?:\s+(?i:from|to|by|on|in|sent|received|since|before|after)\b|[?.!,;]|$)`),
		recently: regexp.MustCompile(`(?i)\b(?:recent|this\s+week|last\s+week)\b`),
	}
}

// Refine applies intent patterns, then the capitalized-word fallback. Fields
// that are already set are never overwritten.
func (r *IntentRefiner) Refine(c *domain.QueryCriteria, intent domain.Intent, now time.Time) {
	text := c.RawQuery

	switch intent {
	case domain.IntentReply:
		fillName(&c.From, text, r.replyTo, r.from, r.to)
	case domain.IntentCompose:
		fillName(&c.To, text, r.to, r.forName)
	case domain.IntentExplain:
		fillName(&c.From, text, r.from, r.by)
		if c.Subject == "" {
			c.Subject = r.topic(text)
		}
	case domain.IntentList:
		if c.DateFrom == nil && r.recently.MatchString(text) {
			c.DateFrom = timePtr(now.AddDate(0, 0, -7))
		}
		fillName(&c.From, text, r.from)
	default:
		if c.From == "" && c.To == "" {
			if name := firstName(text, r.from); name != "" {
				c.From = name
			} else if name := firstName(text, r.to); name != "" {
				c.To = name
			}
		}
	}

	if c.From == "" && c.To == "" {
		if name := CapitalizedName(text); name != "" {
			if intent.IsComposeLike() {
				c.To = name
			} else {
				c.From = name
			}
		}
	}
}

// fillName sets *field from the first pattern that yields a usable name.
func fillName(field *string, text string, patterns ...*regexp.Regexp) {
	if *field != "" {
		return
	}
	*field = firstName(text, patterns...)
}

func firstName(text string, patterns ...*regexp.Regexp) string {
	for _, p := range patterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if name := cleanName(m[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

// cleanName trims punctuation and possessives and rejects non-name words.
func cleanName(raw string) string {
	name := strings.TrimFunc(strings.TrimSpace(raw), func(r rune) bool {
		return unicode.IsPunct(r) && r != '@' && r != '_'
	})
	name = strings.TrimSuffix(strings.TrimSuffix(name, "'s"), "’s")
	if name == "" {
		return ""
	}
	first := strings.ToLower(strings.Fields(name)[0])
	if _, bad := nonNames[first]; bad {
		return ""
	}
	return name
}

// topic extracts the subject from "about X" / "regarding X".
func (r *IntentRefiner) topic(text string) string {
	m := r.about.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	words := strings.Fields(m[1])
	for len(words) > 0 {
		w := strings.ToLower(words[0])
		if w != "the" && w != "a" && w != "an" && w != "my" && w != "our" && w != "your" && w != "this" && w != "that" {
			break
		}
		words = words[1:]
	}
	return strings.TrimFunc(strings.Join(words, " "), unicode.IsPunct)
}

// CapitalizedName returns the first capitalized token that is not a common
// sentence starter or request word.
func CapitalizedName(text string) string {
	for _, tok := range strings.Fields(text) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		tok = strings.TrimSuffix(strings.TrimSuffix(tok, "'s"), "’s")
		if tok == "" {
			continue
		}
		first := []rune(tok)[0]
		if !unicode.IsUpper(first) {
			continue
		}
		if _, ok := sentenceStarters[tok]; ok {
			continue
		}
		lower := strings.ToLower(tok)
		if _, ok := nonNames[lower]; ok {
			continue
		}
		if _, ok := stopWords[lower]; ok {
			continue
		}
		return tok
	}
	return ""
}
