package search

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"mailchat_server/core/domain"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tier is an identity-match level between a requested name and a header.
// Lower is stronger; TierNone means no match.
type Tier int

const (
	TierNone         Tier = 0
	TierDisplayName  Tier = 1 // display name equals the name
	TierLocalPart    Tier = 2 // address local part equals the name
	TierNameToken    Tier = 3 // a display-name token equals the name
	TierAddress      Tier = 4 // bracketed address or whole header equals the name
	TierTokenPrefix  Tier = 5 // a display-name token starts with the name
	TierNameContains Tier = 6 // display name contains the name
	TierRawContains  Tier = 7 // only the raw header (with address) contains the name
)

var tierScores = map[Tier]float64{
	TierDisplayName:  50,
	TierLocalPart:    40,
	TierNameToken:    20,
	TierAddress:      15,
	TierTokenPrefix:  10,
	TierNameContains: 5,
	TierRawContains:  1,
}

// Score returns the base score of the tier.
func (t Tier) Score() float64 { return tierScores[t] }

func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return strconv.Itoa(int(t))
}

const (
	topicBonus       = 15
	urgencyBonus     = 5
	literalFromBonus = 5
	genericRecency   = 10
	specificRecency  = 3
)

var (
	emailTerms        = []string{"email", "message", "mail", "explain", "please"}
	disqualifierTerms = []string{"invoice", "update", "meeting", "subject", "about"}
	urgencyTerms      = []string{"important", "urgent", "critical", "action"}
)

// ScoredCandidate is one email under consideration for a name reference.
type ScoredCandidate struct {
	Email    *domain.Email
	Tier     Tier
	Score    float64
	BestTier bool
	date     time.Time
	hasDate  bool
}

// Disambiguation is the result of ranking a candidate pool.
type Disambiguation struct {
	Candidates []*ScoredCandidate
	BestTier   Tier
	Generic    bool
}

// Emails returns the ranked emails.
func (d *Disambiguation) Emails() []*domain.Email {
	out := make([]*domain.Email, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		out = append(out, c.Email)
	}
	return out
}

// Disambiguator resolves a bare name to the emails it most plausibly means.
// It only looks at the from/to header, never the body, so a message that
// merely mentions the name cannot match.
type Disambiguator struct{}

func NewDisambiguator() *Disambiguator {
	return &Disambiguator{}
}

// Rank classifies every candidate, keeps only the best tier present, scores
// the survivors against the query and applies the resolution policy. An empty
// result means no email matched.
func (d *Disambiguator) Rank(pool []*domain.Email, party Party, name, rawQuery string) *Disambiguation {
	needle := fold(strings.TrimSpace(name))
	result := &Disambiguation{}
	if needle == "" {
		return result
	}

	var matched []*ScoredCandidate
	best := TierNone
	for _, e := range pool {
		if e == nil {
			continue
		}
		header := party.header(e)
		if strings.TrimSpace(header) == "" {
			continue
		}
		tier := ClassifyTier(header, needle)
		if tier == TierNone {
			continue
		}
		c := &ScoredCandidate{Email: e, Tier: tier, Score: tier.Score()}
		c.date, c.hasDate = e.ParsedDate()
		matched = append(matched, c)
		if best == TierNone || tier < best {
			best = tier
		}
	}
	result.BestTier = best
	if best == TierNone {
		return result
	}

	retained := matched[:0]
	for _, c := range matched {
		if c.Tier == best {
			c.BestTier = true
			retained = append(retained, c)
		}
	}

	query := strings.ToLower(rawQuery)
	result.Generic = IsGenericQuery(query, strings.ToLower(strings.TrimSpace(name)))
	scoreContext(retained, query, strings.ToLower(strings.TrimSpace(name)), result.Generic)

	sort.SliceStable(retained, func(i, j int) bool {
		if retained[i].Score != retained[j].Score {
			return retained[i].Score > retained[j].Score
		}
		return newer(retained[i], retained[j])
	})

	if result.Generic && len(retained) > 1 {
		latest := retained[0]
		for _, c := range retained[1:] {
			if newer(c, latest) {
				latest = c
			}
		}
		retained = []*ScoredCandidate{latest}
	}

	result.Candidates = retained
	return result
}

// ClassifyTier returns the strongest tier header satisfies for an already
// folded name.
func ClassifyTier(header, foldedName string) Tier {
	raw := fold(strings.TrimSpace(header))
	display := fold(domain.DisplayName(header))
	address := fold(domain.Address(header))
	local := ""
	if i := strings.Index(address, "@"); i >= 0 {
		local = address[:i]
	}
	tokens := nameTokens(display)

	switch {
	case display != "" && display == foldedName:
		return TierDisplayName
	case local != "" && local == foldedName:
		return TierLocalPart
	case containsToken(tokens, foldedName):
		return TierNameToken
	case (address != "" && address == foldedName) || raw == foldedName:
		return TierAddress
	case hasTokenPrefix(tokens, foldedName):
		return TierTokenPrefix
	case display != "" && strings.Contains(display, foldedName):
		return TierNameContains
	case strings.Contains(raw, foldedName):
		return TierRawContains
	default:
		return TierNone
	}
}

// IsGenericQuery reports whether the query refers to the sender without any
// topical qualifier, e.g. "explain the email from Kai". Inputs are lowercase.
func IsGenericQuery(query, name string) bool {
	if name == "" || !containsAny(query, emailTerms) {
		return false
	}
	if !strings.Contains(query, "from "+name) && !strings.Contains(query, name+"'s") && !strings.Contains(query, name+"’s") {
		return false
	}
	return !containsAny(query, disqualifierTerms)
}

func scoreContext(group []*ScoredCandidate, query, name string, generic bool) {
	oldest, newest, ok := dateRange(group)
	recencyWeight := float64(specificRecency)
	if generic {
		recencyWeight = genericRecency
	}
	literalFrom := name != "" && strings.Contains(query, "from "+name)

	for _, c := range group {
		subject := strings.ToLower(c.Email.Subject)
		if strings.Contains(query, "update") && strings.Contains(subject, "update") {
			c.Score += topicBonus
		}
		if strings.Contains(query, "invoice") && strings.Contains(subject, "invoice") {
			c.Score += topicBonus
		}
		for _, term := range urgencyTerms {
			c.Score += float64(urgencyBonus * strings.Count(subject, term))
		}
		if ok && c.hasDate {
			c.Score += recencyWeight * recency(c.date, oldest, newest)
		}
		if literalFrom {
			c.Score += literalFromBonus
		}
	}
}

// recency maps t into [0,1] between the oldest and newest dates of the group.
func recency(t, oldest, newest time.Time) float64 {
	span := newest.Sub(oldest)
	if span <= 0 {
		return 1
	}
	return float64(t.Sub(oldest)) / float64(span)
}

func dateRange(group []*ScoredCandidate) (oldest, newest time.Time, ok bool) {
	for _, c := range group {
		if !c.hasDate {
			continue
		}
		if !ok || c.date.Before(oldest) {
			oldest = c.date
		}
		if !ok || c.date.After(newest) {
			newest = c.date
		}
		ok = true
	}
	return oldest, newest, ok
}

// newer reports whether a is more recent than b. Undated candidates are oldest.
func newer(a, b *ScoredCandidate) bool {
	switch {
	case a.hasDate && !b.hasDate:
		return true
	case !a.hasDate:
		return false
	default:
		return a.date.After(b.date)
	}
}

// fold lowercases s and strips diacritics so "José" matches "jose".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func nameTokens(display string) []string {
	return strings.FieldsFunc(display, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '"' || r == '\'' || r == '(' || r == ')'
	})
}

func containsToken(tokens []string, s string) bool {
	for _, t := range tokens {
		if t == s {
			return true
		}
	}
	return false
}

func hasTokenPrefix(tokens []string, s string) bool {
	for _, t := range tokens {
		if strings.HasPrefix(t, s) {
			return true
		}
	}
	return false
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
