package search

import (
	"context"
	"fmt"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"
)

// Resolver implements in.Resolver: text -> criteria -> emails.
type Resolver struct {
	extractor     *CriteriaExtractor
	index         out.EmailIndex
	disambiguator *Disambiguator
	poolSize      int
	searchLimit   int
}

func NewResolver(extractor *CriteriaExtractor, index out.EmailIndex, poolSize, searchLimit int) *Resolver {
	if poolSize <= 0 {
		poolSize = 100
	}
	if searchLimit <= 0 {
		searchLimit = 20
	}
	return &Resolver{
		extractor:     extractor,
		index:         index,
		disambiguator: NewDisambiguator(),
		poolSize:      poolSize,
		searchLimit:   searchLimit,
	}
}

// Resolve extracts criteria from rawText and selects matching emails.
//
// A bare from/to name goes through the disambiguator over a bulk-fetched
// pool; verified criteria are compiled with BuildQuery and sent to the
// backend. Reply and Explain receive at most one email. An empty slice with a
// nil error means nothing matched; a backend failure is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, rawText string, intent domain.Intent) (*domain.QueryCriteria, []*domain.Email, error) {
	start := time.Now()
	criteria := r.extractor.Extract(ctx, rawText, intent)

	var (
		emails []*domain.Email
		err    error
		path   string
	)
	if party, name, ok := bareParty(criteria); ok {
		path = "disambiguate"
		emails, err = r.disambiguate(ctx, criteria, party, name)
	} else {
		path = "query"
		emails, err = r.search(ctx, criteria, intent)
	}
	metrics.ObserveResolve(path, time.Since(start))
	if err != nil {
		return criteria, nil, err
	}

	if intent.NeedsSingleEmail() && len(emails) > 1 {
		emails = emails[:1]
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"path":    path,
		"intent":  string(intent),
		"matched": len(emails),
	}).WithDuration(time.Since(start)).Info("request resolved")

	return criteria, emails, nil
}

func (r *Resolver) disambiguate(ctx context.Context, c *domain.QueryCriteria, party Party, name string) ([]*domain.Email, error) {
	pool, err := r.index.Fetch(ctx, r.poolSize)
	if err != nil {
		return nil, fmt.Errorf("fetch candidate pool: %w", err)
	}

	result := r.disambiguator.Rank(withinDates(pool, c.DateFrom, c.DateTo), party, name, c.RawQuery)
	metrics.DisambiguationOutcome(result.BestTier.String(), result.Generic)

	return result.Emails(), nil
}

func (r *Resolver) search(ctx context.Context, c *domain.QueryCriteria, intent domain.Intent) ([]*domain.Email, error) {
	query, filter := BuildQuery(c)

	q := ""
	if query != nil {
		q = *query
	}
	if query == nil && filter == nil {
		// Nothing to search on. Listing still browses the corpus; the other
		// intents continue without context.
		if intent != domain.IntentList {
			return []*domain.Email{}, nil
		}
	}

	emails, err := r.index.Search(ctx, q, filter, r.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search emails: %w", err)
	}
	if emails == nil {
		emails = []*domain.Email{}
	}
	return emails, nil
}

// bareParty returns the party holding an unverified name, preferring From.
func bareParty(c *domain.QueryCriteria) (Party, string, bool) {
	if c.From != "" && !domain.IsVerified(c.From) {
		return PartyFrom, c.From, true
	}
	if c.To != "" && !domain.IsVerified(c.To) {
		return PartyTo, c.To, true
	}
	return "", "", false
}

// withinDates drops emails whose parsed date falls outside the bounds.
// Undated emails are kept.
func withinDates(pool []*domain.Email, from, to *time.Time) []*domain.Email {
	if from == nil && to == nil {
		return pool
	}
	out := make([]*domain.Email, 0, len(pool))
	for _, e := range pool {
		if e == nil {
			continue
		}
		if t, ok := e.ParsedDate(); ok {
			if from != nil && t.Before(*from) {
				continue
			}
			if to != nil && t.After(*to) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
