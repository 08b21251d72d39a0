package search

import (
	"context"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/logger"
	"mailchat_server/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	blendWeight = 0.7
	blendFloor  = 0.3
)

// CriteriaExtractor runs the extraction strategies, merges their results and
// applies intent refinement. It never fails: collaborator problems degrade to
// the deterministic result.
type CriteriaExtractor struct {
	strategies []ExtractionStrategy
	refiner    *IntentRefiner
	cache      *CriteriaCache
	threshold  float64
	now        func() time.Time
}

type ExtractorOption func(*CriteriaExtractor)

// WithCriteriaCache enables result caching.
func WithCriteriaCache(c *CriteriaCache) ExtractorOption {
	return func(e *CriteriaExtractor) { e.cache = c }
}

// WithClock overrides the time source used for relative dates.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *CriteriaExtractor) { e.now = now }
}

// NewCriteriaExtractor builds an extractor over strategies in priority order.
// threshold is the completion confidence at or above which the completion
// result is used as-is.
func NewCriteriaExtractor(threshold float64, strategies []ExtractionStrategy, opts ...ExtractorOption) *CriteriaExtractor {
	e := &CriteriaExtractor{
		strategies: strategies,
		refiner:    NewIntentRefiner(),
		threshold:  threshold,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type strategyResult struct {
	strategy ExtractionStrategy
	criteria *domain.QueryCriteria
	err      error
}

// Extract turns raw text into criteria for the given intent.
func (e *CriteriaExtractor) Extract(ctx context.Context, rawText string, intent domain.Intent) *domain.QueryCriteria {
	now := e.now()
	log := logger.WithContext(ctx).WithField("intent", string(intent))

	var key string
	if e.cache != nil {
		key = e.cache.BuildKey(rawText, intent, now)
		if cached, ok := e.cache.Get(key); ok {
			metrics.ExtractionCacheHit()
			return cached
		}
	}

	// Strategies are independent; run them side by side.
	results := make([]strategyResult, len(e.strategies))
	var g errgroup.Group
	for i, s := range e.strategies {
		i, s := i, s
		g.Go(func() error {
			c, err := s.Extract(ctx, rawText, intent, now)
			results[i] = strategyResult{strategy: s, criteria: c, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		assisted    *domain.QueryCriteria
		assistedErr error
		baseline    *domain.QueryCriteria
		sawAssisted bool
	)
	for _, r := range results {
		switch r.strategy.Kind() {
		case KindAssisted:
			if sawAssisted {
				continue
			}
			sawAssisted = true
			assisted, assistedErr = r.criteria, r.err
			if r.err != nil {
				log.WithError(r.err).Warn("%s extraction failed, falling back", r.strategy.Name())
			}
		case KindDeterministic:
			if r.err != nil {
				log.WithError(r.err).Warn("%s extraction failed", r.strategy.Name())
				continue
			}
			baseline = fillGaps(baseline, r.criteria)
		}
	}
	if !sawAssisted {
		assistedErr = NewExtractionFailure("assisted", FailureCollaborator, errNoAssistedStrategy)
	}

	criteria, outcome := Merge(assisted, assistedErr, baseline, e.threshold)
	criteria.RawQuery = rawText
	e.refiner.Refine(criteria, intent, now)
	criteria.ClampConfidence()
	if criteria.Keywords == nil {
		criteria.Keywords = []string{}
	}

	metrics.ExtractionOutcome(outcome)
	log.WithFields(map[string]any{
		"outcome":    outcome,
		"from":       criteria.From,
		"to":         criteria.To,
		"keywords":   criteria.Keywords,
		"confidence": criteria.Confidence,
	}).Debug("criteria extracted")

	if e.cache != nil {
		e.cache.Set(key, criteria)
	}
	return criteria
}

// Merge applies the merge policy:
//   - assisted failed: deterministic result, confidence 0
//   - assisted confidence >= threshold: assisted result as-is
//   - otherwise: deterministic fields win, assisted fills gaps, keywords are
//     unioned and confidence becomes assisted*0.7 + 0.3
func Merge(assisted *domain.QueryCriteria, assistedErr error, baseline *domain.QueryCriteria, threshold float64) (*domain.QueryCriteria, string) {
	if baseline == nil {
		baseline = &domain.QueryCriteria{Keywords: []string{}}
	}

	if assistedErr != nil || assisted == nil {
		out := baseline.Clone()
		out.Confidence = 0
		return out, OutcomeDeterministic
	}

	a := assisted.Clone()
	a.ClampConfidence()
	if a.Confidence >= threshold {
		return a, OutcomeCompletion
	}

	out := fillGaps(baseline.Clone(), a)
	out.Confidence = a.Confidence*blendWeight + blendFloor
	out.ClampConfidence()
	return out, OutcomeBlended
}

// fillGaps copies fields from src that dst leaves empty and unions keywords.
func fillGaps(dst, src *domain.QueryCriteria) *domain.QueryCriteria {
	if src == nil {
		return dst
	}
	if dst == nil {
		return src.Clone()
	}
	if dst.From == "" {
		dst.From = src.From
	}
	if dst.To == "" {
		dst.To = src.To
	}
	if dst.Subject == "" {
		dst.Subject = src.Subject
	}
	if dst.DateFrom == nil && src.DateFrom != nil {
		t := *src.DateFrom
		dst.DateFrom = &t
	}
	if dst.DateTo == nil && src.DateTo != nil {
		t := *src.DateTo
		dst.DateTo = &t
	}
	if dst.HasAttachment == nil && src.HasAttachment != nil {
		b := *src.HasAttachment
		dst.HasAttachment = &b
	}
	dst.AddKeywords(src.Keywords...)
	return dst
}
