package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mailchat_server/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	kind     StrategyKind
	criteria *domain.QueryCriteria
	err      error
	calls    atomic.Int32
}

func (f *fakeStrategy) Name() string       { return "fake-" + string(f.kind) }
func (f *fakeStrategy) Kind() StrategyKind { return f.kind }

func (f *fakeStrategy) Extract(_ context.Context, rawText string, _ domain.Intent, _ time.Time) (*domain.QueryCriteria, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	c := f.criteria.Clone()
	c.RawQuery = rawText
	return c, nil
}

func assisted(c *domain.QueryCriteria) *fakeStrategy {
	return &fakeStrategy{kind: KindAssisted, criteria: c}
}

func failingAssisted(err error) *fakeStrategy {
	return &fakeStrategy{kind: KindAssisted, err: NewExtractionFailure("completion", FailureCollaborator, err)}
}

func newTestExtractor(strategies ...ExtractionStrategy) *CriteriaExtractor {
	return NewCriteriaExtractor(0.7, strategies, WithClock(func() time.Time { return testNow }))
}

func TestMerge_Policy(t *testing.T) {
	baseline := &domain.QueryCriteria{Keywords: []string{"budget"}, From: "finance"}

	t.Run("confident completion used as-is", func(t *testing.T) {
		a := &domain.QueryCriteria{Keywords: []string{"q3"}, From: "cfo@corp.io", Confidence: 0.9}
		out, outcome := Merge(a, nil, baseline, 0.7)
		assert.Equal(t, OutcomeCompletion, outcome)
		assert.Equal(t, "cfo@corp.io", out.From)
		assert.Equal(t, []string{"q3"}, out.Keywords)
		assert.InDelta(t, 0.9, out.Confidence, 1e-9)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		_, outcome := Merge(&domain.QueryCriteria{Confidence: 0.7}, nil, baseline, 0.7)
		assert.Equal(t, OutcomeCompletion, outcome)
	})

	t.Run("low confidence blends field by field", func(t *testing.T) {
		a := &domain.QueryCriteria{Keywords: []string{"budget", "q3"}, From: "cfo@corp.io", Subject: "Plan", Confidence: 0.5}
		out, outcome := Merge(a, nil, baseline, 0.7)
		assert.Equal(t, OutcomeBlended, outcome)
		assert.Equal(t, "finance", out.From, "deterministic field wins")
		assert.Equal(t, "Plan", out.Subject, "completion fills the gap")
		assert.Equal(t, []string{"budget", "q3"}, out.Keywords)
		assert.InDelta(t, 0.5*0.7+0.3, out.Confidence, 1e-9)
	})

	t.Run("failed completion degrades to deterministic", func(t *testing.T) {
		out, outcome := Merge(nil, errors.New("boom"), baseline, 0.7)
		assert.Equal(t, OutcomeDeterministic, outcome)
		assert.Equal(t, "finance", out.From)
		assert.Zero(t, out.Confidence)
	})

	t.Run("out of range confidence is clamped", func(t *testing.T) {
		out, _ := Merge(&domain.QueryCriteria{Confidence: 3}, nil, baseline, 0.7)
		assert.Equal(t, 1.0, out.Confidence)
		out, _ = Merge(&domain.QueryCriteria{Confidence: -2}, nil, baseline, 0.7)
		assert.InDelta(t, 0.3, out.Confidence, 1e-9)
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		a := &domain.QueryCriteria{Keywords: []string{"q3"}, Confidence: 0.1}
		Merge(a, nil, baseline, 0.7)
		assert.Equal(t, []string{"budget"}, baseline.Keywords)
		assert.Equal(t, []string{"q3"}, a.Keywords)
	})
}

func TestCriteriaExtractor_ConfidenceAlwaysInRange(t *testing.T) {
	for _, c := range []float64{-1, 0, 0.2, 0.69, 0.7, 1, 5} {
		e := newTestExtractor(assisted(&domain.QueryCriteria{Confidence: c}), NewQueryAnalyzer())
		out := e.Extract(context.Background(), "invoices from last week", domain.IntentList)
		assert.GreaterOrEqual(t, out.Confidence, 0.0)
		assert.LessOrEqual(t, out.Confidence, 1.0)
	}
}

func TestCriteriaExtractor_DeterministicOnlyHasZeroConfidence(t *testing.T) {
	e := newTestExtractor(NewQueryAnalyzer())
	out := e.Extract(context.Background(), "reply to the email from Kai", domain.IntentReply)

	assert.Zero(t, out.Confidence)
	assert.Equal(t, "Kai", out.From)
	assert.Equal(t, "reply to the email from Kai", out.RawQuery)
	assert.NotNil(t, out.Keywords)
}

func TestCriteriaExtractor_CollaboratorFailureFallsBack(t *testing.T) {
	e := newTestExtractor(failingAssisted(context.DeadlineExceeded), NewQueryAnalyzer())
	out := e.Extract(context.Background(), "emails about the budget yesterday", domain.IntentList)

	assert.Zero(t, out.Confidence)
	assert.Equal(t, []string{"budget"}, out.Keywords)
	require.NotNil(t, out.DateFrom)
	assert.Equal(t, day(2025, 3, 11), *out.DateFrom)
}

func TestCriteriaExtractor_RefinerFillsOnlyEmptyFields(t *testing.T) {
	e := newTestExtractor(assisted(&domain.QueryCriteria{From: "kai@corp.io", Confidence: 0.95}), NewQueryAnalyzer())
	out := e.Extract(context.Background(), "reply to Kai", domain.IntentReply)
	assert.Equal(t, "kai@corp.io", out.From)
}

func TestCriteriaExtractor_UsesCache(t *testing.T) {
	cache := NewCriteriaCache(time.Minute)
	defer cache.Stop()

	s := assisted(&domain.QueryCriteria{Keywords: []string{"budget"}, Confidence: 0.9})
	e := NewCriteriaExtractor(0.7, []ExtractionStrategy{s},
		WithCriteriaCache(cache), WithClock(func() time.Time { return testNow }))

	first := e.Extract(context.Background(), "the budget", domain.IntentList)
	first.Keywords[0] = "mutated"
	second := e.Extract(context.Background(), "  The   BUDGET ", domain.IntentList)

	assert.Equal(t, int32(1), s.calls.Load())
	assert.Equal(t, []string{"budget"}, second.Keywords)
	assert.Equal(t, 1, cache.Size())
}

func TestExtractionFailure_ClassifiesTimeout(t *testing.T) {
	f := NewExtractionFailure("completion", FailureCollaborator, context.DeadlineExceeded)
	assert.Equal(t, FailureTimeout, f.Reason)
	assert.ErrorIs(t, f, context.DeadlineExceeded)
}
