// Package search turns free-text mail requests into criteria and resolves
// them to concrete emails.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailchat_server/core/domain"
)

// StrategyKind tells the merge policy how to treat a strategy's result.
type StrategyKind string

const (
	// KindAssisted strategies delegate to the completion collaborator.
	KindAssisted StrategyKind = "assisted"
	// KindDeterministic strategies are rule based and never fail on input.
	KindDeterministic StrategyKind = "deterministic"
)

// ExtractionStrategy is one way of turning raw text into criteria.
type ExtractionStrategy interface {
	Name() string
	Kind() StrategyKind
	// Extract returns criteria or an *ExtractionFailure.
	Extract(ctx context.Context, rawText string, intent domain.Intent, now time.Time) (*domain.QueryCriteria, error)
}

// FailureReason classifies why a strategy produced nothing.
type FailureReason string

const (
	FailureCollaborator FailureReason = "collaborator"
	FailureTimeout      FailureReason = "timeout"
	FailureParse        FailureReason = "parse"
)

// ExtractionFailure is the typed failure returned by strategies.
type ExtractionFailure struct {
	Strategy string
	Reason   FailureReason
	Err      error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction %s failed (%s): %v", e.Strategy, e.Reason, e.Err)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}

// NewExtractionFailure classifies err, treating deadline errors as timeouts.
func NewExtractionFailure(strategy string, reason FailureReason, err error) *ExtractionFailure {
	if errors.Is(err, context.DeadlineExceeded) {
		reason = FailureTimeout
	}
	return &ExtractionFailure{Strategy: strategy, Reason: reason, Err: err}
}

// Outcome labels for how the final criteria were produced.
const (
	OutcomeCompletion    = "completion"
	OutcomeBlended       = "blended"
	OutcomeDeterministic = "deterministic"
)

// Party selects the header a bare name refers to.
type Party string

const (
	PartyFrom Party = "from"
	PartyTo   Party = "to"
)

// header returns the raw header value of e for the party.
func (p Party) header(e *domain.Email) string {
	if p == PartyTo {
		return e.To
	}
	return e.From
}

var errNoAssistedStrategy = errors.New("no assisted strategy configured")
