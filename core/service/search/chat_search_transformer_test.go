package search

import (
	"testing"
	"time"

	"mailchat_server/core/domain"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestBuildQuery(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 7, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name       string
		criteria   *domain.QueryCriteria
		wantQuery  *string
		wantFilter *string
	}{
		{
			name:       "verified sender becomes filter",
			criteria:   &domain.QueryCriteria{From: "x@y.com"},
			wantQuery:  nil,
			wantFilter: strPtr(`from = "x@y.com"`),
		},
		{
			name:       "bare sender becomes scoped term",
			criteria:   &domain.QueryCriteria{From: "alice"},
			wantQuery:  strPtr(`from:"alice"`),
			wantFilter: nil,
		},
		{
			name:       "bare recipient is symmetric",
			criteria:   &domain.QueryCriteria{To: "Bob"},
			wantQuery:  strPtr(`to:"Bob"`),
			wantFilter: nil,
		},
		{
			name:       "keywords joined before scoped terms",
			criteria:   &domain.QueryCriteria{Keywords: []string{"budget", "review"}, From: "kai"},
			wantQuery:  strPtr(`budget review from:"kai"`),
			wantFilter: nil,
		},
		{
			name: "filters joined with AND in fixed order",
			criteria: &domain.QueryCriteria{
				To:       "team@corp.io",
				Subject:  "Q3 plan",
				DateFrom: &from,
				DateTo:   &to,
			},
			wantQuery:  nil,
			wantFilter: strPtr(`to = "team@corp.io" AND subject = "Q3 plan" AND date >= "2025-03-01T00:00:00Z" AND date <= "2025-03-07T23:59:59Z"`),
		},
		{
			name:       "empty criteria",
			criteria:   &domain.QueryCriteria{RawQuery: "hello"},
			wantQuery:  nil,
			wantFilter: nil,
		},
		{
			name:       "quotes are escaped",
			criteria:   &domain.QueryCriteria{Subject: `the "big" one`},
			wantFilter: strPtr(`subject = "the \"big\" one"`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, f := BuildQuery(tt.criteria)
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.wantFilter, f)
		})
	}
}
