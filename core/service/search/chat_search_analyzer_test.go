package search

import (
	"context"
	"testing"
	"time"

	"mailchat_server/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday
var testNow = time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayEnd(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func TestQueryAnalyzer_Dates(t *testing.T) {
	tests := []struct {
		text     string
		wantFrom *time.Time
		wantTo   *time.Time
	}{
		{"emails from today", timePtr(day(2025, 3, 12)), nil},
		{"what did I get yesterday", timePtr(day(2025, 3, 11)), timePtr(dayEnd(2025, 3, 11))},
		{"invoices this week", timePtr(day(2025, 3, 10)), nil},
		{"meetings last week", timePtr(day(2025, 3, 3)), timePtr(dayEnd(2025, 3, 9))},
		{"reports this month", timePtr(day(2025, 3, 1)), nil},
		{"anything in the last 3 days", timePtr(day(2025, 3, 9)), nil},
		{"the email on 2025-02-14", timePtr(day(2025, 2, 14)), timePtr(dayEnd(2025, 2, 14))},
		{"date: 2025-01-05 receipts", timePtr(day(2025, 1, 5)), timePtr(dayEnd(2025, 1, 5))},
		{"after:2025-01-01 before:2025-01-31", timePtr(day(2025, 1, 1)), timePtr(dayEnd(2025, 1, 31))},
		{"invoices after 2025-02-01", timePtr(day(2025, 2, 1)), nil},
		{"receipts before 2025-02-28", nil, timePtr(dayEnd(2025, 2, 28))},
		{"date 2025-01-05 receipts", timePtr(day(2025, 1, 5)), timePtr(dayEnd(2025, 1, 5))},
		{"meetings last week after:2025-03-05", timePtr(day(2025, 3, 5)), timePtr(dayEnd(2025, 3, 9))},
		{"reports this month before:2025-03-07", timePtr(day(2025, 3, 1)), timePtr(dayEnd(2025, 3, 7))},
		{"last 30 days before 2025-03-01", timePtr(day(2025, 2, 10)), timePtr(dayEnd(2025, 3, 1))},
		{"no dates here", nil, nil},
	}

	a := NewQueryAnalyzer()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, err := a.Extract(context.Background(), tt.text, domain.IntentGeneral, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, c.DateFrom)
			assert.Equal(t, tt.wantTo, c.DateTo)
			assert.Zero(t, c.Confidence)
		})
	}
}

func TestQueryAnalyzer_LastWeekOnSunday(t *testing.T) {
	sunday := time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC)
	c, err := NewQueryAnalyzer().Extract(context.Background(), "last week", domain.IntentList, sunday)
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 3), *c.DateFrom)
	assert.Equal(t, dayEnd(2025, 3, 9), *c.DateTo)
}

func TestQueryAnalyzer_Keywords(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"Show me emails about the quarterly budget review from finance", []string{"quarterly", "budget", "review", "finance"}},
		{"Kai's invoice?", []string{"kai", "invoice"}},
		{"budget, BUDGET and (budget)", []string{"budget", "and"}},
		{"ok go to it", []string{}},
	}

	a := NewQueryAnalyzer()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, a.ExtractKeywords(tt.text))
		})
	}
}

func TestQueryAnalyzer_Operators(t *testing.T) {
	c, err := NewQueryAnalyzer().Extract(context.Background(),
		`from:alice@example.com subject:"Q3 plan" numbers`, domain.IntentGeneral, testNow)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", c.From)
	assert.Equal(t, "Q3 plan", c.Subject)
	assert.Equal(t, []string{"numbers"}, c.Keywords)
}
