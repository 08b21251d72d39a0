package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterpret(t *testing.T) {
	tests := []struct {
		name    string
		result  int64
		wantOK  bool
		wantDur time.Duration
	}{
		{"allowed", 1, true, 0},
		{"wait from oldest entry", -250, false, 250 * time.Millisecond},
		{"unknown wait uses window", 0, false, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, d := interpret(tt.result, time.Second)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDur, d)
		})
	}
}

func TestSlidingWindow_Limit(t *testing.T) {
	assert.Equal(t, 7, NewSlidingWindow(nil, 2, 5).Limit())
	assert.Equal(t, 1, NewSlidingWindow(nil, 0, 0).Limit())
}

func TestSlidingWindow_NoRedisAllows(t *testing.T) {
	l := NewSlidingWindow(nil, 1, 1)
	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(context.Background(), "session:a")
		assert.True(t, ok)
	}
}
