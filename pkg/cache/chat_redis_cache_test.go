package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_Key(t *testing.T) {
	assert.Equal(t, "session:abc", NewRedisCache(nil, "session").Key("abc"))
	assert.Equal(t, "abc", NewRedisCache(nil, "").Key("abc"))
}

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.Error(t, s.StoreState(ctx, "", time.Minute))
	require.NoError(t, s.StoreState(ctx, "abc", time.Minute))

	ok, err := s.ConsumeState(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.ConsumeState(ctx, "abc")
	assert.False(t, ok, "state is single use")

	require.NoError(t, s.StoreState(ctx, "late", time.Minute))
	now = now.Add(2 * time.Minute)
	ok, _ = s.ConsumeState(ctx, "late")
	assert.False(t, ok, "expired state is rejected")

	ok, _ = s.ConsumeState(ctx, "never-issued")
	assert.False(t, ok)
}
