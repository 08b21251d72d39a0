package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPostgresConfig(t *testing.T) {
	tests := []struct {
		name     string
		maxConns int
		wantMax  int32
		wantMin  int32
	}{
		{"default", 0, 25, 5},
		{"custom", 40, 40, 5},
		{"tiny pool", 2, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPostgresConfig(tt.maxConns)
			assert.Equal(t, tt.wantMax, cfg.MaxConns)
			assert.Equal(t, tt.wantMin, cfg.MinConns)
			assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
		})
	}
}

func TestDefaultRedisConfig_ReadTimeoutExceedsStreamBlock(t *testing.T) {
	assert.Greater(t, DefaultRedisConfig().ReadTimeout, 5*time.Second)
}
