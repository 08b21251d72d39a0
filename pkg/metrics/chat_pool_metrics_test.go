package metrics

import (
	"context"
	"testing"
	"time"
)

func TestAssessDBPoolHealth(t *testing.T) {
	tests := []struct {
		name  string
		stats DBPoolStats
		want  PoolHealthStatus
	}{
		{"unlimited", DBPoolStats{}, PoolHealthy},
		{"normal", DBPoolStats{InUse: 5, MaxOpenConnections: 25}, PoolHealthy},
		{"high", DBPoolStats{InUse: 21, MaxOpenConnections: 25}, PoolDegraded},
		{"exhausted", DBPoolStats{InUse: 25, MaxOpenConnections: 25}, PoolUnhealthy},
		{"waiting", DBPoolStats{InUse: 1, MaxOpenConnections: 25, WaitCount: 3, WaitDuration: 6 * time.Second}, PoolDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessDBPoolHealth(tt.stats).Status; got != tt.want {
				t.Errorf("AssessDBPoolHealth() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoolHealth_Err(t *testing.T) {
	tests := []struct {
		name    string
		stats   DBPoolStats
		wantErr bool
	}{
		{"normal", DBPoolStats{InUse: 5, MaxOpenConnections: 25}, false},
		{"degraded still ready", DBPoolStats{InUse: 21, MaxOpenConnections: 25}, false},
		{"exhausted", DBPoolStats{InUse: 25, MaxOpenConnections: 25}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssessDBPoolHealth(tt.stats).Err()
			if (err != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPoolCheck_NilDB(t *testing.T) {
	if err := PoolCheck(nil)(context.Background()); err != nil {
		t.Errorf("PoolCheck(nil) = %v, want nil", err)
	}
}
