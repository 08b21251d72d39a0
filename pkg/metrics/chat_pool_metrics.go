package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DBPoolStats holds database connection pool statistics.
type DBPoolStats struct {
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	MaxOpenConnections int           `json:"max_open_connections"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetDBPoolStats retrieves pool statistics from a sql.DB instance.
func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}

	stats := db.Stats()
	return DBPoolStats{
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		MaxOpenConnections: stats.MaxOpenConnections,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolHealth represents the health assessment of a pool.
type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"`
	Message     string           `json:"message,omitempty"`
}

// AssessDBPoolHealth evaluates the health of a database pool.
func AssessDBPoolHealth(stats DBPoolStats) PoolHealth {
	if stats.MaxOpenConnections == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unlimited connections"}
	}

	utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)

	var status PoolHealthStatus
	var message string

	switch {
	case utilization >= 0.95:
		status = PoolUnhealthy
		message = "pool nearly exhausted"
	case utilization >= 0.80:
		status = PoolDegraded
		message = "high pool utilization"
	default:
		status = PoolHealthy
		message = "pool operating normally"
	}

	if stats.WaitCount > 0 && stats.WaitDuration > 5*time.Second {
		if status == PoolHealthy {
			status = PoolDegraded
		}
		message = "elevated connection wait times"
	}

	return PoolHealth{Status: status, Utilization: utilization, Message: message}
}

// Err reports an unhealthy pool as an error. A degraded pool still serves.
func (h PoolHealth) Err() error {
	if h.Status != PoolUnhealthy {
		return nil
	}
	return fmt.Errorf("%s (%.0f%% in use)", h.Message, h.Utilization*100)
}

// PoolCheck returns a readiness check that fails while db's pool is exhausted.
func PoolCheck(db *sql.DB) func(context.Context) error {
	return func(context.Context) error {
		return AssessDBPoolHealth(GetDBPoolStats(db)).Err()
	}
}

// RegisterDBPool exports pool gauges for db under the given pool label.
func RegisterDBPool(name string, db *sql.DB) {
	gauge := func(metric, help string, value func(DBPoolStats) float64) {
		c := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "mailchat",
			Subsystem:   "db_pool",
			Name:        metric,
			Help:        help,
			ConstLabels: prometheus.Labels{"pool": name},
		}, func() float64 { return value(GetDBPoolStats(db)) })

		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	gauge("open_connections", "Open connections.", func(s DBPoolStats) float64 { return float64(s.OpenConnections) })
	gauge("in_use", "Connections in use.", func(s DBPoolStats) float64 { return float64(s.InUse) })
	gauge("idle", "Idle connections.", func(s DBPoolStats) float64 { return float64(s.Idle) })
}
