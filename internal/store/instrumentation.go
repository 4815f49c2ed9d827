package store

import (
	"time"

	"github.com/ryuu1kyou/anomaly-analytics/internal/metrics"
)

// instrumentQuery wraps a database call with timing metrics.
func instrumentQuery(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StoreQueryDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}
