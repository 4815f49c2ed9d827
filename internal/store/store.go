// Package store defines the read-only detection store the analytics engines consume, plus
// the SQL and in-memory implementations the service and CLI wire in.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// ErrNotFound is returned when a detection logic does not exist.
var ErrNotFound = errors.New("not found")

// Query filters detection results. Empty fields do not filter; From and To are inclusive.
type Query struct {
	SignalID         string
	DetectionLogicID string
	// ExcludeSignalID drops results of one signal, used for cross-signal correlation.
	ExcludeSignalID string
	From            time.Time
	To              time.Time
}

// Matches reports whether d satisfies the query.
func (q Query) Matches(d models.DetectionResult) bool {
	if q.SignalID != "" && d.SignalID != q.SignalID {
		return false
	}
	if q.DetectionLogicID != "" && d.DetectionLogicID != q.DetectionLogicID {
		return false
	}
	if q.ExcludeSignalID != "" && d.SignalID == q.ExcludeSignalID {
		return false
	}
	if !q.From.IsZero() && d.DetectedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && d.DetectedAt.After(q.To) {
		return false
	}
	return true
}

// DetectionResultReader reads detection results. Results are ordered by detection time, then id.
type DetectionResultReader interface {
	QueryDetectionResults(ctx context.Context, q Query) ([]models.DetectionResult, error)
}

// DetectionLogicReader looks up detection logic definitions.
type DetectionLogicReader interface {
	// GetDetectionLogic returns ErrNotFound (wrapped) for an unknown id.
	GetDetectionLogic(ctx context.Context, id string) (*models.DetectionLogic, error)
}

// Reader is everything the analytics engines need.
type Reader interface {
	DetectionResultReader
	DetectionLogicReader
}

// Writer loads data into a store. The analytics engines never write.
type Writer interface {
	// ImportDetectionResults stores results, assigning ids to those without one. Results whose
	// id already exists are skipped. Returns the number of results inserted.
	ImportDetectionResults(ctx context.Context, results []models.DetectionResult) (int, error)
	UpsertDetectionLogic(ctx context.Context, logic *models.DetectionLogic) error
}

// Store is a readable, writable, closable detection store.
type Store interface {
	Reader
	Writer
	Ping(ctx context.Context) error
	Close() error
}
