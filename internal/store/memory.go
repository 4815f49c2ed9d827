package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// MemoryStore is an in-process Store for tests and offline CLI runs.
type MemoryStore struct {
	mu      sync.RWMutex
	results []models.DetectionResult
	ids     map[string]struct{}
	logics  map[string]models.DetectionLogic
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:    make(map[string]struct{}),
		logics: make(map[string]models.DetectionLogic),
	}
}

// QueryDetectionResults returns copies of the matching results in canonical order.
func (s *MemoryStore) QueryDetectionResults(ctx context.Context, q Query) ([]models.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DetectionResult, 0)
	for _, d := range s.results {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetDetectionLogic returns a copy of the stored logic.
func (s *MemoryStore) GetDetectionLogic(ctx context.Context, id string) (*models.DetectionLogic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	logic, ok := s.logics[id]
	if !ok {
		return nil, fmt.Errorf("detection logic %s: %w", id, ErrNotFound)
	}
	logic.Parameters = append([]models.LogicParameter{}, logic.Parameters...)
	return &logic, nil
}

// ImportDetectionResults appends new results and keeps the canonical order.
func (s *MemoryStore) ImportDetectionResults(ctx context.Context, results []models.DetectionResult) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, d := range results {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if _, exists := s.ids[d.ID]; exists {
			continue
		}
		s.ids[d.ID] = struct{}{}
		s.results = append(s.results, d)
		inserted++
	}
	sort.SliceStable(s.results, func(i, j int) bool {
		a, b := s.results[i], s.results[j]
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.Before(b.DetectedAt)
		}
		return a.ID < b.ID
	})
	return inserted, nil
}

// UpsertDetectionLogic stores a copy of logic.
func (s *MemoryStore) UpsertDetectionLogic(ctx context.Context, logic *models.DetectionLogic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if logic == nil || logic.ID == "" {
		return fmt.Errorf("detection logic id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *logic
	cp.Parameters = append([]models.LogicParameter{}, logic.Parameters...)
	s.logics[logic.ID] = cp
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
