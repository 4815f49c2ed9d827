package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ryuu1kyou/anomaly-analytics/internal/metrics"
	"github.com/ryuu1kyou/anomaly-analytics/internal/models"
)

// LogicCache is a Store that keeps recently read detection logics in an LRU. Upserts through
// the cache refresh the entry; writes made to the inner store directly are not observed.
type LogicCache struct {
	Store
	logics *lru.Cache[string, models.DetectionLogic]
}

// NewLogicCache wraps inner with an LRU of the given size.
func NewLogicCache(inner Store, size int) (*LogicCache, error) {
	logics, err := lru.New[string, models.DetectionLogic](size)
	if err != nil {
		return nil, fmt.Errorf("create logic cache: %w", err)
	}
	return &LogicCache{Store: inner, logics: logics}, nil
}

// GetDetectionLogic serves from the cache, falling back to the inner store. Misses are not
// cached, so a logic created later is found.
func (c *LogicCache) GetDetectionLogic(ctx context.Context, id string) (*models.DetectionLogic, error) {
	if logic, ok := c.logics.Get(id); ok {
		metrics.LogicCacheTotal.WithLabelValues("hit").Inc()
		return cloneLogic(logic), nil
	}
	metrics.LogicCacheTotal.WithLabelValues("miss").Inc()

	logic, err := c.Store.GetDetectionLogic(ctx, id)
	if err != nil {
		return nil, err
	}
	c.logics.Add(id, *cloneLogic(*logic))
	return logic, nil
}

// UpsertDetectionLogic writes through and drops the stale entry.
func (c *LogicCache) UpsertDetectionLogic(ctx context.Context, logic *models.DetectionLogic) error {
	if err := c.Store.UpsertDetectionLogic(ctx, logic); err != nil {
		return err
	}
	c.logics.Remove(logic.ID)
	return nil
}

// Len returns the number of cached logics.
func (c *LogicCache) Len() int {
	return c.logics.Len()
}

func cloneLogic(l models.DetectionLogic) *models.DetectionLogic {
	out := l
	out.Parameters = append([]models.LogicParameter(nil), l.Parameters...)
	return &out
}
