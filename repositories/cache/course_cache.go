// Package cache provides in-memory read-through caches in front of repositories.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// CourseExecutionCache caches course execution lookups by acronym.
// Course executions are never written by the login flow, so serving them
// outside the caller's transaction is safe. Misses are not cached.
type CourseExecutionCache struct {
	next   repositories.CourseExecutionRepository
	cache  *lru.LRU[string, models.CourseExecution]
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	ItemCount int   `json:"item_count"`
}

// NewCourseExecutionCache wraps next with an expirable LRU of the given size and TTL
func NewCourseExecutionCache(next repositories.CourseExecutionRepository, size int, ttl time.Duration, logger *zap.Logger) *CourseExecutionCache {
	if size < 1 {
		size = 1
	}

	return &CourseExecutionCache{
		next:   next,
		cache:  lru.NewLRU[string, models.CourseExecution](size, nil, ttl),
		logger: logger,
	}
}

// GetByAcronym returns the cached execution or loads it from the wrapped repository
func (c *CourseExecutionCache) GetByAcronym(ctx context.Context, acronym string) (*models.CourseExecution, error) {
	if course, ok := c.cache.Get(acronym); ok {
		c.hits.Add(1)
		return &course, nil
	}
	c.misses.Add(1)

	course, err := c.next.GetByAcronym(ctx, acronym)
	if err != nil {
		return nil, err
	}

	c.cache.Add(acronym, *course)
	c.logger.Debug("course execution cached", zap.String("acronym", acronym))
	return course, nil
}

// GetByUserID is not cached; links change on every login
func (c *CourseExecutionCache) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CourseExecution, error) {
	return c.next.GetByUserID(ctx, userID)
}

// Stats returns hit and miss counters
func (c *CourseExecutionCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: c.cache.Len(),
	}
}

var _ repositories.CourseExecutionRepository = (*CourseExecutionCache)(nil)
