package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/pkg/timewindow"
)

type cacheKey struct {
	caregiverID uuid.UUID
	date        timewindow.Date
}

// CachedRepository serves reads from an in-process LRU with a TTL. Writes
// made outside a transaction refresh the entry. Writes inside one evict it
// at once and again after commit, because a reader outside the transaction
// can cache the old row in between. A Conflict from the store evicts too,
// so the caller's retry reads fresh state.
type CachedRepository struct {
	next  Repository
	cache *expirable.LRU[cacheKey, *Day]
}

func NewCachedRepository(next Repository, size int, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		next:  next,
		cache: expirable.NewLRU[cacheKey, *Day](size, nil, ttl),
	}
}

func (c *CachedRepository) Get(ctx context.Context, caregiverID uuid.UUID, date timewindow.Date) (*Day, error) {
	key := cacheKey{caregiverID: caregiverID, date: date}
	if db.TxFromContext(ctx) == nil {
		if d, ok := c.cache.Get(key); ok {
			return d.clone(), nil
		}
	}
	d, err := c.next.Get(ctx, caregiverID, date)
	if err != nil {
		return nil, err
	}
	if db.TxFromContext(ctx) == nil {
		c.cache.Add(key, d.clone())
	}
	return d, nil
}

func (c *CachedRepository) Insert(ctx context.Context, d *Day) error {
	return c.write(ctx, d, c.next.Insert(ctx, d))
}

func (c *CachedRepository) Update(ctx context.Context, d *Day) error {
	return c.write(ctx, d, c.next.Update(ctx, d))
}

func (c *CachedRepository) write(ctx context.Context, d *Day, err error) error {
	key := cacheKey{caregiverID: d.CaregiverID, date: d.Date}
	if err != nil {
		c.cache.Remove(key)
		return err
	}
	if db.TxFromContext(ctx) != nil {
		c.cache.Remove(key)
		db.AfterCommit(ctx, func() { c.cache.Remove(key) })
		return nil
	}
	c.cache.Add(key, d.clone())
	return nil
}

// Len reports the number of cached days.
func (c *CachedRepository) Len() int { return c.cache.Len() }

var _ Repository = (*CachedRepository)(nil)
