package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	expiresAt time.Time
	val       interface{}
	err       error
}

// Cache wraps a Gateway with a TTL cache. Concurrent misses for the same
// key share one upstream call. Not-found answers are cached briefly and
// other failures barely at all.
type Cache struct {
	next        Gateway
	ttl         time.Duration
	notFoundTTL time.Duration
	errTTL      time.Duration
	now         func() time.Time

	entries sync.Map // map[string]*cacheEntry
	group   singleflight.Group
}

var _ Gateway = (*Cache)(nil)

func NewCache(next Gateway, ttl time.Duration) *Cache {
	return &Cache{
		next:        next,
		ttl:         ttl,
		notFoundTTL: 5 * time.Second,
		errTTL:      1 * time.Second,
		now:         time.Now,
	}
}

func (c *Cache) Type() string { return c.next.Type() }

// Unwrap returns the cached gateway.
func (c *Cache) Unwrap() Gateway { return c.next }

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Range(func(k, _ interface{}) bool {
		c.entries.Delete(k)
		return true
	})
}

func (c *Cache) get(ctx context.Context, key string, fetch func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cachedAny, ok := c.entries.Load(key); ok {
		cached := cachedAny.(*cacheEntry)
		if c.now().Before(cached.expiresAt) {
			return cached.val, cached.err
		}
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		return fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		var ttl time.Duration
		switch {
		case res.Err == nil:
			ttl = c.ttl
		case errors.Is(res.Err, ErrIPNotFound), errors.Is(res.Err, ErrCampaignNotFound):
			ttl = c.notFoundTTL
		default:
			ttl = c.errTTL
		}
		if ttl > 0 {
			c.entries.Store(key, &cacheEntry{expiresAt: c.now().Add(ttl), val: res.Val, err: res.Err})
		}
		return res.Val, res.Err
	}
}

func (c *Cache) GetIPList(ctx context.Context, page, pageSize int) ([]IP, error) {
	v, err := c.get(ctx, fmt.Sprintf("list|%d|%d", page, pageSize), func(ctx context.Context) (interface{}, error) {
		return c.next.GetIPList(ctx, page, pageSize)
	})
	if err != nil {
		return nil, err
	}
	cached := v.([]IP)
	out := make([]IP, len(cached))
	for i, ip := range cached {
		out[i] = ip.Clone()
	}
	return out, nil
}

func (c *Cache) GetIPDetails(ctx context.Context, tokenID uint64) (*IP, error) {
	v, err := c.get(ctx, fmt.Sprintf("ip|%d", tokenID), func(ctx context.Context) (interface{}, error) {
		return c.next.GetIPDetails(ctx, tokenID)
	})
	if err != nil {
		return nil, err
	}
	cp := v.(*IP).Clone()
	return &cp, nil
}

func (c *Cache) GetCampaignDetails(ctx context.Context, tokenID uint64, licenseAddress string) (*Campaign, error) {
	key := fmt.Sprintf("campaign|%d|%s", tokenID, strings.ToLower(licenseAddress))
	v, err := c.get(ctx, key, func(ctx context.Context) (interface{}, error) {
		return c.next.GetCampaignDetails(ctx, tokenID, licenseAddress)
	})
	if err != nil {
		return nil, err
	}
	cp := v.(*Campaign).Clone()
	return &cp, nil
}
