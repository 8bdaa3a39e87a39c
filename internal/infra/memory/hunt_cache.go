package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"cryptic-hunt-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// HuntLoader fetches the active hunt of a guild from the backing store.
type HuntLoader interface {
	LoadHunt(ctx context.Context, guildID string) (domain.Hunt, error)
}

// HuntCache caches active hunts with TTL to avoid repeated DB hits.
// Misses (no active hunt) are not cached. Every Invalidate bumps the guild's
// generation; a load that started under an older generation is returned to
// its callers but never stored.
type HuntCache struct {
	loader HuntLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedHunt
	gen   map[string]uint64
}

type cachedHunt struct {
	hunt      domain.Hunt
	expiresAt time.Time
}

func NewHuntCache(loader HuntLoader, ttl time.Duration) *HuntCache {
	return &HuntCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedHunt),
		gen:    make(map[string]uint64),
	}
}

func (c *HuntCache) GetHunt(ctx context.Context, guildID string) (domain.Hunt, error) {
	if hunt, ok := c.lookup(guildID); ok {
		return hunt, nil
	}

	result, err, _ := c.sf.Do(guildID, func() (interface{}, error) {
		if hunt, ok := c.lookup(guildID); ok {
			return hunt, nil
		}
		c.mu.RLock()
		started := c.gen[guildID]
		c.mu.RUnlock()

		hunt, err := c.loader.LoadHunt(ctx, guildID)
		if err != nil {
			return domain.Hunt{}, err
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			c.mu.Lock()
			if c.gen[guildID] == started {
				c.cache[guildID] = cachedHunt{hunt: hunt, expiresAt: c.clock().Add(ttl)}
			}
			c.mu.Unlock()
		}
		return hunt, nil
	})
	if err != nil {
		return domain.Hunt{}, err
	}
	return result.(domain.Hunt), nil
}

// Invalidate drops the cached hunt of a guild.
func (c *HuntCache) Invalidate(_ context.Context, guildID string) {
	c.mu.Lock()
	delete(c.cache, guildID)
	c.gen[guildID]++
	c.mu.Unlock()
	c.sf.Forget(guildID)
}

func (c *HuntCache) lookup(guildID string) (domain.Hunt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[guildID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Hunt{}, false
	}
	return entry.hunt, true
}

func (c *HuntCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticHuntLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticHuntLoader struct {
	mu    sync.RWMutex
	hunts map[string]domain.Hunt
}

func NewStaticHuntLoader(hunts map[string]domain.Hunt) *StaticHuntLoader {
	if hunts == nil {
		hunts = make(map[string]domain.Hunt)
	}
	return &StaticHuntLoader{hunts: hunts}
}

func (l *StaticHuntLoader) LoadHunt(_ context.Context, guildID string) (domain.Hunt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if hunt, ok := l.hunts[guildID]; ok {
		return hunt, nil
	}
	return domain.Hunt{}, domain.ErrNoActiveHunt
}

// Put stores or replaces a guild's hunt.
func (l *StaticHuntLoader) Put(hunt domain.Hunt) {
	l.mu.Lock()
	l.hunts[hunt.GuildID] = hunt
	l.mu.Unlock()
}
