package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"cryptic-hunt-service/internal/domain"
	"cryptic-hunt-service/internal/logging"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// HuntLoader fetches the active hunt of a guild from the backing store.
type HuntLoader interface {
	LoadHunt(ctx context.Context, guildID string) (domain.Hunt, error)
}

// HuntCache caches active hunts in Redis and falls back to a loader on cache miss.
// Hunts are stored as JSON: SET hunt:{guildID} {hunt} EX ttl
// hunt:{guildID}:gen counts invalidations; a fill is written only while the
// generation it started under is still current.
type HuntCache struct {
	client *redis.Client
	loader HuntLoader
	ttl    time.Duration
	log    *slog.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewHuntCache(client *redis.Client, loader HuntLoader, ttl time.Duration, logger *slog.Logger) *HuntCache {
	return &HuntCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    logging.OrDefault(logger),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *HuntCache) GetHunt(ctx context.Context, guildID string) (domain.Hunt, error) {
	if hunt, ok := c.lookup(ctx, guildID); ok {
		return hunt, nil
	}

	result, err, _ := c.sf.Do(guildID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if hunt, ok := c.lookup(ctx, guildID); ok {
			return hunt, nil
		}
		started, genErr := generation(ctx, c.client, c.genKey(guildID))
		hunt, err := c.loader.LoadHunt(ctx, guildID)
		if err != nil {
			return domain.Hunt{}, err
		}
		if genErr != nil {
			c.log.Warn("read hunt generation failed", slog.String("guild_id", guildID), slog.Any("error", genErr))
			return hunt, nil
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			if err := c.store(ctx, guildID, hunt, ttl, started); err != nil {
				c.log.Warn("cache hunt failed", slog.String("guild_id", guildID), slog.Any("error", err))
			}
		}
		return hunt, nil
	})
	if err != nil {
		return domain.Hunt{}, err
	}
	return result.(domain.Hunt), nil
}

// store writes hunt unless the guild was invalidated after started was read.
func (c *HuntCache) store(ctx context.Context, guildID string, hunt domain.Hunt, ttl time.Duration, started int64) error {
	data, err := json.Marshal(hunt)
	if err != nil {
		return err
	}
	genKey := c.genKey(guildID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != started {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(guildID), data, ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		// invalidated while writing
		return nil
	}
	return err
}

func generation(ctx context.Context, client redis.Cmdable, key string) (int64, error) {
	n, err := client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Invalidate drops the cached hunt so every instance reloads it, and bumps
// the generation so fills already in flight are discarded.
func (c *HuntCache) Invalidate(ctx context.Context, guildID string) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(guildID))
		pipe.Del(ctx, c.key(guildID))
		return nil
	})
	if err != nil {
		c.log.Warn("invalidate hunt failed", slog.String("guild_id", guildID), slog.Any("error", err))
	}
	c.sf.Forget(guildID)
}

func (c *HuntCache) lookup(ctx context.Context, guildID string) (domain.Hunt, bool) {
	data, err := c.client.Get(ctx, c.key(guildID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("read cached hunt failed", slog.String("guild_id", guildID), slog.Any("error", err))
		}
		return domain.Hunt{}, false
	}
	var hunt domain.Hunt
	if err := json.Unmarshal(data, &hunt); err != nil {
		c.log.Warn("malformed cached hunt", slog.String("guild_id", guildID), slog.Any("error", err))
		return domain.Hunt{}, false
	}
	return hunt, true
}

func (c *HuntCache) key(guildID string) string {
	return "hunt:" + guildID
}

func (c *HuntCache) genKey(guildID string) string {
	return "hunt:" + guildID + ":gen"
}

func (c *HuntCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
