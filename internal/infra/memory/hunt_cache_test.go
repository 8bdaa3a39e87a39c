package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cryptic-hunt-service/internal/domain"
)

func TestHuntCacheCaches(t *testing.T) {
	loader := &countingLoader{HuntLoader: NewStaticHuntLoader(map[string]domain.Hunt{"g1": sampleHunt()})}
	cache := NewHuntCache(loader, time.Minute)

	if _, err := cache.GetHunt(context.Background(), "g1"); err != nil {
		t.Fatalf("get hunt: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}
	if _, err := cache.GetHunt(context.Background(), "g1"); err != nil {
		t.Fatalf("get hunt 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}

	cache.Invalidate(context.Background(), "g1")
	if _, err := cache.GetHunt(context.Background(), "g1"); err != nil {
		t.Fatalf("get hunt 3: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls.Load())
	}
}

func TestHuntCacheExpires(t *testing.T) {
	loader := &countingLoader{HuntLoader: NewStaticHuntLoader(map[string]domain.Hunt{"g1": sampleHunt()})}
	cache := NewHuntCache(loader, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	_, _ = cache.GetHunt(context.Background(), "g1")
	now = now.Add(2 * time.Minute)
	_, _ = cache.GetHunt(context.Background(), "g1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls.Load())
	}
}

func TestHuntCacheDoesNotCacheMisses(t *testing.T) {
	static := NewStaticHuntLoader(nil)
	cache := NewHuntCache(static, time.Minute)

	if _, err := cache.GetHunt(context.Background(), "g1"); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("expected ErrNoActiveHunt, got %v", err)
	}
	hunt := sampleHunt()
	static.Put(hunt)
	got, err := cache.GetHunt(context.Background(), "g1")
	if err != nil || got.Definition.Name != hunt.Definition.Name {
		t.Fatalf("expected hunt after put, got %+v %v", got, err)
	}
}

func TestHuntCacheConcurrentLoadsOnce(t *testing.T) {
	loader := &countingLoader{
		HuntLoader: NewStaticHuntLoader(map[string]domain.Hunt{"g1": sampleHunt()}),
		delay:      20 * time.Millisecond,
	}
	cache := NewHuntCache(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetHunt(context.Background(), "g1"); err != nil {
				t.Errorf("get hunt: %v", err)
			}
		}()
	}
	wg.Wait()
	if loader.calls.Load() != 1 {
		t.Fatalf("expected single load, got %d", loader.calls.Load())
	}
}

func TestHuntCacheDropsFillStartedBeforeInvalidate(t *testing.T) {
	loader := &gatedLoader{hunt: sampleHunt(), loading: make(chan struct{}), release: make(chan struct{})}
	cache := NewHuntCache(loader, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.GetHunt(context.Background(), "g1")
		done <- err
	}()
	<-loader.loading

	// the hunt is torn down while the load above still holds the old row
	loader.deleted.Store(true)
	cache.Invalidate(context.Background(), "g1")
	close(loader.release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight get: %v", err)
	}

	if _, err := cache.GetHunt(context.Background(), "g1"); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("deleted hunt served after invalidate: err=%v", err)
	}
}

// gatedLoader snapshots the hunt, then blocks its first load until released.
type gatedLoader struct {
	hunt     domain.Hunt
	deleted  atomic.Bool
	loading  chan struct{}
	release  chan struct{}
	gateOnce sync.Once
}

func (l *gatedLoader) LoadHunt(_ context.Context, _ string) (domain.Hunt, error) {
	hunt, err := l.hunt, error(nil)
	if l.deleted.Load() {
		hunt, err = domain.Hunt{}, domain.ErrNoActiveHunt
	}
	gated := false
	l.gateOnce.Do(func() { gated = true })
	if gated {
		close(l.loading)
		<-l.release
	}
	return hunt, err
}

type countingLoader struct {
	HuntLoader
	delay time.Duration
	calls atomic.Int32
}

func (l *countingLoader) LoadHunt(ctx context.Context, guildID string) (domain.Hunt, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	return l.HuntLoader.LoadHunt(ctx, guildID)
}

func sampleHunt() domain.Hunt {
	return domain.Hunt{
		GuildID: "g1",
		Active:  true,
		Definition: domain.HuntDefinition{
			Name: "Cicada",
			Levels: []domain.Level{
				{ID: 1, Question: "What is 2 + 2?", Answers: domain.Answers{"4", "four"}},
			},
		},
	}
}
