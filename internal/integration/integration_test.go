package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cryptic-hunt-service/internal/app"
	"cryptic-hunt-service/internal/domain"
	"cryptic-hunt-service/internal/infra/memory"
	pgloader "cryptic-hunt-service/internal/infra/postgres"
	infraredis "cryptic-hunt-service/internal/infra/redis"
	"cryptic-hunt-service/internal/infra/sqldb"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

const admin = "admin-1"

func TestSubmitAnswerEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	store, err := sqldb.OpenPostgres(pgURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	events := infraredis.NewEventPublisher(redisClient, "hunt:events:", nil)
	hub := memory.NewEventHub()
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	ready := make(chan struct{})
	go func() { _ = events.Relay(relayCtx, hub, ready) }()
	<-ready
	updates, cancel := hub.Subscribe("g1")
	defer cancel()

	service := app.NewHuntService(app.Deps{
		Progress:    store,
		Leaderboard: store,
		FirstBlood:  store,
		Hunts:       store,
		Cache:       infraredis.NewHuntCache(redisClient, pgloader.NewHuntLoader(pool), 5*time.Minute, nil),
		Publisher:   events,
		Policy:      app.NewAllowList(admin),
	}, app.Options{})

	if _, err := service.CreateHunt(ctx, "g1", admin, sampleHunt()); err != nil {
		t.Fatalf("create hunt: %v", err)
	}

	// both participants race for the first level; exactly one takes first blood
	var wg sync.WaitGroup
	outcomes := make([]app.Outcome, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			out, err := service.Submit(ctx, app.Submission{GuildID: "g1", UserID: user, Username: "name-" + user, Answer: "cicada"})
			if err != nil {
				t.Errorf("submit %s: %v", user, err)
			}
			outcomes[i] = out
		}(i, user)
	}
	wg.Wait()

	winners := 0
	for _, out := range outcomes {
		if out.Status != app.StatusCorrect {
			t.Fatalf("expected correct, got %+v", out)
		}
		if out.FirstBlood {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected one first blood, got %d", winners)
	}

	board, err := service.Leaderboard(ctx, "g1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].Points != 150 || board[1].Points != 100 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-updates:
			if event.Type == domain.EventFirstBlood {
				return
			}
		case <-deadline:
			t.Fatalf("first blood event not relayed")
		}
	}
}

func TestGetOrInitializeConcurrentOnPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	store, err := sqldb.OpenPostgres(pgURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hunt := domain.Hunt{GuildID: "g1", Definition: sampleHunt(), CreatedBy: admin, CreatedAt: time.Now(), Active: true}
	if err := store.ReplaceHunt(ctx, hunt, false); err != nil {
		t.Fatalf("replace hunt: %v", err)
	}

	const callers = 20
	var g errgroup.Group
	results := make([]domain.Progress, callers)
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			p, err := store.GetOrInitialize(ctx, "u1", "g1")
			results[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("get or initialize: %v", err)
	}
	for i, p := range results {
		if p.Level != 1 || p.Points != 0 || !p.StartTime.Equal(results[0].StartTime) {
			t.Fatalf("caller %d saw %+v, first saw %+v", i, p, results[0])
		}
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	var rows int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM user_progress WHERE user_id = $1 AND guild_id = $2", "u1", "g1").Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one progress row, got %d", rows)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "hunt", "POSTGRES_PASSWORD": "huntpass", "POSTGRES_DB": "huntdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://hunt:huntpass@%s:%s/huntdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func sampleHunt() domain.HuntDefinition {
	return domain.HuntDefinition{
		Name: "Cicada",
		Levels: []domain.Level{
			{ID: 1, Question: "Who am i", Answers: domain.Answers{"cicada", "a cicada"}, Points: 100},
			{ID: 2, Question: "What comes next", Answers: domain.Answers{"3301"}},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
