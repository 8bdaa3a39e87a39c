package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptic-hunt-service/internal/announce"
	"cryptic-hunt-service/internal/app"
	"cryptic-hunt-service/internal/auth"
	"cryptic-hunt-service/internal/config"
	"cryptic-hunt-service/internal/infra/memory"
	pgloader "cryptic-hunt-service/internal/infra/postgres"
	redisinfra "cryptic-hunt-service/internal/infra/redis"
	"cryptic-hunt-service/internal/logging"
	transport "cryptic-hunt-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the hunt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg, os.Stderr)

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var loader memory.HuntLoader = store
	if cfg.Database.Driver == "postgres" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pgloader.NewHuntLoader(pool)
	}

	huntTTL := config.TTLDuration(cfg.Hunt.CacheTTL, 10*time.Minute)
	var cache app.HuntRepository
	if redisClient != nil {
		cache = redisinfra.NewHuntCache(redisClient, loader, config.TTLDuration(cfg.Redis.TTL, huntTTL), logger)
	} else {
		cache = memory.NewHuntCache(loader, huntTTL)
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	hub := memory.NewEventHub()
	publishers := app.MultiPublisher{}
	if redisClient != nil {
		events := redisinfra.NewEventPublisher(redisClient, cfg.Events.ChannelPrefix, logger)
		publishers = append(publishers, events)
		go func() {
			if err := events.Relay(relayCtx, hub, nil); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event relay stopped", slog.Any("error", err))
			}
		}()
	} else {
		publishers = append(publishers, hub)
	}
	if cfg.Discord.Token != "" {
		announcer := announce.NewDiscord(cfg.Discord.Token, logger)
		go announcer.Run(relayCtx)
		publishers = append(publishers, announcer)
	}

	var policy app.Policy = app.NewAllowList(cfg.Admins...)
	if len(cfg.Admins) == 0 {
		logger.Warn("no admins configured; administrative actions are denied")
	}

	service := app.NewHuntService(app.Deps{
		Progress:    store,
		Leaderboard: store,
		FirstBlood:  store,
		Hunts:       store,
		Cache:       cache,
		Publisher:   publishers,
		Policy:      policy,
		Logger:      logger,
	}, app.Options{
		FirstBloodBonus:        cfg.Hunt.FirstBloodBonus,
		DefaultPoints:          cfg.Hunt.DefaultPoints,
		LeaderboardSize:        cfg.Hunt.LeaderboardSize,
		ResetProgressOnReplace: cfg.Hunt.ResetProgressOnReplace,
	})
	if err := store.DropBackupTables(ctx); err != nil {
		logger.Warn("dropping backup tables failed", slog.Any("error", err))
	}
	if cfg.Auth.Secret == "" {
		logger.Warn("no auth secret configured; administrative commands are refused")
	}
	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer)
	wsHandler := transport.NewWSHandler(service, hub, tokens, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting hunt service", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", slog.Any("error", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
