package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptic-hunt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// HuntLoader loads active hunt definitions straight from Postgres. It reads
// the guild_hunts table written by the bun store and serves the hunt caches.
type HuntLoader struct {
	pool *pgxpool.Pool
}

func NewHuntLoader(pool *pgxpool.Pool) *HuntLoader {
	return &HuntLoader{pool: pool}
}

func (l *HuntLoader) LoadHunt(ctx context.Context, guildID string) (domain.Hunt, error) {
	var (
		raw       string
		createdBy string
		createdAt int64
	)
	err := l.pool.QueryRow(ctx,
		`SELECT hunt_data, created_by, created_at FROM guild_hunts WHERE guild_id=$1 AND active`,
		guildID,
	).Scan(&raw, &createdBy, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hunt{}, domain.ErrNoActiveHunt
	}
	if err != nil {
		return domain.Hunt{}, fmt.Errorf("load hunt: %w", err)
	}
	var def domain.HuntDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return domain.Hunt{}, fmt.Errorf("unmarshal hunt: %w", err)
	}
	hunt := domain.Hunt{
		GuildID:    guildID,
		Definition: def,
		CreatedBy:  createdBy,
		Active:     true,
	}
	if createdAt > 0 {
		hunt.CreatedAt = time.UnixMilli(createdAt).UTC()
	}
	return hunt, nil
}
