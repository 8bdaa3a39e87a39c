package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cryptic-hunt-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// ActiveHunt loads the guild's active hunt or domain.ErrNoActiveHunt.
func (s *Store) ActiveHunt(ctx context.Context, guildID string) (domain.Hunt, error) {
	return activeHunt(ctx, s.db, guildID)
}

// LoadHunt satisfies the cache loader contract.
func (s *Store) LoadHunt(ctx context.Context, guildID string) (domain.Hunt, error) {
	return s.ActiveHunt(ctx, guildID)
}

func activeHunt(ctx context.Context, db bun.IDB, guildID string) (domain.Hunt, error) {
	var row huntRow
	err := db.NewSelect().
		Model(&row).
		Where("guild_id = ?", guildID).
		Where("active = ?", true).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Hunt{}, domain.ErrNoActiveHunt
	}
	if err != nil {
		return domain.Hunt{}, fmt.Errorf("get hunt: %w", err)
	}
	return huntFromRow(row)
}

// lockHunt returns domain.ErrNoActiveHunt unless the guild has an active hunt.
// On Postgres the hunt row stays locked in mode ("SHARE" for player writes,
// "UPDATE" for teardown) until db commits; SQLite already serialises writers.
func lockHunt(ctx context.Context, db bun.IDB, guildID, mode string) error {
	q := db.NewSelect().
		Model((*huntRow)(nil)).
		Column("guild_id").
		Where("guild_id = ?", guildID).
		Where("active = ?", true)
	if db.Dialect().Name() == dialect.PG {
		q = q.For(mode)
	}
	var id string
	err := q.Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNoActiveHunt
	}
	if err != nil {
		return fmt.Errorf("lock hunt: %w", err)
	}
	return nil
}

func huntFromRow(row huntRow) (domain.Hunt, error) {
	var def domain.HuntDefinition
	if err := json.Unmarshal([]byte(row.HuntData), &def); err != nil {
		return domain.Hunt{}, fmt.Errorf("decode hunt %s: %w", row.GuildID, err)
	}
	return domain.Hunt{
		GuildID:    row.GuildID,
		Definition: def,
		CreatedBy:  row.CreatedBy,
		CreatedAt:  fromMillis(row.CreatedAt),
		Active:     row.Active,
	}, nil
}

func upsertHunt(ctx context.Context, db bun.IDB, hunt domain.Hunt) error {
	data, err := json.Marshal(hunt.Definition)
	if err != nil {
		return fmt.Errorf("encode hunt: %w", err)
	}
	row := huntRow{
		GuildID:   hunt.GuildID,
		HuntData:  string(data),
		CreatedBy: hunt.CreatedBy,
		CreatedAt: toMillis(hunt.CreatedAt),
		Active:    true,
	}
	_, err = db.NewInsert().
		Model(&row).
		On("CONFLICT (guild_id) DO UPDATE").
		Set("hunt_data = EXCLUDED.hunt_data").
		Set("created_by = EXCLUDED.created_by").
		Set("created_at = EXCLUDED.created_at").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save hunt: %w", err)
	}
	return nil
}
