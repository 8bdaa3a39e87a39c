package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"cryptic-hunt-service/internal/domain"
	"github.com/uptrace/bun"
)

// Claim records fb as the first solver of its level. The primary key on
// (guild_id, level_id) decides the race: won is true only for the single
// insert that took effect. Without an active hunt nothing is recorded and
// domain.ErrNoActiveHunt is returned.
func (s *Store) Claim(ctx context.Context, fb domain.FirstBlood) (bool, error) {
	row := firstBloodRow{
		GuildID:     fb.GuildID,
		LevelID:     fb.LevelID,
		UserID:      fb.UserID,
		Username:    fb.Username,
		CompletedAt: toMillis(fb.CompletedAt),
	}
	var n int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockHunt(ctx, tx, fb.GuildID, "SHARE"); err != nil {
			return err
		}
		res, err := tx.NewInsert().
			Model(&row).
			On("CONFLICT (guild_id, level_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("claim first blood: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim first blood: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if n == 1 {
		s.log.Debug("first blood claimed",
			slog.String("guild_id", fb.GuildID),
			slog.Int("level_id", fb.LevelID),
			slog.String("user_id", fb.UserID))
	}
	return n == 1, nil
}

// AlreadyClaimed returns the first-blood record of a level, if any.
func (s *Store) AlreadyClaimed(ctx context.Context, guildID string, levelID int) (domain.FirstBlood, bool, error) {
	var row firstBloodRow
	err := s.db.NewSelect().
		Model(&row).
		Where("guild_id = ?", guildID).
		Where("level_id = ?", levelID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FirstBlood{}, false, nil
	}
	if err != nil {
		return domain.FirstBlood{}, false, fmt.Errorf("get first blood: %w", err)
	}
	return domain.FirstBlood{
		GuildID:     row.GuildID,
		LevelID:     row.LevelID,
		UserID:      row.UserID,
		Username:    row.Username,
		CompletedAt: fromMillis(row.CompletedAt),
	}, true, nil
}

// ClearAll removes every first-blood record of the guild.
func (s *Store) ClearAll(ctx context.Context, guildID string) error {
	return deleteGuildRows("first_blood_records", (*firstBloodRow)(nil), guildID).run(ctx, s.db)
}
