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

// GetOrInitialize returns the participant's progress, creating the initial
// record (level 1, no points) if absent. Concurrent first calls insert one row.
// A guild without an active hunt gets no record and domain.ErrNoActiveHunt.
func (s *Store) GetOrInitialize(ctx context.Context, userID, guildID string) (domain.Progress, error) {
	row := progressRow{
		UserID:    userID,
		GuildID:   guildID,
		Level:     1,
		Points:    0,
		HintUsed:  "[]",
		StartTime: toMillis(s.now()),
	}
	var out domain.Progress
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockHunt(ctx, tx, guildID, "SHARE"); err != nil {
			return err
		}
		if _, err := tx.NewInsert().
			Model(&row).
			On("CONFLICT (user_id, guild_id) DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("init progress: %w", err)
		}
		p, err := s.getProgress(ctx, tx, userID, guildID)
		out = p
		return err
	})
	return out, err
}

// Get returns the progress without creating it.
func (s *Store) Get(ctx context.Context, userID, guildID string) (domain.Progress, error) {
	return s.getProgress(ctx, s.db, userID, guildID)
}

func (s *Store) getProgress(ctx context.Context, db bun.IDB, userID, guildID string) (domain.Progress, error) {
	var row progressRow
	err := db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("guild_id = ?", guildID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return s.progressFromRow(row), nil
}

func (s *Store) progressFromRow(row progressRow) domain.Progress {
	hints, err := decodeHints(row.HintUsed)
	if err != nil {
		s.log.Warn("malformed hint list, using empty list",
			slog.String("user_id", row.UserID),
			slog.String("guild_id", row.GuildID),
			slog.Any("error", err))
	}
	return domain.Progress{
		UserID:    row.UserID,
		GuildID:   row.GuildID,
		Level:     row.Level,
		Points:    row.Points,
		HintsUsed: hints,
		StartTime: fromMillis(row.StartTime),
	}
}

// Update replaces level, points and hints of an existing record, but only while
// its stored level still equals expectedLevel. A write that matches nothing
// returns domain.ErrProgressNotSaved.
func (s *Store) Update(ctx context.Context, p domain.Progress, expectedLevel int) error {
	return s.updateProgress(ctx, s.db, p, expectedLevel)
}

func (s *Store) updateProgress(ctx context.Context, db bun.IDB, p domain.Progress, expectedLevel int) error {
	points := p.Points
	if points < 0 {
		points = 0
	}
	res, err := db.NewUpdate().
		Model((*progressRow)(nil)).
		Set("level = ?", p.Level).
		Set("points = ?", points).
		Set("hint_used = ?", encodeHints(p.HintsUsed)).
		Where("user_id = ?", p.UserID).
		Where("guild_id = ?", p.GuildID).
		Where("level = ?", expectedLevel).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n == 0 {
		return domain.ErrProgressNotSaved
	}
	return nil
}

// Advance writes the leaderboard entry and then the guarded progress update in
// one transaction. If the guard fails the entry write is rolled back, so a
// losing concurrent submission never leaves a stale leaderboard row. Without
// an active hunt nothing is written and domain.ErrNoActiveHunt is returned.
func (s *Store) Advance(ctx context.Context, entry domain.LeaderboardEntry, p domain.Progress, expectedLevel int) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockHunt(ctx, tx, entry.GuildID, "SHARE"); err != nil {
			return err
		}
		if err := upsertEntry(ctx, tx, entry); err != nil {
			return err
		}
		return s.updateProgress(ctx, tx, p, expectedLevel)
	})
}

// AwardBonus adds bonus to the stored points and copies the new total to the
// leaderboard entry in one transaction. The bonus is applied as a delta, so an
// advance or adjustment that landed in between is kept.
func (s *Store) AwardBonus(ctx context.Context, userID, guildID string, bonus int) (domain.Progress, error) {
	var out domain.Progress
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockHunt(ctx, tx, guildID, "SHARE"); err != nil {
			return err
		}
		res, err := tx.NewUpdate().
			Model((*progressRow)(nil)).
			Set("points = points + ?", bonus).
			Where("user_id = ?", userID).
			Where("guild_id = ?", guildID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("award bonus: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrProgressNotFound
		}
		p, err := s.getProgress(ctx, tx, userID, guildID)
		if err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*leaderboardRow)(nil)).
			Set("points = ?", p.Points).
			Set("level = ?", p.Level).
			Where("user_id = ?", userID).
			Where("guild_id = ?", guildID).
			Exec(ctx); err != nil {
			return fmt.Errorf("award bonus: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// AdjustPoints adds delta to the stored points, clamping at zero, and returns
// the updated record.
func (s *Store) AdjustPoints(ctx context.Context, userID, guildID string, delta int) (domain.Progress, error) {
	var out domain.Progress
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*progressRow)(nil)).
			Set("points = CASE WHEN points + ? < 0 THEN 0 ELSE points + ? END", delta, delta).
			Where("user_id = ?", userID).
			Where("guild_id = ?", guildID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("adjust points: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrProgressNotFound
		}
		out, err = s.getProgress(ctx, tx, userID, guildID)
		return err
	})
	return out, err
}

// RecordHint adds levelID to the consumed-hint set. It is a no-op if the hint
// was already recorded.
func (s *Store) RecordHint(ctx context.Context, userID, guildID string, levelID int) (domain.Progress, error) {
	var out domain.Progress
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		p, err := s.getProgress(ctx, tx, userID, guildID)
		if err != nil {
			return err
		}
		if !p.UsedHint(levelID) {
			p.HintsUsed = append(p.HintsUsed, levelID)
			if err := s.updateProgress(ctx, tx, p, p.Level); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}

// RecordCompletion appends one completion to the log while the guild's hunt
// is still active.
func (s *Store) RecordCompletion(ctx context.Context, c domain.CompletedLevel) error {
	row := completedRow{
		UserID:       c.UserID,
		GuildID:      c.GuildID,
		LevelID:      c.LevelID,
		CompletedAt:  toMillis(c.CompletedAt),
		PointsEarned: c.PointsEarned,
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockHunt(ctx, tx, c.GuildID, "SHARE"); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("record completion: %w", err)
		}
		return nil
	})
}

// CompletedLevels returns the participant's completions, oldest first.
func (s *Store) CompletedLevels(ctx context.Context, userID, guildID string) ([]domain.CompletedLevel, error) {
	var rows []completedRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("guild_id = ?", guildID).
		OrderExpr("completed_at ASC, level_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completed levels: %w", err)
	}
	out := make([]domain.CompletedLevel, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.CompletedLevel{
			UserID:       row.UserID,
			GuildID:      row.GuildID,
			LevelID:      row.LevelID,
			CompletedAt:  fromMillis(row.CompletedAt),
			PointsEarned: row.PointsEarned,
		})
	}
	return out, nil
}

// Remove deletes the participant's progress and completion log together.
func (s *Store) Remove(ctx context.Context, userID, guildID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return runSteps(ctx, []step{
			deleteUserRows("completed_levels", (*completedRow)(nil), userID, guildID),
			deleteUserRows("user_progress", (*progressRow)(nil), userID, guildID),
		}, tx)
	})
}
