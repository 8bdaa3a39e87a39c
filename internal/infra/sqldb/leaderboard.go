package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cryptic-hunt-service/internal/domain"
	"github.com/uptrace/bun"
)

// Upsert inserts or replaces the participant's leaderboard entry.
func (s *Store) Upsert(ctx context.Context, e domain.LeaderboardEntry) error {
	return upsertEntry(ctx, s.db, e)
}

func upsertEntry(ctx context.Context, db bun.IDB, e domain.LeaderboardEntry) error {
	row := leaderboardRow{
		UserID:        e.UserID,
		GuildID:       e.GuildID,
		Username:      e.Username,
		Points:        e.Points,
		Level:         e.Level,
		StartTime:     toMillis(e.StartTime),
		LastCompleted: toMillis(e.LastCompleted),
	}
	_, err := db.NewInsert().
		Model(&row).
		On("CONFLICT (user_id, guild_id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("points = EXCLUDED.points").
		Set("level = EXCLUDED.level").
		Set("start_time = EXCLUDED.start_time").
		Set("last_completed = EXCLUDED.last_completed").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert leaderboard: %w", err)
	}
	return nil
}

// TopN returns up to n entries ordered by points, then earliest last completion.
func (s *Store) TopN(ctx context.Context, guildID string, n int) ([]domain.LeaderboardEntry, error) {
	var rows []leaderboardRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("guild_id = ?", guildID).
		OrderExpr("points DESC, last_completed ASC, user_id ASC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("top leaderboard: %w", err)
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		entry := entryFromRow(row)
		entry.Rank = i + 1
		out = append(out, entry)
	}
	return out, nil
}

// RankOf returns the participant's 1-based rank under the TopN ordering.
func (s *Store) RankOf(ctx context.Context, userID, guildID string) (int, error) {
	var row leaderboardRow
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("guild_id = ?", guildID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotRanked
	}
	if err != nil {
		return 0, fmt.Errorf("get leaderboard entry: %w", err)
	}

	ahead, err := s.db.NewSelect().
		Model((*leaderboardRow)(nil)).
		Where("guild_id = ?", guildID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("points > ?", row.Points).
				WhereOr("points = ? AND last_completed < ?", row.Points, row.LastCompleted).
				WhereOr("points = ? AND last_completed = ? AND user_id < ?", row.Points, row.LastCompleted, row.UserID)
		}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rank leaderboard: %w", err)
	}
	return ahead + 1, nil
}

// Entry returns the participant's leaderboard entry.
func (s *Store) Entry(ctx context.Context, userID, guildID string) (domain.LeaderboardEntry, error) {
	var row leaderboardRow
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("guild_id = ?", guildID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LeaderboardEntry{}, domain.ErrNotRanked
	}
	if err != nil {
		return domain.LeaderboardEntry{}, fmt.Errorf("get leaderboard entry: %w", err)
	}
	return entryFromRow(row), nil
}

// Clear removes every entry of the guild.
func (s *Store) Clear(ctx context.Context, guildID string) error {
	return deleteGuildRows("leaderboard", (*leaderboardRow)(nil), guildID).run(ctx, s.db)
}

func entryFromRow(row leaderboardRow) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		UserID:        row.UserID,
		GuildID:       row.GuildID,
		Username:      row.Username,
		Points:        row.Points,
		Level:         row.Level,
		StartTime:     fromMillis(row.StartTime),
		LastCompleted: fromMillis(row.LastCompleted),
	}
}
