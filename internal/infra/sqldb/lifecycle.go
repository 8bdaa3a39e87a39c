package sqldb

import (
	"context"
	"fmt"
	"log/slog"

	"cryptic-hunt-service/internal/domain"
	"github.com/uptrace/bun"
)

// backupTables are leftovers of an old in-place schema upgrade; setup drops them.
var backupTables = []string{
	"user_progress_backup",
	"completed_levels_backup",
	"leaderboard_backup",
}

// step is one statement of a multi-table operation.
type step struct {
	name string
	run  func(ctx context.Context, db bun.IDB) error
}

func deleteGuildRows(table string, model any, guildID string) step {
	return step{
		name: "delete " + table,
		run: func(ctx context.Context, db bun.IDB) error {
			_, err := db.NewDelete().Model(model).Where("guild_id = ?", guildID).Exec(ctx)
			return err
		},
	}
}

func deleteUserRows(table string, model any, userID, guildID string) step {
	return step{
		name: "delete " + table,
		run: func(ctx context.Context, db bun.IDB) error {
			_, err := db.NewDelete().
				Model(model).
				Where("user_id = ?", userID).
				Where("guild_id = ?", guildID).
				Exec(ctx)
			return err
		},
	}
}

// runSteps executes steps in order and stops at the first failure. Inside a
// transaction that failure rolls everything back.
func runSteps(ctx context.Context, steps []step, db bun.IDB) error {
	for _, st := range steps {
		if err := st.run(ctx, db); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return nil
}

// DropBackupTables removes leftover backup tables. It is safe to repeat.
func (s *Store) DropBackupTables(ctx context.Context) error {
	for _, table := range backupTables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// ReplaceHunt clears the guild's first-blood records, optionally its player
// state, and stores hunt as the active hunt, all in one transaction.
func (s *Store) ReplaceHunt(ctx context.Context, hunt domain.Hunt, resetProgress bool) error {
	steps := []step{
		deleteGuildRows("first_blood_records", (*firstBloodRow)(nil), hunt.GuildID),
	}
	if resetProgress {
		steps = append(steps,
			deleteGuildRows("completed_levels", (*completedRow)(nil), hunt.GuildID),
			deleteGuildRows("user_progress", (*progressRow)(nil), hunt.GuildID),
			deleteGuildRows("leaderboard", (*leaderboardRow)(nil), hunt.GuildID),
		)
	}
	steps = append(steps, step{
		name: "save hunt",
		run: func(ctx context.Context, db bun.IDB) error {
			return upsertHunt(ctx, db, hunt)
		},
	})
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return runSteps(ctx, steps, tx)
	})
	if err != nil {
		return fmt.Errorf("replace hunt: %w", err)
	}
	return nil
}

// Teardown deletes every record of the guild's hunt in one transaction.
// It returns domain.ErrNoActiveHunt when the guild has no hunt.
func (s *Store) Teardown(ctx context.Context, guildID string) error {
	steps := []step{
		deleteGuildRows("completed_levels", (*completedRow)(nil), guildID),
		deleteGuildRows("user_progress", (*progressRow)(nil), guildID),
		deleteGuildRows("leaderboard", (*leaderboardRow)(nil), guildID),
		deleteGuildRows("first_blood_records", (*firstBloodRow)(nil), guildID),
		deleteGuildRows("hunt_paused", (*pauseRow)(nil), guildID),
		deleteGuildRows("guild_hunts", (*huntRow)(nil), guildID),
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockHunt(ctx, tx, guildID, "UPDATE"); err != nil {
			return err
		}
		return runSteps(ctx, steps, tx)
	})
	if err != nil {
		return fmt.Errorf("teardown %s: %w", guildID, err)
	}
	s.log.Info("hunt torn down", slog.String("guild_id", guildID))
	return nil
}

// Kick deletes the participant's progress, completion log and leaderboard
// entry in one transaction.
func (s *Store) Kick(ctx context.Context, userID, guildID string) error {
	steps := []step{
		deleteUserRows("user_progress", (*progressRow)(nil), userID, guildID),
		deleteUserRows("completed_levels", (*completedRow)(nil), userID, guildID),
		deleteUserRows("leaderboard", (*leaderboardRow)(nil), userID, guildID),
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return runSteps(ctx, steps, tx)
	})
	if err != nil {
		return fmt.Errorf("kick %s: %w", userID, err)
	}
	return nil
}
