package migrations

import (
	"context"
	_ "embed"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 2026101601_create_hunt_tables.sql
var createHuntTablesSQL string

// Migrations holds every schema migration; the same DDL runs on SQLite and Postgres.
var Migrations = migrate.NewMigrations()

// Tables lists the hunt tables in teardown order.
var Tables = []string{
	"completed_levels",
	"user_progress",
	"leaderboard",
	"first_blood_records",
	"hunt_paused",
	"guild_hunts",
	"first_blood_config",
}

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			return execStatements(ctx, db, createHuntTablesSQL)
		},
		func(ctx context.Context, db *bun.DB) error {
			for _, table := range Tables {
				if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

// execStatements runs a script one statement at a time; not every driver
// accepts several statements per Exec.
func execStatements(ctx context.Context, db *bun.DB, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
