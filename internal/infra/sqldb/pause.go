package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cryptic-hunt-service/internal/domain"
)

// PauseState returns the guild's pause flag; an absent row means running.
func (s *Store) PauseState(ctx context.Context, guildID string) (domain.PauseState, error) {
	var row pauseRow
	err := s.db.NewSelect().
		Model(&row).
		Where("guild_id = ?", guildID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PauseState{GuildID: guildID}, nil
	}
	if err != nil {
		return domain.PauseState{}, fmt.Errorf("get pause state: %w", err)
	}
	return domain.PauseState{
		GuildID:  row.GuildID,
		Paused:   row.Paused,
		PausedBy: row.PausedBy,
		PausedAt: fromMillis(row.PausedAt),
	}, nil
}

// SetPaused upserts the guild's pause flag.
func (s *Store) SetPaused(ctx context.Context, state domain.PauseState) error {
	row := pauseRow{
		GuildID:  state.GuildID,
		Paused:   state.Paused,
		PausedBy: state.PausedBy,
		PausedAt: toMillis(state.PausedAt),
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (guild_id) DO UPDATE").
		Set("paused = EXCLUDED.paused").
		Set("paused_by = EXCLUDED.paused_by").
		Set("paused_at = EXCLUDED.paused_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set pause state: %w", err)
	}
	return nil
}

// AnnouncementChannel returns the guild's first-blood channel, if configured.
func (s *Store) AnnouncementChannel(ctx context.Context, guildID string) (domain.AnnouncementConfig, bool, error) {
	var row announceRow
	err := s.db.NewSelect().
		Model(&row).
		Where("guild_id = ?", guildID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnnouncementConfig{}, false, nil
	}
	if err != nil {
		return domain.AnnouncementConfig{}, false, fmt.Errorf("get announcement channel: %w", err)
	}
	return domain.AnnouncementConfig{
		GuildID:   row.GuildID,
		ChannelID: row.ChannelID,
		SetupBy:   row.SetupBy,
		SetupAt:   fromMillis(row.SetupAt),
	}, true, nil
}

// SetAnnouncementChannel upserts the guild's first-blood channel.
func (s *Store) SetAnnouncementChannel(ctx context.Context, cfg domain.AnnouncementConfig) error {
	row := announceRow{
		GuildID:   cfg.GuildID,
		ChannelID: cfg.ChannelID,
		SetupBy:   cfg.SetupBy,
		SetupAt:   toMillis(cfg.SetupAt),
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (guild_id) DO UPDATE").
		Set("channel_id = EXCLUDED.channel_id").
		Set("setup_by = EXCLUDED.setup_by").
		Set("setup_at = EXCLUDED.setup_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set announcement channel: %w", err)
	}
	return nil
}
