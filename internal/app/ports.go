package app

import (
	"context"

	"cryptic-hunt-service/internal/domain"
)

// ProgressStore persists per-participant progress and the completion log.
type ProgressStore interface {
	GetOrInitialize(ctx context.Context, userID, guildID string) (domain.Progress, error)
	Get(ctx context.Context, userID, guildID string) (domain.Progress, error)
	// Advance stores a leaderboard entry and the matching progress together;
	// the progress write only applies while the stored level is expectedLevel.
	Advance(ctx context.Context, entry domain.LeaderboardEntry, p domain.Progress, expectedLevel int) error
	// AwardBonus adds bonus to the stored points and refreshes the leaderboard entry.
	AwardBonus(ctx context.Context, userID, guildID string, bonus int) (domain.Progress, error)
	AdjustPoints(ctx context.Context, userID, guildID string, delta int) (domain.Progress, error)
	RecordHint(ctx context.Context, userID, guildID string, levelID int) (domain.Progress, error)
	RecordCompletion(ctx context.Context, c domain.CompletedLevel) error
	CompletedLevels(ctx context.Context, userID, guildID string) ([]domain.CompletedLevel, error)
}

// LeaderboardIndex is the denormalized ranking projection. It trusts its
// callers to upsert after every point or level change.
type LeaderboardIndex interface {
	Upsert(ctx context.Context, e domain.LeaderboardEntry) error
	TopN(ctx context.Context, guildID string, n int) ([]domain.LeaderboardEntry, error)
	RankOf(ctx context.Context, userID, guildID string) (int, error)
	Entry(ctx context.Context, userID, guildID string) (domain.LeaderboardEntry, error)
}

// FirstBloodArbiter decides the first solver of each level.
type FirstBloodArbiter interface {
	Claim(ctx context.Context, fb domain.FirstBlood) (bool, error)
	AlreadyClaimed(ctx context.Context, guildID string, levelID int) (domain.FirstBlood, bool, error)
}

// HuntStore holds hunt definitions, pause state and the atomic multi-table operations.
type HuntStore interface {
	DropBackupTables(ctx context.Context) error
	ReplaceHunt(ctx context.Context, hunt domain.Hunt, resetProgress bool) error
	Teardown(ctx context.Context, guildID string) error
	Kick(ctx context.Context, userID, guildID string) error
	PauseState(ctx context.Context, guildID string) (domain.PauseState, error)
	SetPaused(ctx context.Context, state domain.PauseState) error
	AnnouncementChannel(ctx context.Context, guildID string) (domain.AnnouncementConfig, bool, error)
	SetAnnouncementChannel(ctx context.Context, cfg domain.AnnouncementConfig) error
}

// HuntRepository loads active hunts (from cache/backing store).
type HuntRepository interface {
	GetHunt(ctx context.Context, guildID string) (domain.Hunt, error)
	Invalidate(ctx context.Context, guildID string)
}

// Publisher hands events to the presentation layer.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
