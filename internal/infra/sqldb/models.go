package sqldb

import (
	"encoding/json"

	"github.com/uptrace/bun"
)

type huntRow struct {
	bun.BaseModel `bun:"table:guild_hunts"`

	GuildID   string `bun:"guild_id,pk"`
	HuntData  string `bun:"hunt_data"`
	CreatedBy string `bun:"created_by"`
	CreatedAt int64  `bun:"created_at"`
	Active    bool   `bun:"active"`
}

type progressRow struct {
	bun.BaseModel `bun:"table:user_progress"`

	UserID    string `bun:"user_id,pk"`
	GuildID   string `bun:"guild_id,pk"`
	Level     int    `bun:"level"`
	Points    int    `bun:"points"`
	HintUsed  string `bun:"hint_used"`
	StartTime int64  `bun:"start_time"`
}

type completedRow struct {
	bun.BaseModel `bun:"table:completed_levels"`

	UserID       string `bun:"user_id"`
	GuildID      string `bun:"guild_id"`
	LevelID      int    `bun:"level_id"`
	CompletedAt  int64  `bun:"completed_at"`
	PointsEarned int    `bun:"points_earned"`
}

type leaderboardRow struct {
	bun.BaseModel `bun:"table:leaderboard"`

	UserID        string `bun:"user_id,pk"`
	GuildID       string `bun:"guild_id,pk"`
	Username      string `bun:"username"`
	Points        int    `bun:"points"`
	Level         int    `bun:"level"`
	StartTime     int64  `bun:"start_time"`
	LastCompleted int64  `bun:"last_completed"`
}

type firstBloodRow struct {
	bun.BaseModel `bun:"table:first_blood_records"`

	GuildID     string `bun:"guild_id,pk"`
	LevelID     int    `bun:"level_id,pk"`
	UserID      string `bun:"user_id"`
	Username    string `bun:"username"`
	CompletedAt int64  `bun:"completed_at"`
}

type pauseRow struct {
	bun.BaseModel `bun:"table:hunt_paused"`

	GuildID  string `bun:"guild_id,pk"`
	Paused   bool   `bun:"paused"`
	PausedBy string `bun:"paused_by"`
	PausedAt int64  `bun:"paused_at"`
}

type announceRow struct {
	bun.BaseModel `bun:"table:first_blood_config"`

	GuildID   string `bun:"guild_id,pk"`
	ChannelID string `bun:"channel_id"`
	SetupBy   string `bun:"setup_by"`
	SetupAt   int64  `bun:"setup_at"`
}

func encodeHints(hints []int) string {
	if len(hints) == 0 {
		return "[]"
	}
	data, err := json.Marshal(hints)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeHints(raw string) ([]int, error) {
	if raw == "" {
		return []int{}, nil
	}
	var hints []int
	if err := json.Unmarshal([]byte(raw), &hints); err != nil {
		return []int{}, err
	}
	if hints == nil {
		hints = []int{}
	}
	return hints, nil
}
