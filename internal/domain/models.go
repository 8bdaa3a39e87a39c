package domain

import (
	"encoding/json"
	"time"
)

// DefaultLevelPoints is awarded for a level that does not declare its own value.
const DefaultLevelPoints = 100

// DefaultFirstBloodBonus is added on top of the level points for the first solver.
const DefaultFirstBloodBonus = 50

// Answers is the accepted answer set of a level. In hunt files it may be a
// single string or a list of strings.
type Answers []string

// UnmarshalJSON accepts either "answer" or ["answer", "other answer"].
func (a *Answers) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Answers{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

// Level is a single puzzle within a hunt.
type Level struct {
	ID       int     `json:"id"`
	Question string  `json:"question"`
	Answers  Answers `json:"answer"`
	Hint     string  `json:"hint,omitempty"`
	Points   int     `json:"points,omitempty"` // defaults to DefaultLevelPoints if zero
	Image    string  `json:"image,omitempty"`
}

// PointValue returns the points a correct answer is worth; levels without
// their own value are worth fallback.
func (l Level) PointValue(fallback int) int {
	if l.Points > 0 {
		return l.Points
	}
	return fallback
}

// HuntDefinition is the content uploaded by an operator.
type HuntDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Levels      []Level `json:"levels"`
}

// Hunt is the stored, guild-scoped hunt.
type Hunt struct {
	GuildID    string
	Definition HuntDefinition
	CreatedBy  string
	CreatedAt  time.Time
	Active     bool
}

// Level looks up a level by its id.
func (h Hunt) Level(id int) (Level, bool) {
	for _, level := range h.Definition.Levels {
		if level.ID == id {
			return level, true
		}
	}
	return Level{}, false
}

// Progress is a participant's state within one guild's hunt.
type Progress struct {
	UserID    string
	GuildID   string
	Level     int
	Points    int
	HintsUsed []int
	StartTime time.Time
}

// Untouched reports whether the participant never advanced or earned points.
func (p Progress) Untouched() bool {
	return p.Level <= 1 && p.Points == 0
}

// UsedHint reports whether the hint for levelID was already consumed.
func (p Progress) UsedHint(levelID int) bool {
	for _, id := range p.HintsUsed {
		if id == levelID {
			return true
		}
	}
	return false
}

// CompletedLevel is one row of the append-only completion log.
type CompletedLevel struct {
	UserID       string
	GuildID      string
	LevelID      int
	CompletedAt  time.Time
	PointsEarned int
}

// LeaderboardEntry is the denormalized ranking projection of a participant.
type LeaderboardEntry struct {
	UserID        string    `json:"userId"`
	GuildID       string    `json:"guildId"`
	Username      string    `json:"username"`
	Points        int       `json:"points"`
	Level         int       `json:"level"`
	StartTime     time.Time `json:"startTime"`
	LastCompleted time.Time `json:"lastCompleted"`
	Rank          int       `json:"rank,omitempty"`
}

// FirstBlood records the first correct solver of a level.
type FirstBlood struct {
	GuildID     string
	LevelID     int
	UserID      string
	Username    string
	CompletedAt time.Time
}

// PauseState is the per-guild pause flag.
type PauseState struct {
	GuildID  string
	Paused   bool
	PausedBy string
	PausedAt time.Time
}

// AnnouncementConfig is where first-blood announcements go for a guild.
type AnnouncementConfig struct {
	GuildID   string
	ChannelID string
	SetupBy   string
	SetupAt   time.Time
}
