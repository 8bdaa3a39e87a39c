package app

import (
	"context"
	"errors"
	"time"

	"cryptic-hunt-service/internal/domain"
)

// LevelView is a level as shown to a participant, without its answers.
type LevelView struct {
	ID          int    `json:"id"`
	Number      int    `json:"number"`
	TotalLevels int    `json:"totalLevels"`
	Question    string `json:"question"`
	Image       string `json:"image,omitempty"`
	Points      int    `json:"points"`
	HasHint     bool   `json:"hasHint"`
	HintUsed    bool   `json:"hintUsed"`
}

// CurrentLevel returns the participant's current level.
func (s *HuntService) CurrentLevel(ctx context.Context, guildID, userID string) (LevelView, error) {
	hunt, err := s.playable(ctx, guildID)
	if err != nil {
		return LevelView{}, err
	}
	progress, err := s.initProgress(ctx, userID, guildID)
	if err != nil {
		return LevelView{}, err
	}
	level, ok := hunt.Level(progress.Level)
	if !ok {
		return LevelView{}, domain.ErrAllLevelsCompleted
	}
	return LevelView{
		ID:          level.ID,
		Number:      progress.Level,
		TotalLevels: len(hunt.Definition.Levels),
		Question:    level.Question,
		Image:       level.Image,
		Points:      s.pointsFor(level),
		HasHint:     level.Hint != "",
		HintUsed:    progress.UsedHint(level.ID),
	}, nil
}

// ProgressReport is a participant's standing in the guild's hunt.
type ProgressReport struct {
	Level        int           `json:"level"`
	Points       int           `json:"points"`
	Completed    int           `json:"completed"`
	TotalLevels  int           `json:"totalLevels"`
	Percent      int           `json:"percent"`
	Rank         int           `json:"rank,omitempty"`
	StartTime    time.Time     `json:"startTime"`
	AverageTime  time.Duration `json:"averageTime,omitempty"`
	HintsUsed    int           `json:"hintsUsed"`
	CompletedAll bool          `json:"completedAll"`
}

// Progress reports the participant's level, points, rank and pace.
func (s *HuntService) Progress(ctx context.Context, guildID, userID string) (ProgressReport, error) {
	hunt, err := s.playable(ctx, guildID)
	if err != nil {
		return ProgressReport{}, err
	}
	progress, err := s.initProgress(ctx, userID, guildID)
	if err != nil {
		return ProgressReport{}, err
	}
	completed, err := s.progress.CompletedLevels(ctx, userID, guildID)
	if err != nil {
		return ProgressReport{}, err
	}
	rank, err := s.leaderboard.RankOf(ctx, userID, guildID)
	if err != nil && !errors.Is(err, domain.ErrNotRanked) {
		return ProgressReport{}, err
	}

	// log rows of levels that are not part of the current hunt predate a replace
	var current []domain.CompletedLevel
	for _, c := range completed {
		if _, ok := hunt.Level(c.LevelID); ok {
			current = append(current, c)
		}
	}

	total := len(hunt.Definition.Levels)
	solved := min(max(progress.Level-1, 0), total)
	report := ProgressReport{
		Level:       progress.Level,
		Points:      progress.Points,
		Completed:   solved,
		TotalLevels: total,
		Rank:        rank,
		StartTime:   progress.StartTime,
		HintsUsed:   len(progress.HintsUsed),
	}
	if total > 0 {
		report.Percent = solved * 100 / total
	}
	if n := len(current); n > 0 {
		elapsed := current[n-1].CompletedAt.Sub(progress.StartTime)
		if elapsed > 0 {
			report.AverageTime = (elapsed / time.Duration(n)).Round(time.Second)
		}
	}
	_, hasLevel := hunt.Level(progress.Level)
	report.CompletedAll = !hasLevel
	return report, nil
}

// SolvedLevel is one completed level with its question and answers.
type SolvedLevel struct {
	LevelID      int       `json:"levelId"`
	Question     string    `json:"question"`
	Answers      []string  `json:"answers"`
	PointsEarned int       `json:"pointsEarned"`
	CompletedAt  time.Time `json:"completedAt"`
}

// Previous lists the levels the participant already solved, oldest first.
// Levels removed from the hunt since are skipped.
func (s *HuntService) Previous(ctx context.Context, guildID, userID string) ([]SolvedLevel, error) {
	hunt, err := s.playable(ctx, guildID)
	if err != nil {
		return nil, err
	}
	completed, err := s.progress.CompletedLevels(ctx, userID, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]SolvedLevel, 0, len(completed))
	for _, c := range completed {
		level, ok := hunt.Level(c.LevelID)
		if !ok {
			continue
		}
		out = append(out, SolvedLevel{
			LevelID:      c.LevelID,
			Question:     level.Question,
			Answers:      level.Answers,
			PointsEarned: c.PointsEarned,
			CompletedAt:  c.CompletedAt,
		})
	}
	return out, nil
}

// Leaderboard returns the top entries of the guild with their ranks.
func (s *HuntService) Leaderboard(ctx context.Context, guildID string) ([]domain.LeaderboardEntry, error) {
	if _, err := s.playable(ctx, guildID); err != nil {
		return nil, err
	}
	return s.leaderboard.TopN(ctx, guildID, s.opts.LeaderboardSize)
}

// FirstBlood returns who solved levelID first, if anyone.
func (s *HuntService) FirstBlood(ctx context.Context, guildID string, levelID int) (domain.FirstBlood, bool, error) {
	return s.firstBlood.AlreadyClaimed(ctx, guildID, levelID)
}

// Hint returns the hint of the participant's current level and records that
// it was used.
func (s *HuntService) Hint(ctx context.Context, guildID, userID string) (string, error) {
	hunt, err := s.playable(ctx, guildID)
	if err != nil {
		return "", err
	}
	progress, err := s.initProgress(ctx, userID, guildID)
	if err != nil {
		return "", err
	}
	level, ok := hunt.Level(progress.Level)
	if !ok {
		return "", domain.ErrAllLevelsCompleted
	}
	if level.Hint == "" {
		return "", domain.ErrNoHint
	}
	if _, err := s.progress.RecordHint(ctx, userID, guildID, level.ID); err != nil {
		return "", err
	}
	return level.Hint, nil
}
