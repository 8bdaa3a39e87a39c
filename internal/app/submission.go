package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cryptic-hunt-service/internal/domain"
)

// Status is the user-visible result of a submission.
type Status string

const (
	StatusCorrect          Status = "correct"
	StatusIncorrect        Status = "incorrect"
	StatusNoHunt           Status = "no_hunt"
	StatusPaused           Status = "paused"
	StatusAlreadyCompleted Status = "already_completed"
)

// Submission is one answer attempt.
type Submission struct {
	GuildID  string
	UserID   string
	Username string
	Answer   string
}

// Outcome reports what a submission did. PointsEarned includes the
// first-blood bonus.
type Outcome struct {
	Status       Status `json:"status"`
	LevelID      int    `json:"levelId,omitempty"`
	NewLevel     int    `json:"newLevel,omitempty"`
	PointsEarned int    `json:"pointsEarned,omitempty"`
	Bonus        int    `json:"bonus,omitempty"`
	TotalPoints  int    `json:"totalPoints"`
	FirstBlood   bool   `json:"firstBlood,omitempty"`
	CompletedAll bool   `json:"completedAll,omitempty"`
}

// Advanced reports whether the participant moved to the next level.
func (o Outcome) Advanced() bool {
	return o.Status == StatusCorrect
}

// Submit evaluates an answer and, when it is correct, advances the
// participant, keeps the leaderboard in step and arbitrates first blood.
// Expected outcomes are reported through Outcome.Status. A returned error
// means the operation failed; errors.Is(err, domain.ErrProgressNotSaved)
// tells the caller not to report success.
func (s *HuntService) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	log := s.log.With(slog.String("guild_id", sub.GuildID), slog.String("user_id", sub.UserID))

	hunt, err := s.cache.GetHunt(ctx, sub.GuildID)
	if errors.Is(err, domain.ErrNoActiveHunt) {
		return Outcome{Status: StatusNoHunt}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load hunt: %w", err)
	}

	state, err := s.hunts.PauseState(ctx, sub.GuildID)
	if err != nil {
		return Outcome{}, err
	}
	if state.Paused {
		return Outcome{Status: StatusPaused}, nil
	}

	progress, err := s.initProgress(ctx, sub.UserID, sub.GuildID)
	if errors.Is(err, domain.ErrNoActiveHunt) {
		return Outcome{Status: StatusNoHunt}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	level, ok := hunt.Level(progress.Level)
	if !ok {
		return Outcome{Status: StatusAlreadyCompleted, TotalPoints: progress.Points}, nil
	}

	if !domain.Evaluate(level, sub.Answer) {
		log.Debug("incorrect answer", slog.Int("level_id", level.ID))
		return Outcome{Status: StatusIncorrect, LevelID: level.ID, TotalPoints: progress.Points}, nil
	}

	now := s.now()
	earned := s.pointsFor(level)
	expectedLevel := progress.Level
	next := progress
	next.Level++
	next.Points += earned

	entry := domain.LeaderboardEntry{
		UserID:        sub.UserID,
		GuildID:       sub.GuildID,
		Username:      sub.Username,
		Points:        next.Points,
		Level:         next.Level,
		StartTime:     progress.StartTime,
		LastCompleted: now,
	}
	if err := s.saveAdvance(ctx, entry, next, expectedLevel); err != nil {
		if errors.Is(err, domain.ErrNoActiveHunt) {
			// torn down after the hunt was read
			s.cache.Invalidate(ctx, sub.GuildID)
			return Outcome{Status: StatusNoHunt}, nil
		}
		return Outcome{}, err
	}
	if err := s.progress.RecordCompletion(ctx, domain.CompletedLevel{
		UserID:       sub.UserID,
		GuildID:      sub.GuildID,
		LevelID:      level.ID,
		CompletedAt:  now,
		PointsEarned: earned,
	}); err != nil {
		// Progress already advanced; the log is history only.
		log.Error("record completion failed", slog.Int("level_id", level.ID), slog.Any("error", err))
	}

	outcome := Outcome{
		Status:       StatusCorrect,
		LevelID:      level.ID,
		NewLevel:     next.Level,
		PointsEarned: earned,
		TotalPoints:  next.Points,
	}

	won, err := s.firstBlood.Claim(ctx, domain.FirstBlood{
		GuildID:     sub.GuildID,
		LevelID:     level.ID,
		UserID:      sub.UserID,
		Username:    sub.Username,
		CompletedAt: now,
	})
	if err != nil {
		log.Error("first blood claim failed", slog.Int("level_id", level.ID), slog.Any("error", err))
	}
	if won {
		bonus := s.opts.FirstBloodBonus
		updated, err := s.progress.AwardBonus(ctx, sub.UserID, sub.GuildID, bonus)
		if err != nil {
			log.Error("first blood bonus not saved", slog.Int("level_id", level.ID), slog.Any("error", err))
			return Outcome{}, fmt.Errorf("%w: first blood bonus: %w", domain.ErrProgressNotSaved, err)
		}
		outcome.FirstBlood = true
		outcome.Bonus = bonus
		outcome.PointsEarned += bonus
		outcome.TotalPoints = updated.Points
		s.publishFirstBlood(ctx, sub, level.ID, outcome)
	}

	_, hasNext := hunt.Level(next.Level)
	outcome.CompletedAll = !hasNext

	eventType := domain.EventLevelCompleted
	if outcome.CompletedAll {
		eventType = domain.EventHuntCompleted
	}
	event := domain.NewEvent(eventType, sub.GuildID, now)
	event.UserID = sub.UserID
	event.Username = sub.Username
	event.LevelID = level.ID
	event.PointsEarned = outcome.PointsEarned
	event.Bonus = outcome.Bonus
	event.TotalPoints = outcome.TotalPoints
	s.publish(ctx, event)

	log.Info("level completed",
		slog.Int("level_id", level.ID),
		slog.Int("points", outcome.PointsEarned),
		slog.Bool("first_blood", outcome.FirstBlood),
		slog.Bool("completed_all", outcome.CompletedAll))
	return outcome, nil
}

// saveAdvance writes the leaderboard entry, then the guarded progress update.
func (s *HuntService) saveAdvance(ctx context.Context, entry domain.LeaderboardEntry, next domain.Progress, expectedLevel int) error {
	err := s.progress.Advance(ctx, entry, next, expectedLevel)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNoActiveHunt) {
		return err
	}
	if errors.Is(err, domain.ErrProgressNotSaved) {
		s.log.Warn("progress not saved",
			slog.String("guild_id", next.GuildID),
			slog.String("user_id", next.UserID),
			slog.Int("expected_level", expectedLevel))
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrProgressNotSaved, err)
}

func (s *HuntService) publishFirstBlood(ctx context.Context, sub Submission, levelID int, outcome Outcome) {
	event := domain.NewEvent(domain.EventFirstBlood, sub.GuildID, s.now())
	event.UserID = sub.UserID
	event.Username = sub.Username
	event.LevelID = levelID
	event.PointsEarned = outcome.PointsEarned
	event.Bonus = outcome.Bonus
	event.TotalPoints = outcome.TotalPoints

	cfg, ok, err := s.hunts.AnnouncementChannel(ctx, sub.GuildID)
	if err != nil {
		s.log.Warn("load announcement channel failed", slog.String("guild_id", sub.GuildID), slog.Any("error", err))
	} else if ok {
		event.AnnounceChannel = cfg.ChannelID
	}
	s.publish(ctx, event)
}
