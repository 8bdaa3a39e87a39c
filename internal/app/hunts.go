package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cryptic-hunt-service/internal/domain"
)

// finalStandingsSize is how many entries End reports.
const finalStandingsSize = 10

// CreateHunt validates def and makes it the guild's active hunt, replacing any
// previous one. First-blood records are always cleared; player state only
// when the service is configured to reset on replace. Retrying after a partial
// failure is safe.
func (s *HuntService) CreateHunt(ctx context.Context, guildID, actor string, def domain.HuntDefinition) (domain.Hunt, error) {
	if err := s.authorize(ctx, guildID, actor, ActionSetup); err != nil {
		return domain.Hunt{}, err
	}
	if problems := domain.ValidateHunt(def); len(problems) > 0 {
		return domain.Hunt{}, &domain.ValidationError{Problems: problems}
	}

	hunt := domain.Hunt{
		GuildID:    guildID,
		Definition: def,
		CreatedBy:  actor,
		CreatedAt:  s.now(),
		Active:     true,
	}
	if err := s.hunts.DropBackupTables(ctx); err != nil {
		return domain.Hunt{}, err
	}
	err := s.hunts.ReplaceHunt(ctx, hunt, s.opts.ResetProgressOnReplace)
	s.cache.Invalidate(ctx, guildID)
	if err != nil {
		return domain.Hunt{}, err
	}

	event := domain.NewEvent(domain.EventHuntCreated, guildID, hunt.CreatedAt)
	event.UserID = actor
	s.publish(ctx, event)
	s.log.Info("hunt created",
		slog.String("guild_id", guildID),
		slog.String("name", def.Name),
		slog.Int("levels", len(def.Levels)))
	return hunt, nil
}

// DeleteHunt tears down the guild's hunt and every dependent record atomically.
func (s *HuntService) DeleteHunt(ctx context.Context, guildID, actor string) error {
	if err := s.authorize(ctx, guildID, actor, ActionDelete); err != nil {
		return err
	}
	if err := s.teardown(ctx, guildID); err != nil {
		return err
	}
	event := domain.NewEvent(domain.EventHuntDeleted, guildID, s.now())
	event.UserID = actor
	s.publish(ctx, event)
	return nil
}

// EndHunt captures the final standings and then tears the hunt down.
func (s *HuntService) EndHunt(ctx context.Context, guildID, actor string) ([]domain.LeaderboardEntry, error) {
	if err := s.authorize(ctx, guildID, actor, ActionEnd); err != nil {
		return nil, err
	}
	if _, err := s.cache.GetHunt(ctx, guildID); err != nil {
		return nil, err
	}
	standings, err := s.leaderboard.TopN(ctx, guildID, finalStandingsSize)
	if err != nil {
		return nil, err
	}
	if err := s.teardown(ctx, guildID); err != nil {
		return nil, err
	}
	event := domain.NewEvent(domain.EventHuntEnded, guildID, s.now())
	event.UserID = actor
	s.publish(ctx, event)
	return standings, nil
}

func (s *HuntService) teardown(ctx context.Context, guildID string) error {
	err := s.hunts.Teardown(ctx, guildID)
	s.cache.Invalidate(ctx, guildID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoActiveHunt) {
			s.log.Error("teardown failed", slog.String("guild_id", guildID), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// Pause stops play in the guild. Pausing a paused hunt reports changed=false.
func (s *HuntService) Pause(ctx context.Context, guildID, actor string) (bool, error) {
	return s.setPaused(ctx, guildID, actor, true)
}

// Resume restarts play. Resuming a running hunt reports changed=false.
func (s *HuntService) Resume(ctx context.Context, guildID, actor string) (bool, error) {
	return s.setPaused(ctx, guildID, actor, false)
}

func (s *HuntService) setPaused(ctx context.Context, guildID, actor string, paused bool) (bool, error) {
	action, eventType := ActionResume, domain.EventHuntResumed
	if paused {
		action, eventType = ActionPause, domain.EventHuntPaused
	}
	if err := s.authorize(ctx, guildID, actor, action); err != nil {
		return false, err
	}
	if _, err := s.cache.GetHunt(ctx, guildID); err != nil {
		return false, err
	}
	state, err := s.hunts.PauseState(ctx, guildID)
	if err != nil {
		return false, err
	}
	if state.Paused == paused {
		return false, nil
	}
	now := s.now()
	if err := s.hunts.SetPaused(ctx, domain.PauseState{
		GuildID:  guildID,
		Paused:   paused,
		PausedBy: actor,
		PausedAt: now,
	}); err != nil {
		return false, err
	}
	event := domain.NewEvent(eventType, guildID, now)
	event.UserID = actor
	s.publish(ctx, event)
	return true, nil
}

// KickResult describes what a kick removed.
type KickResult struct {
	Removed bool `json:"removed"`
	Level   int  `json:"level,omitempty"`
	Points  int  `json:"points,omitempty"`
}

// Kick removes a participant's progress, completions and leaderboard entry.
// Participants who never advanced are left alone.
func (s *HuntService) Kick(ctx context.Context, guildID, actor, userID string) (KickResult, error) {
	if err := s.authorize(ctx, guildID, actor, ActionKick); err != nil {
		return KickResult{}, err
	}
	progress, err := s.progress.Get(ctx, userID, guildID)
	if errors.Is(err, domain.ErrProgressNotFound) {
		return KickResult{}, nil
	}
	if err != nil {
		return KickResult{}, err
	}
	if progress.Untouched() {
		return KickResult{}, nil
	}
	if err := s.hunts.Kick(ctx, userID, guildID); err != nil {
		return KickResult{}, err
	}

	event := domain.NewEvent(domain.EventParticipantKicked, guildID, s.now())
	event.UserID = userID
	event.TotalPoints = progress.Points
	s.publish(ctx, event)
	s.log.Info("participant kicked",
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("actor", actor))
	return KickResult{Removed: true, Level: progress.Level, Points: progress.Points}, nil
}

// HuntStatus summarizes a guild's hunt.
type HuntStatus struct {
	Active      bool      `json:"active"`
	Paused      bool      `json:"paused"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Levels      int       `json:"levels,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	PausedBy    string    `json:"pausedBy,omitempty"`
}

// Status reports whether the guild has a hunt and whether it is paused.
func (s *HuntService) Status(ctx context.Context, guildID string) (HuntStatus, error) {
	hunt, err := s.cache.GetHunt(ctx, guildID)
	if errors.Is(err, domain.ErrNoActiveHunt) {
		return HuntStatus{}, nil
	}
	if err != nil {
		return HuntStatus{}, err
	}
	state, err := s.hunts.PauseState(ctx, guildID)
	if err != nil {
		return HuntStatus{}, err
	}
	return HuntStatus{
		Active:      true,
		Paused:      state.Paused,
		Name:        hunt.Definition.Name,
		Description: hunt.Definition.Description,
		Levels:      len(hunt.Definition.Levels),
		CreatedBy:   hunt.CreatedBy,
		CreatedAt:   hunt.CreatedAt,
		PausedBy:    state.PausedBy,
	}, nil
}

// SetAnnouncementChannel configures where first-blood events are announced.
func (s *HuntService) SetAnnouncementChannel(ctx context.Context, guildID, actor, channelID string) error {
	if err := s.authorize(ctx, guildID, actor, ActionConfigure); err != nil {
		return err
	}
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	return s.hunts.SetAnnouncementChannel(ctx, domain.AnnouncementConfig{
		GuildID:   guildID,
		ChannelID: channelID,
		SetupBy:   actor,
		SetupAt:   s.now(),
	})
}

// AdjustPoints adds delta (which may be negative) to a participant's points,
// clamping at zero, and refreshes their leaderboard entry.
func (s *HuntService) AdjustPoints(ctx context.Context, guildID, actor, userID string, delta int) (domain.Progress, error) {
	if err := s.authorize(ctx, guildID, actor, ActionAdjustPoints); err != nil {
		return domain.Progress{}, err
	}
	progress, err := s.progress.AdjustPoints(ctx, userID, guildID, delta)
	if err != nil {
		return domain.Progress{}, err
	}

	username := userID
	entry, err := s.leaderboard.Entry(ctx, userID, guildID)
	switch {
	case err == nil:
		username = entry.Username
	case !errors.Is(err, domain.ErrNotRanked):
		return domain.Progress{}, err
	}
	if err := s.leaderboard.Upsert(ctx, domain.LeaderboardEntry{
		UserID:        userID,
		GuildID:       guildID,
		Username:      username,
		Points:        progress.Points,
		Level:         progress.Level,
		StartTime:     progress.StartTime,
		LastCompleted: s.now(),
	}); err != nil {
		return domain.Progress{}, err
	}
	s.log.Info("points adjusted",
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.Int("delta", delta),
		slog.Int("points", progress.Points))
	return progress, nil
}

// LevelAnswers is one level as the organisers see it.
type LevelAnswers struct {
	ID       int      `json:"id"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Points   int      `json:"points"`
}

// Answers lists every level of the active hunt with its accepted answers.
func (s *HuntService) Answers(ctx context.Context, guildID, actor string) ([]LevelAnswers, error) {
	if err := s.authorize(ctx, guildID, actor, ActionViewAnswers); err != nil {
		return nil, err
	}
	hunt, err := s.cache.GetHunt(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]LevelAnswers, 0, len(hunt.Definition.Levels))
	for _, level := range hunt.Definition.Levels {
		out = append(out, LevelAnswers{
			ID:       level.ID,
			Question: level.Question,
			Answers:  append([]string(nil), level.Answers...),
			Points:   s.pointsFor(level),
		})
	}
	return out, nil
}
