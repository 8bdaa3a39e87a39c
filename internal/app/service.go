package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cryptic-hunt-service/internal/domain"
	"cryptic-hunt-service/internal/logging"
)

// Options tunes scoring and lifecycle behaviour.
type Options struct {
	FirstBloodBonus        int
	DefaultPoints          int
	LeaderboardSize        int
	ResetProgressOnReplace bool
}

func (o Options) withDefaults() Options {
	if o.FirstBloodBonus <= 0 {
		o.FirstBloodBonus = domain.DefaultFirstBloodBonus
	}
	if o.DefaultPoints <= 0 {
		o.DefaultPoints = domain.DefaultLevelPoints
	}
	if o.LeaderboardSize <= 0 {
		o.LeaderboardSize = 15
	}
	return o
}

// Deps are the collaborators of HuntService. Publisher, Policy, Logger and
// Clock are optional.
type Deps struct {
	Progress    ProgressStore
	Leaderboard LeaderboardIndex
	FirstBlood  FirstBloodArbiter
	Hunts       HuntStore
	Cache       HuntRepository
	Publisher   Publisher
	Policy      Policy
	Logger      *slog.Logger
	Clock       func() time.Time
}

// HuntService contains the hunt use cases: answer submission, lifecycle
// management and the read-side queries.
type HuntService struct {
	progress    ProgressStore
	leaderboard LeaderboardIndex
	firstBlood  FirstBloodArbiter
	hunts       HuntStore
	cache       HuntRepository
	publisher   Publisher
	policy      Policy
	log         *slog.Logger
	clock       func() time.Time
	opts        Options
}

func NewHuntService(deps Deps, opts Options) *HuntService {
	s := &HuntService{
		progress:    deps.Progress,
		leaderboard: deps.Leaderboard,
		firstBlood:  deps.FirstBlood,
		hunts:       deps.Hunts,
		cache:       deps.Cache,
		publisher:   deps.Publisher,
		policy:      deps.Policy,
		log:         logging.OrDefault(deps.Logger),
		clock:       deps.Clock,
		opts:        opts.withDefaults(),
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.policy == nil {
		s.policy = NewAllowList()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func (s *HuntService) now() time.Time {
	return s.clock().UTC()
}

func (s *HuntService) authorize(ctx context.Context, guildID, actor string, action Action) error {
	if s.policy.Allow(ctx, actor, action) {
		return nil
	}
	s.log.Info("action denied",
		slog.String("guild_id", guildID),
		slog.String("actor", actor),
		slog.String("action", string(action)))
	return domain.ErrNotPermitted
}

func (s *HuntService) pointsFor(level domain.Level) int {
	return level.PointValue(s.opts.DefaultPoints)
}

// initProgress wraps GetOrInitialize. A store that has no active hunt while
// the cache still has one means the cached copy is stale.
func (s *HuntService) initProgress(ctx context.Context, userID, guildID string) (domain.Progress, error) {
	progress, err := s.progress.GetOrInitialize(ctx, userID, guildID)
	if errors.Is(err, domain.ErrNoActiveHunt) {
		s.cache.Invalidate(ctx, guildID)
	}
	return progress, err
}

// playable loads the active hunt and rejects paused guilds.
func (s *HuntService) playable(ctx context.Context, guildID string) (domain.Hunt, error) {
	hunt, err := s.cache.GetHunt(ctx, guildID)
	if err != nil {
		return domain.Hunt{}, err
	}
	state, err := s.hunts.PauseState(ctx, guildID)
	if err != nil {
		return domain.Hunt{}, err
	}
	if state.Paused {
		return domain.Hunt{}, domain.ErrHuntPaused
	}
	return hunt, nil
}

func (s *HuntService) publish(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("publish event failed",
			slog.String("guild_id", event.GuildID),
			slog.String("type", string(event.Type)),
			slog.Any("error", err))
	}
}

// isExpected reports whether err is a user-visible outcome rather than a failure.
func isExpected(err error) bool {
	return errors.Is(err, domain.ErrNoActiveHunt) ||
		errors.Is(err, domain.ErrHuntPaused) ||
		errors.Is(err, domain.ErrAllLevelsCompleted) ||
		errors.Is(err, domain.ErrNotPermitted) ||
		errors.Is(err, domain.ErrProgressNotFound) ||
		errors.Is(err, domain.ErrNotRanked) ||
		errors.Is(err, domain.ErrNoHint)
}

// IsExpected reports whether err is an expected outcome (no hunt, paused, not
// permitted, ...) that callers should show to the user instead of logging as
// a failure.
func IsExpected(err error) bool {
	var verr *domain.ValidationError
	return isExpected(err) || errors.As(err, &verr)
}
