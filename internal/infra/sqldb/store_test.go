package sqldb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cryptic-hunt-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "hunt.db"), WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func sampleHunt(guildID string) domain.Hunt {
	return domain.Hunt{
		GuildID:   guildID,
		CreatedBy: "admin",
		CreatedAt: testNow,
		Definition: domain.HuntDefinition{
			Name: "Cicada",
			Levels: []domain.Level{
				{ID: 1, Question: "first", Answers: domain.Answers{"one"}},
				{ID: 2, Question: "second", Answers: domain.Answers{"two"}, Points: 200},
			},
		},
	}
}

func withHunt(t *testing.T, s *Store, guildID string) {
	t.Helper()
	if err := s.ReplaceHunt(context.Background(), sampleHunt(guildID), false); err != nil {
		t.Fatalf("replace hunt: %v", err)
	}
}

func countRows(t *testing.T, s *Store, table, guildID string) int {
	t.Helper()
	n, err := s.DB().NewSelect().Table(table).Where("guild_id = ?", guildID).Count(context.Background())
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// seedGuild gives the guild a hunt, a paused flag and one player with history.
func seedGuild(t *testing.T, s *Store, guildID, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := s.ReplaceHunt(ctx, sampleHunt(guildID), false); err != nil {
		t.Fatalf("replace hunt: %v", err)
	}
	p, err := s.GetOrInitialize(ctx, userID, guildID)
	if err != nil {
		t.Fatalf("init progress: %v", err)
	}
	p.Level, p.Points = 2, 100
	if err := s.Update(ctx, p, 1); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := s.RecordCompletion(ctx, domain.CompletedLevel{UserID: userID, GuildID: guildID, LevelID: 1, CompletedAt: testNow, PointsEarned: 100}); err != nil {
		t.Fatalf("record completion: %v", err)
	}
	if err := s.Upsert(ctx, domain.LeaderboardEntry{UserID: userID, GuildID: guildID, Username: userID, Points: 100, Level: 2, StartTime: testNow, LastCompleted: testNow}); err != nil {
		t.Fatalf("upsert leaderboard: %v", err)
	}
	if _, err := s.Claim(ctx, domain.FirstBlood{GuildID: guildID, LevelID: 1, UserID: userID, Username: userID, CompletedAt: testNow}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.SetPaused(ctx, domain.PauseState{GuildID: guildID, Paused: true, PausedBy: "admin", PausedAt: testNow}); err != nil {
		t.Fatalf("pause: %v", err)
	}
}

func TestGetOrInitializeConcurrentCreatesOneRow(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			p, err := s.GetOrInitialize(ctx, "u1", "g1")
			if err != nil {
				return err
			}
			if p.Level != 1 || p.Points != 0 || len(p.HintsUsed) != 0 {
				return fmt.Errorf("unexpected initial progress %+v", p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent init: %v", err)
	}
	if n := countRows(t, s, "user_progress", "g1"); n != 1 {
		t.Fatalf("expected one progress row, got %d", n)
	}
}

func TestGetMissingProgress(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nobody", "g1"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected ErrProgressNotFound, got %v", err)
	}
}

func TestUpdateGuardsExpectedLevel(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()
	p, err := s.GetOrInitialize(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	p.Level, p.Points = 2, 100
	if err := s.Update(ctx, p, 1); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// A second advance computed from the stale level must not apply.
	p.Level, p.Points = 2, 200
	if err := s.Update(ctx, p, 1); !errors.Is(err, domain.ErrProgressNotSaved) {
		t.Fatalf("expected ErrProgressNotSaved, got %v", err)
	}
	got, err := s.Get(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Level != 2 || got.Points != 100 {
		t.Fatalf("unexpected progress %+v", got)
	}
}

func TestAdjustPointsClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()
	if _, err := s.GetOrInitialize(ctx, "u1", "g1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	p, err := s.AdjustPoints(ctx, "u1", "g1", 120)
	if err != nil || p.Points != 120 {
		t.Fatalf("add points: %+v %v", p, err)
	}
	p, err = s.AdjustPoints(ctx, "u1", "g1", -500)
	if err != nil || p.Points != 0 {
		t.Fatalf("expected clamp to zero, got %+v %v", p, err)
	}
	if _, err := s.AdjustPoints(ctx, "ghost", "g1", 10); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected ErrProgressNotFound, got %v", err)
	}
}

func TestMalformedHintsRecoverToEmpty(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()
	if _, err := s.GetOrInitialize(ctx, "u1", "g1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE user_progress SET hint_used = 'not json' WHERE user_id = ?`, "u1"); err != nil {
		t.Fatalf("corrupt hints: %v", err)
	}
	p, err := s.Get(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.HintsUsed) != 0 {
		t.Fatalf("expected empty hints, got %v", p.HintsUsed)
	}

	p, err = s.RecordHint(ctx, "u1", "g1", 1)
	if err != nil {
		t.Fatalf("record hint: %v", err)
	}
	if _, err := s.RecordHint(ctx, "u1", "g1", 1); err != nil {
		t.Fatalf("record hint again: %v", err)
	}
	p, _ = s.Get(ctx, "u1", "g1")
	if len(p.HintsUsed) != 1 || p.HintsUsed[0] != 1 {
		t.Fatalf("expected hint 1 recorded once, got %v", p.HintsUsed)
	}
}

func TestCompletedLevelsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	withHunt(t, s, "g1")
	for i, id := range []int{3, 1, 2} {
		c := domain.CompletedLevel{UserID: "u1", GuildID: "g1", LevelID: id, CompletedAt: testNow.Add(time.Duration(id) * time.Minute), PointsEarned: 100 * (i + 1)}
		if err := s.RecordCompletion(ctx, c); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := s.CompletedLevels(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[0].LevelID != 1 || got[2].LevelID != 3 {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got[0].CompletedAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("expected millis round trip, got %s", got[0].CompletedAt)
	}
}

func TestClaimConcurrentExactlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		user := fmt.Sprintf("u%d", i)
		g.Go(func() error {
			won, err := s.Claim(ctx, domain.FirstBlood{GuildID: "g1", LevelID: 4, UserID: user, Username: user, CompletedAt: testNow})
			if err != nil {
				return err
			}
			if won {
				wins.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	fb, ok, err := s.AlreadyClaimed(ctx, "g1", 4)
	if err != nil || !ok || fb.UserID == "" {
		t.Fatalf("expected stored record, got %+v ok=%v err=%v", fb, ok, err)
	}
	if _, ok, _ := s.AlreadyClaimed(ctx, "g1", 5); ok {
		t.Fatalf("level 5 must be unclaimed")
	}
}

func TestRankOfTieBreaksOnLastCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entries := []domain.LeaderboardEntry{
		{UserID: "B", GuildID: "g1", Points: 300, Level: 4, LastCompleted: testNow.Add(2 * time.Minute)},
		{UserID: "C", GuildID: "g1", Points: 100, Level: 2, LastCompleted: testNow},
		{UserID: "A", GuildID: "g1", Points: 300, Level: 4, LastCompleted: testNow.Add(time.Minute)},
		{UserID: "X", GuildID: "other", Points: 900, Level: 9, LastCompleted: testNow},
	}
	for _, e := range entries {
		if err := s.Upsert(ctx, e); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	want := map[string]int{"A": 1, "B": 2, "C": 3}
	for user, rank := range want {
		got, err := s.RankOf(ctx, user, "g1")
		if err != nil {
			t.Fatalf("rank %s: %v", user, err)
		}
		if got != rank {
			t.Fatalf("rank of %s = %d, want %d", user, got, rank)
		}
	}

	top, err := s.TopN(ctx, "g1", 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "A" || top[1].UserID != "B" || top[1].Rank != 2 {
		t.Fatalf("unexpected top %+v", top)
	}
	if _, err := s.RankOf(ctx, "nobody", "g1"); !errors.Is(err, domain.ErrNotRanked) {
		t.Fatalf("expected ErrNotRanked, got %v", err)
	}
}

func TestUpsertReplacesEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := domain.LeaderboardEntry{UserID: "u1", GuildID: "g1", Username: "old", Points: 100, Level: 2, LastCompleted: testNow}
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e.Username, e.Points = "new", 250
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, err := s.Entry(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if got.Username != "new" || got.Points != 250 {
		t.Fatalf("unexpected entry %+v", got)
	}
	if err := s.Clear(ctx, "g1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := countRows(t, s, "leaderboard", "g1"); n != 0 {
		t.Fatalf("expected cleared leaderboard, got %d", n)
	}
}

func TestAdvanceRollsBackEntryWhenGuardFails(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()
	p, err := s.GetOrInitialize(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	next := p
	next.Level, next.Points = 2, 100
	entry := domain.LeaderboardEntry{UserID: "u1", GuildID: "g1", Username: "u1", Points: 100, Level: 2, LastCompleted: testNow}
	if err := s.Advance(ctx, entry, next, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	stale := entry
	stale.Points = 999
	next.Points = 999
	if err := s.Advance(ctx, stale, next, 1); !errors.Is(err, domain.ErrProgressNotSaved) {
		t.Fatalf("expected ErrProgressNotSaved, got %v", err)
	}
	got, err := s.Entry(ctx, "u1", "g1")
	if err != nil || got.Points != 100 {
		t.Fatalf("expected entry rolled back to 100, got %+v %v", got, err)
	}
}

func TestWritesRequireActiveHunt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrInitialize(ctx, "u1", "g1"); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("init: expected ErrNoActiveHunt, got %v", err)
	}
	entry := domain.LeaderboardEntry{UserID: "u1", GuildID: "g1", Points: 100, Level: 2, LastCompleted: testNow}
	next := domain.Progress{UserID: "u1", GuildID: "g1", Level: 2, Points: 100}
	if err := s.Advance(ctx, entry, next, 1); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("advance: expected ErrNoActiveHunt, got %v", err)
	}
	if _, err := s.Claim(ctx, domain.FirstBlood{GuildID: "g1", LevelID: 1, UserID: "u1", CompletedAt: testNow}); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("claim: expected ErrNoActiveHunt, got %v", err)
	}
	if _, err := s.AwardBonus(ctx, "u1", "g1", 50); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("bonus: expected ErrNoActiveHunt, got %v", err)
	}
	if err := s.RecordCompletion(ctx, domain.CompletedLevel{UserID: "u1", GuildID: "g1", LevelID: 1, CompletedAt: testNow}); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("completion: expected ErrNoActiveHunt, got %v", err)
	}
	for _, table := range []string{"user_progress", "leaderboard", "first_blood_records", "completed_levels"} {
		if n := countRows(t, s, table, "g1"); n != 0 {
			t.Fatalf("expected no %s rows without a hunt, got %d", table, n)
		}
	}

	// the same holds once a hunt has been torn down
	seedGuild(t, s, "g2", "u1")
	if err := s.Teardown(ctx, "g2"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if _, err := s.GetOrInitialize(ctx, "u2", "g2"); !errors.Is(err, domain.ErrNoActiveHunt) {
		t.Fatalf("init after teardown: expected ErrNoActiveHunt, got %v", err)
	}
	if n := countRows(t, s, "user_progress", "g2"); n != 0 {
		t.Fatalf("expected no progress rows after teardown, got %d", n)
	}
}

func TestAwardBonusKeepsInterveningAdvance(t *testing.T) {
	s := newTestStore(t)
	withHunt(t, s, "g1")
	ctx := context.Background()
	p, err := s.GetOrInitialize(ctx, "u1", "g1")
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	first := p
	first.Level, first.Points = 2, 100
	entry := domain.LeaderboardEntry{UserID: "u1", GuildID: "g1", Username: "u1", Points: 100, Level: 2, LastCompleted: testNow}
	if err := s.Advance(ctx, entry, first, 1); err != nil {
		t.Fatalf("advance level 1: %v", err)
	}
	// level 2 lands before the level 1 bonus is written
	second := first
	second.Level, second.Points = 3, 300
	entry.Level, entry.Points = 3, 300
	if err := s.Advance(ctx, entry, second, 2); err != nil {
		t.Fatalf("advance level 2: %v", err)
	}

	got, err := s.AwardBonus(ctx, "u1", "g1", 50)
	if err != nil {
		t.Fatalf("award bonus: %v", err)
	}
	if got.Level != 3 || got.Points != 350 {
		t.Fatalf("expected level 3 with 350 points, got %+v", got)
	}
	board, err := s.Entry(ctx, "u1", "g1")
	if err != nil || board.Points != 350 || board.Level != 3 {
		t.Fatalf("expected leaderboard at 350, got %+v %v", board, err)
	}
	if _, err := s.AwardBonus(ctx, "ghost", "g1", 50); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected ErrProgressNotFound, got %v", err)
	}
}
