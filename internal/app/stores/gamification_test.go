package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
)

func seedBadges(e *env) {
	e.be.Seed(backend.TableBadges,
		backend.Row{"id": "starter", "name": "Starter", "threshold": 10},
		backend.Row{"id": "regular", "name": "Regular", "threshold": 50},
		backend.Row{"id": "veteran", "name": "Veteran", "threshold": 150},
	)
}

func badgeNotifications(e *env) int {
	n := 0
	for _, r := range e.be.Rows(backend.TableNotifications) {
		if r.String("type") == string(models.NotificationBadge) {
			n++
		}
	}
	return n
}

func TestGamificationStore_AwardGrantsBadgesOnce(t *testing.T) {
	e := newEnv(t, "alice")
	seedBadges(e)
	ctx := context.Background()

	p, err := e.gamification.AwardPoints(ctx, "alice", 10, "post")
	require.NoError(t, err)
	assert.Equal(t, 10, p.TotalPoints)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, []string{"starter"}, p.Badges)

	p, err = e.gamification.AwardPoints(ctx, "alice", 5, "comment")
	require.NoError(t, err)
	assert.Equal(t, 15, p.TotalPoints)
	assert.Equal(t, []string{"starter"}, p.Badges)

	assert.Len(t, e.be.Rows(backend.TableUserBadges), 1)
	assert.Equal(t, 1, badgeNotifications(e))
	assert.Len(t, e.be.Rows(backend.TableUserAchievements), 2)
}

func TestGamificationStore_LevelsFollowTotals(t *testing.T) {
	e := newEnv(t, "alice")
	seedBadges(e)

	p, err := e.gamification.AwardPoints(context.Background(), "alice", 160, "hackathon")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, []string{"starter", "regular", "veteran"}, p.Badges)
	assert.Equal(t, 3, badgeNotifications(e))
}

func TestGamificationStore_NegativePointsRejected(t *testing.T) {
	e := newEnv(t, "alice")

	_, err := e.gamification.AwardPoints(context.Background(), "alice", -5, "cheat")
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
	_, ok := e.gamification.Profile("alice")
	assert.False(t, ok)
	assert.Empty(t, e.be.Rows(backend.TableUserPoints))
}

func TestGamificationStore_AwardToOtherUserForbidden(t *testing.T) {
	e := newEnv(t, "alice")

	_, err := e.gamification.AwardPoints(context.Background(), "bob", 500, "gift")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, ok := e.gamification.Profile("bob")
	assert.False(t, ok)
	assert.Empty(t, e.be.Rows(backend.TableUserPoints))
	assert.Empty(t, e.be.Rows(backend.TableUserAchievements))
}

func TestGamificationStore_LoadProfileWithBadges(t *testing.T) {
	e := newEnv(t, "alice")
	e.be.Seed(backend.TableUserPoints, backend.Row{"user_id": "bob", "total_points": 230, "level": 3})
	e.be.Seed(backend.TableUserBadges, backend.Row{"user_id": "bob", "badge_id": "starter"})

	p, err := e.gamification.LoadProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 230, p.TotalPoints)
	assert.Equal(t, 3, p.Level)
	assert.True(t, p.HasBadge("starter"))

	empty, err := e.gamification.LoadProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalPoints)
	assert.Equal(t, 1, empty.Level)
}

func TestGamificationStore_Leaderboard(t *testing.T) {
	e := newEnv(t, "alice")
	e.be.Seed(backend.TableUserPoints,
		backend.Row{"user_id": "bob", "total_points": 120, "level": 2},
		backend.Row{"user_id": "carol", "total_points": 300, "level": 4},
		backend.Row{"user_id": "dave", "total_points": 10, "level": 1},
	)

	top, err := e.gamification.LoadLeaderboard(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "carol", top[0].UserID)
	assert.Equal(t, "bob", top[1].UserID)
}

func TestGamificationStore_AchievementsAndBadgePush(t *testing.T) {
	e := newEnv(t, "alice")
	ctx := context.Background()

	_, err := e.gamification.AwardPoints(ctx, "alice", 5, "comment")
	require.NoError(t, err)
	list, err := e.gamification.LoadAchievements(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "comment", list[0].Action)

	e.ingest.OnPush(backend.ChangeEvent{Table: backend.TableUserBadges, Type: backend.ChangeInsert, Record: backend.Row{
		"id": "ub1", "user_id": "alice", "badge_id": "helper",
	}})
	p, _ := e.gamification.Profile("alice")
	assert.True(t, p.HasBadge("helper"))
	assert.Equal(t, 5, p.TotalPoints)
}
