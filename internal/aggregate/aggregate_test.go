package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/app/models"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, 1, Level(0))
	assert.Equal(t, 1, Level(99))
	assert.Equal(t, 2, Level(100))
	assert.Equal(t, 3, Level(250))
	assert.Equal(t, 1, Level(-10))

	assert.Equal(t, 100, PointsToNextLevel(0))
	assert.Equal(t, 300, PointsToNextLevel(250))
	assert.Equal(t, 50, LevelProgress(250))
}

func TestPercentage_ZeroTotal(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 0, Percentage(3, 0))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 67, Percentage(2, 3))
}

func TestRecomputePoll_TotalsAndPercentages(t *testing.T) {
	p := RecomputePoll(models.Poll{Options: []models.PollOption{
		{ID: "a", VoteCount: 1},
		{ID: "b", VoteCount: 1},
		{ID: "c", VoteCount: 2},
	}})

	assert.Equal(t, 4, p.TotalVotes)
	assert.Equal(t, []int{25, 25, 50}, []int{p.Options[0].Percentage, p.Options[1].Percentage, p.Options[2].Percentage})
}

func TestRecomputePoll_NoVotes(t *testing.T) {
	p := RecomputePoll(models.Poll{Options: []models.PollOption{{ID: "a"}, {ID: "b"}}})

	assert.Equal(t, 0, p.TotalVotes)
	for _, o := range p.Options {
		assert.Equal(t, 0, o.Percentage)
	}
}

func TestRecomputePoll_PercentageSumInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(8)
		options := make([]models.PollOption, n)
		for i := range options {
			options[i] = models.PollOption{VoteCount: rng.Intn(50)}
		}
		p := RecomputePoll(models.Poll{Options: options})

		sum := 0
		for _, o := range p.Options {
			sum += o.Percentage
		}
		if p.TotalVotes == 0 {
			assert.Equal(t, 0, sum)
			continue
		}
		// each option rounds by at most half a point
		assert.InDelta(t, 100, sum, float64(n)/2+0.001, "round %d", round)
	}
}

func TestRecomputePoll_Idempotent(t *testing.T) {
	p := models.Poll{Options: []models.PollOption{{ID: "a", VoteCount: 3}, {ID: "b", VoteCount: 1}}}
	once := RecomputePoll(p)
	assert.Equal(t, once, RecomputePoll(once))
}

func TestUnreadNotifications(t *testing.T) {
	assert.Equal(t, 2, UnreadNotifications([]models.Notification{
		{ID: "1"}, {ID: "2", Read: true}, {ID: "3"},
	}))
	assert.Equal(t, 0, UnreadNotifications(nil))
}

func TestConversations(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "1", SenderID: "bob", ReceiverID: "me", CreatedAt: base},
		{ID: "2", SenderID: "me", ReceiverID: "bob", CreatedAt: base.Add(time.Minute), Read: true},
		{ID: "3", SenderID: "bob", ReceiverID: "me", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "4", SenderID: "carol", ReceiverID: "me", CreatedAt: base.Add(3 * time.Minute), Read: true},
		{ID: "5", SenderID: "x", ReceiverID: "y", CreatedAt: base.Add(4 * time.Minute)},
	}

	convs := Conversations(msgs, "me")
	require.Len(t, convs, 2)

	assert.Equal(t, "carol", convs[0].Counterparty)
	assert.Equal(t, 0, convs[0].UnreadCount)

	assert.Equal(t, "bob", convs[1].Counterparty)
	assert.Equal(t, "3", convs[1].LastMessage.ID)
	assert.Equal(t, 2, convs[1].UnreadCount)
	assert.Equal(t, UnreadFrom(msgs, "me", "bob"), convs[1].UnreadCount)
	assert.Equal(t, 2, UnreadMessages(msgs, "me"))
}

func TestEligibleBadges(t *testing.T) {
	badges := []models.Badge{
		{ID: "veteran", Threshold: 500},
		{ID: "starter", Threshold: 10},
		{ID: "regular", Threshold: 100},
	}

	got := EligibleBadges(120, badges, []string{"starter"})
	require.Len(t, got, 1)
	assert.Equal(t, "regular", got[0].ID)

	// same held set twice gives the same answer
	assert.Equal(t, got, EligibleBadges(120, badges, []string{"starter"}))
	assert.Empty(t, EligibleBadges(120, badges, []string{"starter", "regular"}))

	all := EligibleBadges(1000, badges, nil)
	assert.Equal(t, []string{"starter", "regular", "veteran"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestWithLevel(t *testing.T) {
	p := WithLevel(models.Profile{TotalPoints: 250})
	assert.Equal(t, 3, p.Level)
}
