// Package aggregate derives counts, percentages and levels from cache contents.
//
// Every function is pure: it reads the values it is given and returns fresh
// results. Nothing is cached or incremented, so calling a function again
// after a duplicate write yields the same answer.
package aggregate

import (
	"math"
	"sort"

	"github.com/yigit/hackhub/internal/app/models"
)

// PointsPerLevel is the width of one level
const PointsPerLevel = 100

// Percentage returns round(count/total*100), or 0 when total is not positive
func Percentage(count, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}

// PollPercentages returns a copy of options with percentages derived from total
func PollPercentages(options []models.PollOption, total int) []models.PollOption {
	out := make([]models.PollOption, len(options))
	for i, o := range options {
		o.Percentage = Percentage(o.VoteCount, total)
		out[i] = o
	}
	return out
}

// RecomputePoll returns p with TotalVotes set to the sum of option counts and
// every percentage derived from it
func RecomputePoll(p models.Poll) models.Poll {
	total := 0
	for _, o := range p.Options {
		total += o.VoteCount
	}
	p.TotalVotes = total
	p.Options = PollPercentages(p.Options, total)
	return p
}

// UnreadNotifications counts the notifications that are not read
func UnreadNotifications(notifications []models.Notification) int {
	n := 0
	for _, item := range notifications {
		if !item.Read {
			n++
		}
	}
	return n
}

// UnreadFrom counts unread messages sent by counterparty to me
func UnreadFrom(messages []models.Message, me, counterparty string) int {
	n := 0
	for _, m := range messages {
		if !m.Read && m.SenderID == counterparty && m.ReceiverID == me {
			n++
		}
	}
	return n
}

// Conversations groups messages involving me by counterparty, newest first
func Conversations(messages []models.Message, me string) []models.Conversation {
	byParty := make(map[string]*models.Conversation)
	for _, m := range messages {
		if m.SenderID != me && m.ReceiverID != me {
			continue
		}
		party := m.Counterparty(me)
		conv, ok := byParty[party]
		if !ok {
			conv = &models.Conversation{Counterparty: party, LastMessage: m}
			byParty[party] = conv
		}
		if m.CreatedAt.After(conv.LastMessage.CreatedAt) {
			conv.LastMessage = m
		}
		if !m.Read && m.SenderID == party && m.ReceiverID == me {
			conv.UnreadCount++
		}
	}

	out := make([]models.Conversation, 0, len(byParty))
	for _, conv := range byParty {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage.CreatedAt, out[j].LastMessage.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].Counterparty < out[j].Counterparty
	})
	return out
}

// UnreadMessages counts unread messages addressed to me across conversations
func UnreadMessages(messages []models.Message, me string) int {
	n := 0
	for _, m := range messages {
		if !m.Read && m.ReceiverID == me && m.SenderID != me {
			n++
		}
	}
	return n
}

// Level returns floor(points/100)+1; negative totals count as zero
func Level(points int) int {
	if points < 0 {
		points = 0
	}
	return points/PointsPerLevel + 1
}

// PointsToNextLevel returns the point total at which the next level starts
func PointsToNextLevel(points int) int {
	return Level(points) * PointsPerLevel
}

// LevelProgress returns how far points are into the current level, 0..99
func LevelProgress(points int) int {
	if points < 0 {
		return 0
	}
	return points % PointsPerLevel
}

// EligibleBadges returns the badges whose threshold points meets and that
// are not in held, ordered by threshold then id
func EligibleBadges(points int, badges []models.Badge, held []string) []models.Badge {
	heldSet := make(map[string]struct{}, len(held))
	for _, id := range held {
		heldSet[id] = struct{}{}
	}

	var out []models.Badge
	for _, b := range badges {
		if _, ok := heldSet[b.ID]; ok {
			continue
		}
		if points >= b.Threshold {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Threshold != out[j].Threshold {
			return out[i].Threshold < out[j].Threshold
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WithLevel returns p with Level derived from TotalPoints
func WithLevel(p models.Profile) models.Profile {
	p.Level = Level(p.TotalPoints)
	return p
}
