package models

import (
	"slices"
	"time"
)

// Profile is the gamification state of one identity
type Profile struct {
	UserID      string   `json:"user_id" db:"user_id"`
	TotalPoints int      `json:"total_points" db:"total_points"`
	Level       int      `json:"level" db:"level"`
	Badges      []string `json:"badges"`
}

// HasBadge reports whether badgeID is already held
func (p Profile) HasBadge(badgeID string) bool {
	return slices.Contains(p.Badges, badgeID)
}

// WithBadge returns a copy of p holding badgeID
func (p Profile) WithBadge(badgeID string) Profile {
	p.Badges = withString(p.Badges, badgeID)
	return p
}

// Badge is an achievement unlocked at a points threshold
type Badge struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Threshold   int    `json:"threshold" db:"threshold"`
}

// UserBadge is a row of user_badges
type UserBadge struct {
	ID       string    `json:"id" db:"id"`
	UserID   string    `json:"user_id" db:"user_id"`
	BadgeID  string    `json:"badge_id" db:"badge_id"`
	EarnedAt time.Time `json:"earned_at" db:"earned_at"`
}

// Achievement records one points award
type Achievement struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Action    string    `json:"action" db:"action"`
	Points    int       `json:"points" db:"points"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Point values awarded by the stores
const (
	PointsPost    = 10
	PointsComment = 5
	PointsTopic   = 10
	PointsReply   = 5
	PointsVote    = 1
)
