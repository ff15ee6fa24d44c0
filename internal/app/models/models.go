package models

import (
	"slices"
	"time"
)

// Identity is the acting user. Other entities reference it by id only.
type Identity struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" db:"avatar_url"`
}

// User is a row of the users table
type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Identity returns the reference view of the user
func (u User) Identity() Identity {
	return Identity{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

// TempIDPrefix marks ids synthesized for optimistic creates
const TempIDPrefix = "tmp-"

// IsTempID reports whether id was synthesized locally
func IsTempID(id string) bool {
	return len(id) > len(TempIDPrefix) && id[:len(TempIDPrefix)] == TempIDPrefix
}

func withString(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	out := make([]string, len(list), len(list)+1)
	copy(out, list)
	return append(out, s)
}

func withoutString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
