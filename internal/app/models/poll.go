package models

import (
	"slices"
	"time"
)

// Poll is a vote artifact owned by a container
type Poll struct {
	ID               string       `json:"id" db:"id"`
	OwnerID          string       `json:"owner_id" db:"owner_id"`
	CreatedBy        string       `json:"created_by" db:"created_by"`
	Question         string       `json:"question" db:"question"`
	IsMultipleChoice bool         `json:"is_multiple_choice" db:"is_multiple_choice"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	Options          []PollOption `json:"options"`
	TotalVotes       int          `json:"total_votes"`
	// UserVotes holds the option ids the current identity voted for
	UserVotes []string `json:"user_votes"`
}

// Option returns the option with id
func (p Poll) Option(id string) (PollOption, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return PollOption{}, false
}

// HasVoted reports whether the current identity voted for optionID,
// or for any option when optionID is empty
func (p Poll) HasVoted(optionID string) bool {
	if optionID == "" {
		return len(p.UserVotes) > 0
	}
	return slices.Contains(p.UserVotes, optionID)
}

// WithVote returns a copy of p with one more vote on optionID by the current identity
func (p Poll) WithVote(optionID string) Poll {
	return p.WithCount(optionID).WithUserVote(optionID)
}

// WithCount returns a copy of p with one more vote counted on optionID
func (p Poll) WithCount(optionID string) Poll {
	options := make([]PollOption, len(p.Options))
	copy(options, p.Options)
	for i := range options {
		if options[i].ID == optionID {
			options[i].VoteCount++
		}
	}
	p.Options = options
	return p
}

// WithUserVote returns a copy of p marking optionID as voted by the current
// identity, without counting it
func (p Poll) WithUserVote(optionID string) Poll {
	p.UserVotes = withString(p.UserVotes, optionID)
	return p
}

// PollOption is one choice of a poll
type PollOption struct {
	ID         string `json:"id" db:"id"`
	PollID     string `json:"poll_id" db:"poll_id"`
	Text       string `json:"text" db:"text"`
	Position   int    `json:"position" db:"position"`
	VoteCount  int    `json:"vote_count" db:"vote_count"`
	Percentage int    `json:"percentage"`
}

// PollVote is a row of poll_votes
type PollVote struct {
	ID       string    `json:"id" db:"id"`
	PollID   string    `json:"poll_id" db:"poll_id"`
	OptionID string    `json:"option_id" db:"option_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	VotedAt  time.Time `json:"created_at" db:"created_at"`
}
