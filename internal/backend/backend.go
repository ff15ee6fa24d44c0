// Package backend describes the relational data service the stores sync
// against: row queries, writes that return the persisted row, remote
// procedures, and a push subscription of change events.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors shared by every implementation
var (
	ErrNotFound = errors.New("row not found")
	ErrConflict = errors.New("row conflicts with an existing row")
	ErrClosed   = errors.New("backend closed")
)

// Table names of the contract surface
const (
	TableUsers            = "users"
	TableCommunities      = "communities"
	TableCommunityMembers = "community_members"
	TablePosts            = "posts"
	TablePostLikes        = "post_likes"
	TableComments         = "comments"
	TableEvents           = "events"
	TableEventAttendees   = "event_attendees"
	TableHackathons       = "hackathons"
	TableJobs             = "jobs"
	TableJobApplications  = "job_applications"
	TableJobSaves         = "job_saves"
	TableForums           = "forums"
	TableForumTopics      = "forum_topics"
	TableForumPosts       = "forum_posts"
	TableGroups           = "groups"
	TableGroupMembers     = "group_members"
	TablePolls            = "polls"
	TablePollOptions      = "poll_options"
	TablePollVotes        = "poll_votes"
	TableMessages         = "messages"
	TableNotifications    = "notifications"
	TableResources        = "resources"
	TableBadges           = "badges"
	TableUserBadges       = "user_badges"
	TableUserPoints       = "user_points"
	TableUserAchievements = "user_achievements"
)

// Remote procedures
const (
	FnAddUserPoints       = "add_user_points"
	FnIncrementOptionVote = "increment_option_vote"
)

// Row is one record keyed by column name
type Row map[string]any

// String returns the column value as a string, or "" when absent
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy of r
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Operator is a filter comparison
type Operator string

const (
	OpEq     Operator = "eq"
	OpNeq    Operator = "neq"
	OpIn     Operator = "in"
	OpIsNull Operator = "is_null"
)

// Filter restricts a query, update or delete to matching rows
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

// Eq matches rows where column equals value
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Neq matches rows where column differs from value
func Neq(column string, value any) Filter {
	return Filter{Column: column, Op: OpNeq, Value: value}
}

// In matches rows where column is one of values
func In(column string, values ...any) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// IsNull matches rows where column is null
func IsNull(column string) Filter {
	return Filter{Column: column, Op: OpIsNull}
}

// Order sorts query results
type Order struct {
	Column string
	Desc   bool
}

// Asc orders by column ascending
func Asc(column string) Order { return Order{Column: column} }

// Desc orders by column descending
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Query reads a set of rows
type Query struct {
	Table   string
	Filters []Filter
	Order   []Order
	Limit   int
}

// ChangeType is the kind of write a change event reports
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a pushed notification of a committed write. Record holds
// the full row after the write (before it, for deletes).
type ChangeEvent struct {
	Table      string     `json:"table"`
	Type       ChangeType `json:"type"`
	Record     Row        `json:"record"`
	CommitTime time.Time  `json:"commit_time"`
	// Partial marks a record cut down to its key columns because the full
	// row did not fit in a notification
	Partial bool `json:"partial,omitempty"`
}

// SubscribeFilter selects which change events a subscription receives
type SubscribeFilter struct {
	// Tables limits events to these tables; empty means all
	Tables []string
}

// Matches reports whether ev passes the filter
func (f SubscribeFilter) Matches(ev ChangeEvent) bool {
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == ev.Table {
			return true
		}
	}
	return false
}

// Subscription is a stream of change events
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Backend is the remote data service
type Backend interface {
	Query(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error)
	Delete(ctx context.Context, table string, filters []Filter) (int, error)
	Call(ctx context.Context, fn string, args Row) (Row, error)
	Subscribe(ctx context.Context, filter SubscribeFilter) (Subscription, error)
}

// UpdateOne updates the row with id and returns it
func UpdateOne(ctx context.Context, b Backend, table, id string, patch Row) (Row, error) {
	rows, err := b.Update(ctx, table, []Filter{Eq("id", id)}, patch)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return rows[0], nil
}

// Decode converts a row into T using the json tags of T
func Decode[T any](row Row) (T, error) {
	var out T
	data, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

// DecodeAll converts rows into a slice of T
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeChangeEvent parses a JSON change payload
func DecodeChangeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Table == "" || ev.Type == "" {
		return ev, fmt.Errorf("decode change event: missing table or type")
	}
	return ev, nil
}
