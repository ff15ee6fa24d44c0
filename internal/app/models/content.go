package models

import (
	"slices"
	"time"
)

// Post is a community feed post with its like state for the current identity
type Post struct {
	ID           string    `json:"id" db:"id"`
	CommunityID  string    `json:"community_id" db:"community_id"`
	AuthorID     string    `json:"author_id" db:"author_id"`
	Content      string    `json:"content" db:"content"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	Likes        []string  `json:"likes"`
	Liked        bool      `json:"liked"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
}

// WithLike returns a copy of p liked (or unliked) by userID
func (p Post) WithLike(userID string, liked bool) Post {
	if liked {
		p.Likes = withString(p.Likes, userID)
	} else {
		p.Likes = withoutString(p.Likes, userID)
	}
	p.Liked = liked
	p.LikeCount = len(p.Likes)
	return p
}

// LikedBy reports whether userID likes p
func (p Post) LikedBy(userID string) bool {
	return slices.Contains(p.Likes, userID)
}

// PostLike is a row of post_likes
type PostLike struct {
	ID     string `json:"id" db:"id"`
	PostID string `json:"post_id" db:"post_id"`
	UserID string `json:"user_id" db:"user_id"`
}

// Comment is a threaded comment on a post
type Comment struct {
	ID        string    `json:"id" db:"id"`
	PostID    string    `json:"post_id" db:"post_id"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	ParentID  *string   `json:"parent_id,omitempty" db:"parent_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (c Comment) NodeID() string { return c.ID }

func (c Comment) ParentNodeID() string {
	if c.ParentID == nil {
		return ""
	}
	return *c.ParentID
}

// Forum is a discussion board
type Forum struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	TopicCount  int       `json:"topic_count"`
}

// ForumTopic is a thread inside a forum
type ForumTopic struct {
	ID         string    `json:"id" db:"id"`
	ForumID    string    `json:"forum_id" db:"forum_id"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	IsPinned   bool      `json:"is_pinned" db:"is_pinned"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ReplyCount int       `json:"reply_count"`
}

// ForumPost is a threaded reply inside a topic
type ForumPost struct {
	ID        string    `json:"id" db:"id"`
	TopicID   string    `json:"topic_id" db:"topic_id"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	ParentID  *string   `json:"parent_id,omitempty" db:"parent_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (p ForumPost) NodeID() string { return p.ID }

func (p ForumPost) ParentNodeID() string {
	if p.ParentID == nil {
		return ""
	}
	return *p.ParentID
}

// Event is a community event with its attendee set
type Event struct {
	ID          string    `json:"id" db:"id"`
	CommunityID string    `json:"community_id" db:"community_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Location    string    `json:"location" db:"location"`
	StartsAt    time.Time `json:"starts_at" db:"starts_at"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	Attendees   []string  `json:"attendees"`
	Attending   bool      `json:"attending"`
}

// WithAttendee returns a copy of e with userID attending or not
func (e Event) WithAttendee(userID string, attending bool) Event {
	if attending {
		e.Attendees = withString(e.Attendees, userID)
	} else {
		e.Attendees = withoutString(e.Attendees, userID)
	}
	e.Attending = attending
	return e
}

// AttendedBy reports whether userID attends e
func (e Event) AttendedBy(userID string) bool {
	return slices.Contains(e.Attendees, userID)
}
