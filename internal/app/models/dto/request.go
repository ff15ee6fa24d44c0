package dto

import "time"

// TokenRequest asks for an access token for an existing user
type TokenRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// TokenResponse carries an issued access token
type TokenResponse struct {
	AccessToken string      `json:"accessToken"`
	TokenType   string      `json:"tokenType"`
	ExpiresIn   int         `json:"expiresIn"`
	User        interface{} `json:"user"`
}

// CreateContainerRequest creates a community or a group
type CreateContainerRequest struct {
	Name        string `json:"name" binding:"required,notblank,min=2,max=100"`
	Description string `json:"description" binding:"max=2000"`
	IsPrivate   bool   `json:"isPrivate"`
}

// MemberRoleRequest sets or grants a member role
type MemberRoleRequest struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=admin moderator member"`
}

// CreatePostRequest publishes a post to a community feed
type CreatePostRequest struct {
	Content string `json:"content" binding:"required,notblank,maxrunes=10000"`
}

// CommentRequest adds a comment or forum reply; ParentID threads it
type CommentRequest struct {
	ParentID *string `json:"parentId"`
	Content  string  `json:"content" binding:"required,notblank,maxrunes=5000"`
}

// CreateTopicRequest opens a forum topic
type CreateTopicRequest struct {
	Title   string `json:"title" binding:"required,notblank,min=3,max=200"`
	Content string `json:"content" binding:"max=10000"`
}

// PinRequest pins or unpins a topic
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// CreatePollRequest creates a poll owned by a community or group
type CreatePollRequest struct {
	OwnerID        string   `json:"ownerId" binding:"required"`
	Question       string   `json:"question" binding:"required,notblank,max=500"`
	MultipleChoice bool     `json:"multipleChoice"`
	Options        []string `json:"options" binding:"required,min=2,dive,required,notblank,max=200"`
}

// VoteRequest casts a vote on a poll option
type VoteRequest struct {
	OptionID string `json:"optionId" binding:"required"`
}

// SendMessageRequest sends a direct message
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required,notblank,maxrunes=5000"`
}

// CreateEventRequest schedules a community event
type CreateEventRequest struct {
	Title       string    `json:"title" binding:"required,notblank,max=200"`
	Description string    `json:"description" binding:"max=5000"`
	Location    string    `json:"location" binding:"max=200"`
	StartsAt    time.Time `json:"startsAt" binding:"required"`
}

// AwardPointsRequest grants points for an action
type AwardPointsRequest struct {
	UserID string `json:"userId" binding:"required"`
	Points int    `json:"points" binding:"min=0"`
	Action string `json:"action" binding:"required,max=100"`
}
