package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/registry"
)

// ForumController handles forums, topics and replies
type ForumController struct {
	sessions Sessions
}

// NewForumController creates a new ForumController
func NewForumController(sessions Sessions) *ForumController {
	return &ForumController{sessions: sessions}
}

// List returns every forum with its topic count
// @Router /forums [get]
func (c *ForumController) List(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	forums, err := reg.Forums().LoadForums(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, forums)
}

// Topics returns a forum's topics, pinned first
// @Router /forums/{id}/topics [get]
func (c *ForumController) Topics(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	topics, err := reg.Forums().LoadTopics(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, topics)
}

// CreateTopic opens a topic
// @Router /forums/{id}/topics [post]
func (c *ForumController) CreateTopic(ctx *gin.Context) {
	var req dto.CreateTopicRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	topic, err := reg.Forums().CreateTopic(ctx.Request.Context(), ctx.Param("id"), req.Title, req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, topic)
}

// ensureTopic loads the forum's topics when the requested one is not cached
func ensureTopic(ctx *gin.Context, reg *registry.Registry) (models.ForumTopic, bool) {
	topicID := ctx.Param("topicId")
	if topic, cached := reg.Forums().Topic(topicID); cached {
		return topic, true
	}
	if _, err := reg.Forums().LoadTopics(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return models.ForumTopic{}, false
	}
	topic, cached := reg.Forums().Topic(topicID)
	if !cached || topic.ForumID != ctx.Param("id") {
		middleware.HandleAPIError(ctx, apperrors.NotFound("forums.Topic", "topic not found"))
		return models.ForumTopic{}, false
	}
	return topic, true
}

// Thread returns the threaded replies of a topic
// @Router /forums/{id}/topics/{topicId}/posts [get]
func (c *ForumController) Thread(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	topic, found := ensureTopic(ctx, reg)
	if !found {
		return
	}
	ok(ctx, gin.H{"topic": topic, "posts": reg.Forums().Thread(topic.ID)})
}

// Reply answers a topic or one of its replies
// @Router /forums/{id}/topics/{topicId}/posts [post]
func (c *ForumController) Reply(ctx *gin.Context) {
	var req dto.CommentRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, found := ensureTopic(ctx, reg); !found {
		return
	}
	reply, err := reg.Forums().Reply(ctx.Request.Context(), ctx.Param("topicId"), req.ParentID, req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, reply)
}

// Pin pins or unpins a topic; topic authors only
// @Router /forums/{id}/topics/{topicId}/pin [put]
func (c *ForumController) Pin(ctx *gin.Context) {
	var req dto.PinRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, found := ensureTopic(ctx, reg); !found {
		return
	}
	topic, err := reg.Forums().Pin(ctx.Request.Context(), ctx.Param("topicId"), req.Pinned)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, topic)
}
