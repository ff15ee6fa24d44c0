package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/helpers"
)

// PostController handles community feeds, likes and comments
type PostController struct {
	sessions Sessions
}

// NewPostController creates a new PostController
func NewPostController(sessions Sessions) *PostController {
	return &PostController{sessions: sessions}
}

// Feed returns a page of a community feed, newest first
// @Summary Community feed
// @Tags posts
// @Security BearerAuth
// @Param id path string true "Community ID"
// @Param page query int false "Page number (1-based)"
// @Param size query int false "Page size"
// @Router /communities/{id}/posts [get]
func (c *PostController) Feed(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	posts, err := reg.Posts().LoadFeed(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	page, size := helpers.ParsePaginationParams(ctx)
	ok(ctx, helpers.Paginate(posts, page, size))
}

// Create publishes a post
// @Router /communities/{id}/posts [post]
func (c *PostController) Create(ctx *gin.Context) {
	var req dto.CreatePostRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	post, err := reg.Posts().Create(ctx.Request.Context(), ctx.Param("id"), req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, post)
}

// Delete removes one of the caller's posts
// @Router /posts/{id} [delete]
func (c *PostController) Delete(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, err := reg.Posts().LoadPost(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	if err := reg.Posts().Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewMessageResponse("Post deleted"))
}

// ToggleLike likes or unlikes a post
// @Router /posts/{id}/like [post]
func (c *PostController) ToggleLike(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, err := reg.Posts().LoadPost(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	post, err := reg.Posts().ToggleLike(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, post)
}

// Comments returns the threaded comments of a post
// @Router /posts/{id}/comments [get]
func (c *PostController) Comments(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	threads, err := reg.Posts().LoadComments(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, threads)
}

// AddComment comments on a post, optionally replying to another comment
// @Router /posts/{id}/comments [post]
func (c *PostController) AddComment(ctx *gin.Context) {
	var req dto.CommentRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, err := reg.Posts().LoadPost(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	comment, err := reg.Posts().AddComment(ctx.Request.Context(), ctx.Param("id"), req.ParentID, req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, comment)
}
