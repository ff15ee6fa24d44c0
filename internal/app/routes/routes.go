package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/controllers"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/validation"
	"github.com/yigit/hackhub/internal/pkg/websocket"
)

// Controllers groups every HTTP handler of the API
type Controllers struct {
	Auth          *controllers.AuthController
	Communities   *controllers.ContainerController
	Groups        *controllers.ContainerController
	Posts         *controllers.PostController
	Forums        *controllers.ForumController
	Polls         *controllers.PollController
	Events        *controllers.EventController
	Messages      *controllers.MessageController
	Notifications *controllers.NotificationController
	Gamification  *controllers.GamificationController
	WebSocket     *websocket.Handler
}

// SetupRouter configures all application routes
func SetupRouter(router *gin.Engine, c Controllers, authMiddleware *middleware.AuthMiddleware) {
	if err := validation.RegisterBindingRules(); err != nil {
		panic(err)
	}

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API version group
	v1 := router.Group("/api/v1")

	// --- Public Auth routes ---
	v1.POST("/auth/token", c.Auth.IssueToken)

	// --- Authenticated Routes Group ---
	authenticated := v1.Group("")
	authenticated.Use(authMiddleware.JWTAuth())
	{
		authenticated.GET("/auth/me", c.Auth.Me)
		authenticated.POST("/auth/logout", c.Auth.Logout)

		authenticated.GET("/ws", c.WebSocket.HandleConnection)

		communities := authenticated.Group("/communities")
		containerRoutes(communities, c.Communities)
		{
			communities.GET("/:id/posts", c.Posts.Feed)
			communities.POST("/:id/posts", c.Posts.Create)
			communities.GET("/:id/events", c.Events.List)
			communities.POST("/:id/events", c.Events.Create)
		}

		containerRoutes(authenticated.Group("/groups"), c.Groups)

		posts := authenticated.Group("/posts")
		{
			posts.DELETE("/:id", c.Posts.Delete)
			posts.POST("/:id/like", c.Posts.ToggleLike)
			posts.GET("/:id/comments", c.Posts.Comments)
			posts.POST("/:id/comments", c.Posts.AddComment)
		}

		forums := authenticated.Group("/forums")
		{
			forums.GET("", c.Forums.List)
			forums.GET("/:id/topics", c.Forums.Topics)
			forums.POST("/:id/topics", c.Forums.CreateTopic)
			forums.GET("/:id/topics/:topicId/posts", c.Forums.Thread)
			forums.POST("/:id/topics/:topicId/posts", c.Forums.Reply)
			forums.PUT("/:id/topics/:topicId/pin", c.Forums.Pin)
		}

		polls := authenticated.Group("/polls")
		{
			polls.GET("", c.Polls.List)
			polls.POST("", c.Polls.Create)
			polls.POST("/:id/votes", c.Polls.Vote)
		}

		authenticated.POST("/events/:id/attend", c.Events.ToggleAttend)

		authenticated.GET("/conversations", c.Messages.Conversations)
		authenticated.GET("/conversations/:userId", c.Messages.Open)
		authenticated.POST("/messages", c.Messages.Send)

		notifications := authenticated.Group("/notifications")
		{
			notifications.GET("", c.Notifications.List)
			notifications.PUT("/read-all", c.Notifications.MarkAllAsRead)
			notifications.PUT("/:id/read", c.Notifications.MarkAsRead)
			notifications.DELETE("/:id", c.Notifications.Delete)
		}

		gamification := authenticated.Group("/gamification")
		{
			gamification.GET("/badges", c.Gamification.Badges)
			gamification.GET("/leaderboard", c.Gamification.Leaderboard)
			gamification.GET("/users/:userId", c.Gamification.Profile)
			gamification.GET("/users/:userId/achievements", c.Gamification.Achievements)
			gamification.POST("/points", c.Gamification.AwardPoints)
		}
	}
}

func containerRoutes(group *gin.RouterGroup, c *controllers.ContainerController) {
	group.GET("", c.List)
	group.POST("", c.Create)
	group.GET("/:id", c.Get)
	group.POST("/:id/join", c.Join)
	group.POST("/:id/leave", c.Leave)
	group.POST("/:id/members", c.AddMember)
	group.PUT("/:id/members/role", c.SetRole)
}
