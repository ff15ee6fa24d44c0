package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/app/stores"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/registry"
)

// ContainerController serves communities or groups, depending on the store
// it is bound to
type ContainerController struct {
	sessions Sessions
	store    string
}

// NewContainerController creates a controller for the container store
// registered under store (registry.Communities or registry.Groups)
func NewContainerController(sessions Sessions, store string) *ContainerController {
	return &ContainerController{sessions: sessions, store: store}
}

// ensure loads the containers when the one in the path is not cached
func (c *ContainerController) ensure(ctx *gin.Context, s *stores.ContainerStore) (models.Container, bool) {
	id := ctx.Param("id")
	if container, cached := s.Get(id); cached {
		return container, true
	}
	if _, err := s.Load(ctx.Request.Context()); err != nil {
		middleware.HandleAPIError(ctx, err)
		return models.Container{}, false
	}
	container, cached := s.Get(id)
	if !cached {
		middleware.HandleAPIError(ctx, apperrors.NotFound(c.store+".Get", string(s.Kind())+" not found"))
		return models.Container{}, false
	}
	return container, true
}

func (c *ContainerController) resolve(ctx *gin.Context) (*stores.ContainerStore, bool) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return nil, false
	}
	s, err := registry.Lookup[*stores.ContainerStore](reg, c.store)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return nil, false
	}
	return s, true
}

// List returns every container together with its members
// @Summary List communities or groups
// @Tags communities, groups
// @Security BearerAuth
// @Param mine query bool false "Only containers the caller belongs to"
// @Router /communities [get]
// @Router /groups [get]
func (c *ContainerController) List(ctx *gin.Context) {
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	list, err := s.Load(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	if ctx.Query("mine") == "true" {
		list = s.Mine()
	}
	ok(ctx, list)
}

// Get returns one container
// @Router /communities/{id} [get]
func (c *ContainerController) Get(ctx *gin.Context) {
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	container, found := c.ensure(ctx, s)
	if !found {
		return
	}
	ok(ctx, container)
}

// Create creates a container with the caller as admin
// @Router /communities [post]
func (c *ContainerController) Create(ctx *gin.Context) {
	var req dto.CreateContainerRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	container, err := s.Create(ctx.Request.Context(), req.Name, req.Description, req.IsPrivate)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, container)
}

// Join adds the caller as a member
// @Router /communities/{id}/join [post]
func (c *ContainerController) Join(ctx *gin.Context) {
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	if _, found := c.ensure(ctx, s); !found {
		return
	}
	container, err := s.Join(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, container)
}

// Leave removes the caller's membership
// @Router /communities/{id}/leave [post]
func (c *ContainerController) Leave(ctx *gin.Context) {
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	if _, found := c.ensure(ctx, s); !found {
		return
	}
	container, err := s.Leave(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, container)
}

// SetRole changes a member's role; admins only
// @Router /communities/{id}/members/role [put]
func (c *ContainerController) SetRole(ctx *gin.Context) {
	var req dto.MemberRoleRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	if _, found := c.ensure(ctx, s); !found {
		return
	}
	container, err := s.SetRole(ctx.Request.Context(), ctx.Param("id"), req.UserID, models.Role(req.Role))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, container)
}

// AddMember adds another user, the only way into a private container
// @Router /communities/{id}/members [post]
func (c *ContainerController) AddMember(ctx *gin.Context) {
	var req dto.MemberRoleRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	s, found := c.resolve(ctx)
	if !found {
		return
	}
	if _, found := c.ensure(ctx, s); !found {
		return
	}
	container, err := s.AddMember(ctx.Request.Context(), ctx.Param("id"), req.UserID, models.Role(req.Role))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, container)
}
