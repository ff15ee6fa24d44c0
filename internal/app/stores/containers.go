package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/realtime"
)

// ContainerStore mirrors communities or groups together with their
// memberships. The same store type serves both kinds.
type ContainerStore struct {
	base
	kind         models.ContainerKind
	table        string
	membersTable string
	fk           string
	cache        *cache.Cache[models.Container]
}

// NewCommunityStore creates the store for communities
func NewCommunityStore(d Deps) *ContainerStore {
	return newContainerStore(d, models.ContainerCommunity, backend.TableCommunities, backend.TableCommunityMembers, "community_id")
}

// NewGroupStore creates the store for groups
func NewGroupStore(d Deps) *ContainerStore {
	return newContainerStore(d, models.ContainerGroup, backend.TableGroups, backend.TableGroupMembers, "group_id")
}

func newContainerStore(d Deps, kind models.ContainerKind, table, membersTable, fk string) *ContainerStore {
	s := &ContainerStore{
		base:         newBase(d, table),
		kind:         kind,
		table:        table,
		membersTable: membersTable,
		fk:           fk,
		cache: cache.New(table, d.Clock, cache.Options[models.Container]{
			KeyOf: func(c models.Container) string { return c.ID },
			Less: func(a, b models.Container) bool {
				return strings.ToLower(a.Name) < strings.ToLower(b.Name)
			},
		}),
	}
	s.register()
	return s
}

// Cache exposes the underlying cache for observers
func (s *ContainerStore) Cache() *cache.Cache[models.Container] {
	return s.cache
}

// Kind returns which containers the store holds
func (s *ContainerStore) Kind() models.ContainerKind {
	return s.kind
}

func (s *ContainerStore) op(name string) string {
	return s.table + "." + name
}

// Get returns one container
func (s *ContainerStore) Get(id string) (models.Container, bool) {
	return s.cache.Get(id)
}

// List returns every cached container ordered by name
func (s *ContainerStore) List() []models.Container {
	return s.cache.List()
}

// Mine returns the containers the acting identity belongs to
func (s *ContainerStore) Mine() []models.Container {
	me := s.me()
	var out []models.Container
	for _, c := range s.cache.List() {
		if _, ok := c.RoleOf(me); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *ContainerStore) decodeContainer(row backend.Row) (models.Container, error) {
	c, err := backend.Decode[models.Container](row)
	if err != nil {
		return c, err
	}
	c.Kind = s.kind
	if c.Members == nil {
		c.Members = map[string]models.Role{}
	}
	return c, nil
}

func (s *ContainerStore) decodeMembership(row backend.Row) (models.Membership, error) {
	m, err := backend.Decode[models.Membership](row)
	if err != nil {
		return m, err
	}
	m.ContainerID = row.String(s.fk)
	if m.Role == "" {
		m.Role = models.RoleMember
	}
	return m, nil
}

// Load fetches every container and membership and replaces the cache
func (s *ContainerStore) Load(ctx context.Context) ([]models.Container, error) {
	op := s.op("Load")

	rows, err := s.query(ctx, op, backend.Query{Table: s.table, Order: []backend.Order{backend.Asc("name")}})
	if err != nil {
		return nil, err
	}
	memberRows, err := s.query(ctx, op, backend.Query{Table: s.membersTable})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Container, len(rows))
	out := make([]models.Container, 0, len(rows))
	for _, row := range rows {
		c, err := s.decodeContainer(row)
		if err != nil {
			return nil, apperrors.RemoteRejected(op, err)
		}
		out = append(out, c)
	}
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	for _, row := range memberRows {
		m, err := s.decodeMembership(row)
		if err != nil {
			return nil, apperrors.RemoteRejected(op, err)
		}
		if c, ok := byID[m.ContainerID]; ok {
			c.Members[m.UserID] = m.Role
		}
	}

	s.cache.Load(out)
	return out, nil
}

// Create inserts a container and makes the creator its admin. When the
// membership step fails the container row stays: it is cached and returned
// with a PartialFailure, and the creator can finish with Join.
func (s *ContainerStore) Create(ctx context.Context, name, description string, private bool) (models.Container, error) {
	op := s.op("Create")
	return mutation.Perform(ctx, s.coord, s.cache, mutation.Mutation[models.Container]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.Container], _ models.Identity) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("name is required")
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.Container], id models.Identity, key string) models.Container {
			return models.Container{
				ID:          key,
				Kind:        s.kind,
				Name:        name,
				Description: description,
				IsPrivate:   private,
				CreatedBy:   id.ID,
				CreatedAt:   s.now(),
				Members:     map[string]models.Role{id.ID: models.RoleAdmin},
			}
		},
		Remote: func(ctx context.Context, id models.Identity, optimistic models.Container) (models.Container, error) {
			var created models.Container
			err := s.coord.Compound(ctx, op,
				mutation.Step{Name: string(s.kind), Run: func(ctx context.Context) error {
					row, err := s.be.Insert(ctx, s.table, backend.Row{
						"name":        name,
						"description": description,
						"is_private":  private,
						"created_by":  id.ID,
					})
					if err != nil {
						return err
					}
					created, err = s.decodeContainer(row)
					return err
				}},
				mutation.Step{Name: "membership", Run: func(ctx context.Context) error {
					_, err := s.be.Insert(ctx, s.membersTable, backend.Row{
						s.fk:      created.ID,
						"user_id": id.ID,
						"role":    string(models.RoleAdmin),
					})
					return err
				}},
			)
			if err != nil {
				return models.Container{}, mutation.Partial(err, created)
			}
			return created.WithMember(id.ID, models.RoleAdmin), nil
		},
	})
}

// Join adds the acting identity as a member. Joining twice is a no-op and
// private containers cannot be joined, except by their creator, who joins
// as admin.
func (s *ContainerStore) Join(ctx context.Context, containerID string) (models.Container, error) {
	op := s.op("Join")
	me, err := s.coord.Identity(op)
	if err != nil {
		return models.Container{}, err
	}
	if c, ok := s.cache.Get(containerID); ok {
		if _, member := c.RoleOf(me.ID); member {
			return c, nil
		}
	}

	return mutation.Perform(ctx, s.coord, s.cache, mutation.Mutation[models.Container]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  containerID,
		Precondition: func(cur cache.Entry[models.Container], _ models.Identity) error {
			if !cur.Present {
				return notFound(op, string(s.kind)+" "+containerID)
			}
			if cur.Value.IsPrivate && cur.Value.CreatedBy != me.ID {
				return apperrors.Inconsistent(op, "private "+string(s.kind)+" requires an invitation")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Container], id models.Identity, _ string) models.Container {
			return cur.Value.WithMember(id.ID, joinRole(cur.Value, id.ID))
		},
		Remote: func(ctx context.Context, id models.Identity, optimistic models.Container) (models.Container, error) {
			_, err := s.be.Insert(ctx, s.membersTable, backend.Row{
				s.fk:      containerID,
				"user_id": id.ID,
				"role":    string(joinRole(optimistic, id.ID)),
			})
			if err := ignoreConflict(err); err != nil {
				return models.Container{}, err
			}
			return optimistic, nil
		},
	})
}

func joinRole(c models.Container, userID string) models.Role {
	if c.CreatedBy == userID {
		return models.RoleAdmin
	}
	return models.RoleMember
}

// Leave removes the acting identity. The last admin cannot leave.
func (s *ContainerStore) Leave(ctx context.Context, containerID string) (models.Container, error) {
	op := s.op("Leave")
	return mutation.Perform(ctx, s.coord, s.cache, mutation.Mutation[models.Container]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  containerID,
		Precondition: func(cur cache.Entry[models.Container], id models.Identity) error {
			if !cur.Present {
				return notFound(op, string(s.kind)+" "+containerID)
			}
			role, ok := cur.Value.RoleOf(id.ID)
			if !ok {
				return apperrors.Inconsistent(op, "not a member")
			}
			if role == models.RoleAdmin && countRole(cur.Value, models.RoleAdmin) == 1 {
				return apperrors.Inconsistent(op, "the last admin cannot leave")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Container], id models.Identity, _ string) models.Container {
			return cur.Value.WithoutMember(id.ID)
		},
		Remote: func(ctx context.Context, id models.Identity, optimistic models.Container) (models.Container, error) {
			if _, err := s.be.Delete(ctx, s.membersTable, []backend.Filter{
				backend.Eq(s.fk, containerID),
				backend.Eq("user_id", id.ID),
			}); err != nil {
				return models.Container{}, err
			}
			return optimistic, nil
		},
	})
}

// SetRole changes a member's role. Only admins may change roles.
func (s *ContainerStore) SetRole(ctx context.Context, containerID, userID string, role models.Role) (models.Container, error) {
	op := s.op("SetRole")
	return mutation.Perform(ctx, s.coord, s.cache, mutation.Mutation[models.Container]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  containerID,
		Precondition: func(cur cache.Entry[models.Container], id models.Identity) error {
			if !cur.Present {
				return notFound(op, string(s.kind)+" "+containerID)
			}
			if !role.Valid() {
				return apperrors.Inconsistent(op, "unknown role "+string(role))
			}
			if r, _ := cur.Value.RoleOf(id.ID); r != models.RoleAdmin {
				return apperrors.Inconsistent(op, "only admins can change roles")
			}
			current, ok := cur.Value.RoleOf(userID)
			if !ok {
				return notFound(op, "member "+userID)
			}
			if current == models.RoleAdmin && role != models.RoleAdmin && countRole(cur.Value, models.RoleAdmin) == 1 {
				return apperrors.Inconsistent(op, "the last admin cannot be demoted")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Container], _ models.Identity, _ string) models.Container {
			return cur.Value.WithMember(userID, role)
		},
		Remote: func(ctx context.Context, _ models.Identity, optimistic models.Container) (models.Container, error) {
			rows, err := s.be.Update(ctx, s.membersTable, []backend.Filter{
				backend.Eq(s.fk, containerID),
				backend.Eq("user_id", userID),
			}, backend.Row{"role": string(role)})
			if err != nil {
				return models.Container{}, err
			}
			if len(rows) == 0 {
				return models.Container{}, fmt.Errorf("membership of %s: %w", userID, backend.ErrNotFound)
			}
			return optimistic, nil
		},
	})
}

// AddMember lets an admin or moderator add someone, including to private
// containers
func (s *ContainerStore) AddMember(ctx context.Context, containerID, userID string, role models.Role) (models.Container, error) {
	op := s.op("AddMember")
	return mutation.Perform(ctx, s.coord, s.cache, mutation.Mutation[models.Container]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  containerID,
		Precondition: func(cur cache.Entry[models.Container], id models.Identity) error {
			if !cur.Present {
				return notFound(op, string(s.kind)+" "+containerID)
			}
			if !role.Valid() {
				return apperrors.Inconsistent(op, "unknown role "+string(role))
			}
			r, _ := cur.Value.RoleOf(id.ID)
			if r != models.RoleAdmin && r != models.RoleModerator {
				return apperrors.Inconsistent(op, "only admins and moderators can add members")
			}
			if r == models.RoleModerator && role == models.RoleAdmin {
				return apperrors.Inconsistent(op, "moderators cannot appoint admins")
			}
			if _, ok := cur.Value.RoleOf(userID); ok {
				return apperrors.Inconsistent(op, "already a member")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Container], _ models.Identity, _ string) models.Container {
			return cur.Value.WithMember(userID, role)
		},
		Remote: func(ctx context.Context, _ models.Identity, optimistic models.Container) (models.Container, error) {
			_, err := s.be.Insert(ctx, s.membersTable, backend.Row{
				s.fk:      containerID,
				"user_id": userID,
				"role":    string(role),
			})
			if err := ignoreConflict(err); err != nil {
				return models.Container{}, err
			}
			return optimistic, nil
		},
	})
}

func countRole(c models.Container, role models.Role) int {
	n := 0
	for _, r := range c.Members {
		if r == role {
			n++
		}
	}
	return n
}

func (s *ContainerStore) register() {
	if s.ingest == nil {
		return
	}

	realtime.Bind(s.ingest, s.table, s.cache, realtime.BindOptions[models.Container]{
		Decode: s.decodeContainer,
		Merge: func(cur cache.Entry[models.Container], in models.Container) models.Container {
			if cur.Present {
				in.Members = cur.Value.Members
			}
			return in
		},
	})

	s.ingest.Handle(s.membersTable, func(ev backend.ChangeEvent) error {
		m, err := s.decodeMembership(ev.Record)
		if err != nil {
			return fmt.Errorf("%w: %v", realtime.ErrMalformed, err)
		}
		if m.ContainerID == "" || m.UserID == "" {
			return fmt.Errorf("%w: membership without %s or user_id", realtime.ErrMalformed, s.fk)
		}
		c, ok := s.cache.Get(m.ContainerID)
		if !ok {
			// container not loaded in this session
			return nil
		}

		switch ev.Type {
		case backend.ChangeInsert, backend.ChangeUpdate:
			if r, ok := c.RoleOf(m.UserID); ok && r == m.Role {
				return nil
			}
			s.cache.Set(c.ID, c.WithMember(m.UserID, m.Role))
		case backend.ChangeDelete:
			if _, ok := c.RoleOf(m.UserID); !ok {
				return nil
			}
			s.cache.Set(c.ID, c.WithoutMember(m.UserID))
		default:
			return fmt.Errorf("%w: unknown type %q", realtime.ErrMalformed, ev.Type)
		}
		return nil
	})
}
