package models

import "time"

// ContainerKind distinguishes the membership-owning entities
type ContainerKind string

const (
	ContainerCommunity ContainerKind = "community"
	ContainerGroup     ContainerKind = "group"
)

// Role is a member's role inside a container
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// Container is a community or group together with its membership set
type Container struct {
	ID          string          `json:"id" db:"id"`
	Kind        ContainerKind   `json:"kind"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	IsPrivate   bool            `json:"is_private" db:"is_private"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Members     map[string]Role `json:"members"`
}

// MemberCount returns the number of members
func (c Container) MemberCount() int {
	return len(c.Members)
}

// RoleOf returns the role of userID, if a member
func (c Container) RoleOf(userID string) (Role, bool) {
	r, ok := c.Members[userID]
	return r, ok
}

// WithMember returns a copy of c with userID set to role
func (c Container) WithMember(userID string, role Role) Container {
	members := make(map[string]Role, len(c.Members)+1)
	for k, v := range c.Members {
		members[k] = v
	}
	members[userID] = role
	c.Members = members
	return c
}

// WithoutMember returns a copy of c without userID
func (c Container) WithoutMember(userID string) Container {
	members := make(map[string]Role, len(c.Members))
	for k, v := range c.Members {
		if k != userID {
			members[k] = v
		}
	}
	c.Members = members
	return c
}

// Membership is a row of community_members or group_members
type Membership struct {
	ID          string    `json:"id" db:"id"`
	ContainerID string    `json:"container_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}
