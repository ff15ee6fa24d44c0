package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPost_WithLikeCopiesOnWrite(t *testing.T) {
	p := Post{ID: "p1", Likes: []string{"u2"}, LikeCount: 1}

	liked := p.WithLike("u1", true)
	assert.Equal(t, []string{"u2", "u1"}, liked.Likes)
	assert.True(t, liked.Liked)
	assert.Equal(t, 2, liked.LikeCount)
	assert.Equal(t, []string{"u2"}, p.Likes, "original must not change")

	again := liked.WithLike("u1", true)
	assert.Equal(t, 2, again.LikeCount)

	unliked := liked.WithLike("u1", false)
	assert.False(t, unliked.Liked)
	assert.Equal(t, []string{"u2"}, unliked.Likes)
}

func TestContainer_MembershipCopies(t *testing.T) {
	c := Container{ID: "c1", Members: map[string]Role{"u1": RoleAdmin}}

	joined := c.WithMember("u2", RoleMember)
	assert.Equal(t, 2, joined.MemberCount())
	assert.Equal(t, 1, c.MemberCount())

	role, ok := joined.RoleOf("u2")
	assert.True(t, ok)
	assert.Equal(t, RoleMember, role)

	left := joined.WithoutMember("u2")
	_, ok = left.RoleOf("u2")
	assert.False(t, ok)
	assert.Equal(t, 2, joined.MemberCount())
}

func TestPoll_WithVote(t *testing.T) {
	p := Poll{ID: "p", Options: []PollOption{{ID: "a"}, {ID: "b", VoteCount: 2}}}

	voted := p.WithVote("b")
	o, ok := voted.Option("b")
	assert.True(t, ok)
	assert.Equal(t, 3, o.VoteCount)
	assert.True(t, voted.HasVoted("b"))
	assert.True(t, voted.HasVoted(""))
	assert.False(t, voted.HasVoted("a"))

	o, _ = p.Option("b")
	assert.Equal(t, 2, o.VoteCount, "original must not change")
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleModerator.Valid())
	assert.False(t, Role("owner").Valid())
}

func TestIsTempID(t *testing.T) {
	assert.True(t, IsTempID("tmp-123"))
	assert.False(t, IsTempID("tmp-"))
	assert.False(t, IsTempID("c1"))
}

func TestComment_ParentNodeID(t *testing.T) {
	parent := "c1"
	assert.Equal(t, "", Comment{ID: "c0"}.ParentNodeID())
	assert.Equal(t, "c1", Comment{ID: "c2", ParentID: &parent}.ParentNodeID())
}
