package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := Inconsistent("polls.vote", "already voted")

	assert.True(t, errors.Is(err, ErrInconsistent))
	assert.False(t, errors.Is(err, ErrRemoteRejected))
	assert.Equal(t, KindInconsistent, KindOf(err))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := RemoteRejected("posts.like", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrRemoteRejected))
	assert.Equal(t, "posts.like: remote operation rejected: connection reset", err.Error())
}

func TestError_WrappedStillClassified(t *testing.T) {
	err := fmt.Errorf("handler: %w", Unauthenticated("communities.join"))

	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.True(t, Is(err, ErrNotFound, ErrUnauthenticated))
}

func TestPartialFailure_NamesStep(t *testing.T) {
	err := PartialFailure("communities.create", "add_admin_member", []string{"insert_community"}, errors.New("boom"))

	assert.Contains(t, err.Error(), `step "add_admin_member"`)
	assert.Equal(t, []string{"insert_community"}, err.Completed)
	assert.Equal(t, KindPartialFailure, KindOf(err))
}

func TestForbidden_MatchesSentinel(t *testing.T) {
	err := Forbidden("gamification.AwardPoints", "points can only be awarded to yourself")

	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "gamification.AwardPoints: points can only be awarded to yourself", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
