package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/backend/memory"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
)

func seedPoll(t *testing.T, e *env, multiple bool) {
	t.Helper()
	e.be.Seed(backend.TablePolls, backend.Row{"id": "q1", "owner_id": "g1", "created_by": "bob", "question": "Which stack?", "is_multiple_choice": multiple})
	e.be.Seed(backend.TablePollOptions,
		backend.Row{"id": "o1", "poll_id": "q1", "text": "Go", "position": 0, "vote_count": 0},
		backend.Row{"id": "o2", "poll_id": "q1", "text": "Rust", "position": 1, "vote_count": 0},
	)
	_, err := e.polls.Load(context.Background(), "g1")
	require.NoError(t, err)
}

func TestPollStore_SingleChoiceDoubleVote(t *testing.T) {
	e := newEnv(t, "alice")
	seedPoll(t, e, false)
	ctx := context.Background()

	p, err := e.polls.Vote(ctx, "q1", "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalVotes)
	assert.Equal(t, []string{"o1"}, p.UserVotes)
	o1, _ := p.Option("o1")
	assert.Equal(t, 100, o1.Percentage)

	before := e.polls.Cache().Snapshot()
	_, err = e.polls.Vote(ctx, "q1", "o2")
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
	assert.Equal(t, before, e.polls.Cache().Snapshot())
	assert.Len(t, e.be.Rows(backend.TablePollVotes), 1)
}

func TestPollStore_MultipleChoice(t *testing.T) {
	e := newEnv(t, "alice")
	seedPoll(t, e, true)
	ctx := context.Background()

	_, err := e.polls.Vote(ctx, "q1", "o1")
	require.NoError(t, err)
	p, err := e.polls.Vote(ctx, "q1", "o2")
	require.NoError(t, err)

	assert.Equal(t, 2, p.TotalVotes)
	assert.ElementsMatch(t, []string{"o1", "o2"}, p.UserVotes)
	sum := 0
	for _, o := range p.Options {
		sum += o.Percentage
	}
	assert.Equal(t, 100, sum)

	_, err = e.polls.Vote(ctx, "q1", "o2")
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
}

func TestPollStore_VoteRollsBackWhenInsertFails(t *testing.T) {
	e := newEnv(t, "alice")
	seedPoll(t, e, false)
	before := e.polls.Cache().Snapshot()

	e.be.FailNext(memory.OpInsert, backend.TablePollVotes, errors.New("boom"))
	_, err := e.polls.Vote(context.Background(), "q1", "o1")

	assert.ErrorIs(t, err, apperrors.ErrRemoteRejected)
	assert.Equal(t, before, e.polls.Cache().Snapshot())
	assert.Empty(t, e.be.Rows(backend.TablePollVotes))
}

func TestPollStore_VoteCountFailureIsRecoverable(t *testing.T) {
	e := newEnv(t, "alice")
	seedPoll(t, e, false)
	ctx := context.Background()

	e.be.FailNext(memory.OpCall, backend.FnIncrementOptionVote, errors.New("boom"))
	p, err := e.polls.Vote(ctx, "q1", "o1")

	require.ErrorIs(t, err, apperrors.ErrPartialFailure)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "count", appErr.Step)
	assert.Equal(t, []string{"vote"}, appErr.Completed)
	assert.Equal(t, []string{"o1"}, p.UserVotes)
	assert.Equal(t, 0, p.TotalVotes)
	cached, ok := e.polls.Get("q1")
	require.True(t, ok)
	assert.Equal(t, []string{"o1"}, cached.UserVotes)
	assert.Len(t, e.be.Rows(backend.TablePollVotes), 1)

	_, err = e.polls.Vote(ctx, "q1", "o2")
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)

	// voting again only retries the increment
	p, err = e.polls.Vote(ctx, "q1", "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalVotes)
	assert.Equal(t, []string{"o1"}, p.UserVotes)
	assert.Len(t, e.be.Rows(backend.TablePollVotes), 1)
	o1, _ := p.Option("o1")
	assert.Equal(t, 1, o1.VoteCount)

	_, err = e.polls.Vote(ctx, "q1", "o1")
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
}

func TestPollStore_UnknownOption(t *testing.T) {
	e := newEnv(t, "alice")
	seedPoll(t, e, false)

	_, err := e.polls.Vote(context.Background(), "q1", "o9")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPollStore_CreateWithOptions(t *testing.T) {
	e := newEnv(t, "alice")

	p, err := e.polls.Create(context.Background(), "g1", "Lunch?", false, []string{"Pizza", "Sushi"})
	require.NoError(t, err)
	require.Len(t, p.Options, 2)
	assert.Equal(t, "Pizza", p.Options[0].Text)
	assert.Equal(t, 0, p.TotalVotes)

	polls := e.polls.ByOwner("g1")
	require.Len(t, polls, 1)
	assert.Equal(t, p.ID, polls[0].ID)
}

func TestPollStore_CreatePartialFailure(t *testing.T) {
	e := newEnv(t, "alice")

	e.be.FailNext(memory.OpInsert, backend.TablePollOptions, errors.New("boom"))
	_, err := e.polls.Create(context.Background(), "g1", "Lunch?", false, []string{"Pizza", "Sushi"})

	require.Error(t, err)
	assert.Equal(t, apperrors.KindPartialFailure, apperrors.KindOf(err))
	assert.Empty(t, e.polls.ByOwner("g1"))
	assert.Len(t, e.be.Rows(backend.TablePolls), 1)
}

func TestPollStore_CreateNeedsTwoOptions(t *testing.T) {
	e := newEnv(t, "alice")
	_, err := e.polls.Create(context.Background(), "g1", "Lunch?", false, []string{"Pizza"})
	assert.ErrorIs(t, err, apperrors.ErrInconsistent)
}

func TestPollStore_PushedCountsRecomputePercentages(t *testing.T) {
	e := newEnv(t, "alice")
	seedPoll(t, e, false)

	e.ingest.OnPush(backend.ChangeEvent{Table: backend.TablePollOptions, Type: backend.ChangeUpdate, Record: backend.Row{
		"id": "o2", "poll_id": "q1", "text": "Rust", "position": 1, "vote_count": 3,
	}})
	e.ingest.OnPush(backend.ChangeEvent{Table: backend.TablePollOptions, Type: backend.ChangeUpdate, Record: backend.Row{
		"id": "o1", "poll_id": "q1", "text": "Go", "position": 0, "vote_count": 1,
	}})

	p, ok := e.polls.Get("q1")
	require.True(t, ok)
	assert.Equal(t, 4, p.TotalVotes)
	o1, _ := p.Option("o1")
	o2, _ := p.Option("o2")
	assert.Equal(t, 25, o1.Percentage)
	assert.Equal(t, 75, o2.Percentage)
	assert.Empty(t, p.UserVotes)
}
