package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yigit/hackhub/internal/aggregate"
	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/realtime"
)

// PollStore mirrors polls with their options and the acting identity's
// votes. Totals and percentages are recomputed after every write.
type PollStore struct {
	base
	polls *cache.Cache[models.Poll]

	// uncounted holds pollID/optionID pairs whose vote row was written
	// but whose count increment failed
	mu        sync.Mutex
	uncounted map[string]struct{}
}

// NewPollStore creates the poll store
func NewPollStore(d Deps) *PollStore {
	s := &PollStore{
		base:      newBase(d, "polls"),
		uncounted: map[string]struct{}{},
		polls: cache.New(backend.TablePolls, d.Clock, cache.Options[models.Poll]{
			KeyOf:     func(p models.Poll) string { return p.ID },
			ParentKey: func(p models.Poll) string { return p.OwnerID },
			Less:      byCreatedDesc(func(p models.Poll) time.Time { return p.CreatedAt }),
		}),
	}
	s.register()
	return s
}

// Cache exposes the poll cache for observers
func (s *PollStore) Cache() *cache.Cache[models.Poll] { return s.polls }

// Get returns one poll
func (s *PollStore) Get(id string) (models.Poll, bool) {
	return s.polls.Get(id)
}

// ByOwner returns the polls of a group or community, newest first
func (s *PollStore) ByOwner(ownerID string) []models.Poll {
	return s.polls.ListByParent(ownerID)
}

func sortOptions(options []models.PollOption) {
	sort.SliceStable(options, func(i, j int) bool { return options[i].Position < options[j].Position })
}

// Load fetches the polls of ownerID with their options and the acting
// identity's votes
func (s *PollStore) Load(ctx context.Context, ownerID string) ([]models.Poll, error) {
	op := "polls.Load"
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TablePolls,
		Filters: []backend.Filter{backend.Eq("owner_id", ownerID)},
		Order:   []backend.Order{backend.Desc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	polls, err := backend.DecodeAll[models.Poll](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}

	if len(polls) > 0 {
		pollIDs := ids(polls, func(p models.Poll) string { return p.ID })

		optionRows, err := s.query(ctx, op, backend.Query{
			Table:   backend.TablePollOptions,
			Filters: []backend.Filter{backend.In("poll_id", pollIDs...)},
			Order:   []backend.Order{backend.Asc("position")},
		})
		if err != nil {
			return nil, err
		}
		options, err := backend.DecodeAll[models.PollOption](optionRows)
		if err != nil {
			return nil, apperrors.RemoteRejected(op, err)
		}

		votes := map[string][]string{}
		if me := s.me(); me != "" {
			voteRows, err := s.query(ctx, op, backend.Query{
				Table:   backend.TablePollVotes,
				Filters: []backend.Filter{backend.In("poll_id", pollIDs...), backend.Eq("user_id", me)},
			})
			if err != nil {
				return nil, err
			}
			for _, r := range voteRows {
				votes[r.String("poll_id")] = append(votes[r.String("poll_id")], r.String("option_id"))
			}
		}

		byPoll := make(map[string][]models.PollOption)
		for _, o := range options {
			byPoll[o.PollID] = append(byPoll[o.PollID], o)
		}
		for i := range polls {
			polls[i].Options = byPoll[polls[i].ID]
			sortOptions(polls[i].Options)
			polls[i].UserVotes = votes[polls[i].ID]
			polls[i] = aggregate.RecomputePoll(polls[i])
		}
	}

	s.polls.ReplacePartition(ownerID, polls)
	return s.ByOwner(ownerID), nil
}

// LoadPoll makes sure pollID is cached by loading its owner's polls
func (s *PollStore) LoadPoll(ctx context.Context, pollID string) (models.Poll, error) {
	if p, ok := s.Get(pollID); ok {
		return p, nil
	}
	op := "polls.LoadPoll"
	row, err := s.row(ctx, op, backend.TablePolls, pollID, "poll")
	if err != nil {
		return models.Poll{}, err
	}
	if _, err := s.Load(ctx, row.String("owner_id")); err != nil {
		return models.Poll{}, err
	}
	p, ok := s.Get(pollID)
	if !ok {
		return models.Poll{}, notFound(op, "poll")
	}
	return p, nil
}

// Create inserts a poll and then its options. A failure while inserting
// options returns PartialFailure; the poll row stays.
func (s *PollStore) Create(ctx context.Context, ownerID, question string, multipleChoice bool, options []string) (models.Poll, error) {
	op := "polls.Create"
	return mutation.Perform(ctx, s.coord, s.polls, mutation.Mutation[models.Poll]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.Poll], _ models.Identity) error {
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("question is required")
			}
			if len(options) < 2 {
				return fmt.Errorf("a poll needs at least two options")
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.Poll], id models.Identity, key string) models.Poll {
			p := models.Poll{
				ID:               key,
				OwnerID:          ownerID,
				CreatedBy:        id.ID,
				Question:         question,
				IsMultipleChoice: multipleChoice,
				CreatedAt:        s.now(),
			}
			for i, text := range options {
				p.Options = append(p.Options, models.PollOption{ID: fmt.Sprintf("%s-%d", key, i), PollID: key, Text: text, Position: i})
			}
			return aggregate.RecomputePoll(p)
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.Poll) (models.Poll, error) {
			var created models.Poll
			steps := []mutation.Step{{Name: "poll", Run: func(ctx context.Context) error {
				row, err := s.be.Insert(ctx, backend.TablePolls, backend.Row{
					"owner_id":           ownerID,
					"created_by":         id.ID,
					"question":           question,
					"is_multiple_choice": multipleChoice,
				})
				if err != nil {
					return err
				}
				created, err = backend.Decode[models.Poll](row)
				return err
			}}}
			for i, text := range options {
				steps = append(steps, mutation.Step{Name: fmt.Sprintf("option %d", i), Run: func(ctx context.Context) error {
					row, err := s.be.Insert(ctx, backend.TablePollOptions, backend.Row{
						"poll_id":  created.ID,
						"text":     text,
						"position": i,
					})
					if err != nil {
						return err
					}
					o, err := backend.Decode[models.PollOption](row)
					if err != nil {
						return err
					}
					created.Options = append(created.Options, o)
					return nil
				}})
			}
			if err := s.coord.Compound(ctx, op, steps...); err != nil {
				return models.Poll{}, mutation.Partial(err, aggregate.RecomputePoll(created))
			}
			return aggregate.RecomputePoll(created), nil
		},
	})
}

// Vote records a vote for optionID. A second vote on a single-choice poll,
// or a repeat vote for the same option, is Inconsistent. When the vote row
// is written but the count increment fails, the vote stays cached and the
// error is a PartialFailure at step "count"; voting again for the same
// option only retries the increment.
func (s *PollStore) Vote(ctx context.Context, pollID, optionID string) (models.Poll, error) {
	op := "polls.Vote"
	recount := s.isUncounted(pollID, optionID)
	var before models.Poll
	return mutation.Perform(ctx, s.coord, s.polls, mutation.Mutation[models.Poll]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  pollID,
		Precondition: func(cur cache.Entry[models.Poll], _ models.Identity) error {
			if !cur.Present {
				return notFound(op, "poll "+pollID)
			}
			p := cur.Value
			if _, ok := p.Option(optionID); !ok {
				return notFound(op, "option "+optionID)
			}
			if recount {
				return nil
			}
			if !p.IsMultipleChoice && p.HasVoted("") {
				return apperrors.Inconsistent(op, "already voted on this poll")
			}
			if p.HasVoted(optionID) {
				return apperrors.Inconsistent(op, "already voted for this option")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Poll], _ models.Identity, _ string) models.Poll {
			before = cur.Value
			if recount {
				return aggregate.RecomputePoll(cur.Value.WithCount(optionID))
			}
			return aggregate.RecomputePoll(cur.Value.WithVote(optionID))
		},
		Remote: func(ctx context.Context, id models.Identity, optimistic models.Poll) (models.Poll, error) {
			var server models.PollOption
			var steps []mutation.Step
			if !recount {
				steps = append(steps, mutation.Step{Name: "vote", Run: func(ctx context.Context) error {
					_, err := s.be.Insert(ctx, backend.TablePollVotes, backend.Row{
						"poll_id":   pollID,
						"option_id": optionID,
						"user_id":   id.ID,
					})
					if errors.Is(err, backend.ErrConflict) {
						return apperrors.Inconsistent(op, "vote already recorded")
					}
					return err
				}})
			}
			steps = append(steps, mutation.Step{Name: "count", Run: func(ctx context.Context) error {
				row, err := s.be.Call(ctx, backend.FnIncrementOptionVote, backend.Row{"option_id": optionID})
				if err != nil {
					return err
				}
				server, err = backend.Decode[models.PollOption](row)
				return err
			}})

			if err := s.coord.Compound(ctx, op, steps...); err != nil {
				if apperrors.KindOf(err) == apperrors.KindPartialFailure {
					s.setUncounted(pollID, optionID, true)
					return models.Poll{}, mutation.Partial(err, aggregate.RecomputePoll(before.WithUserVote(optionID)))
				}
				return models.Poll{}, err
			}
			s.setUncounted(pollID, optionID, false)
			return aggregate.RecomputePoll(withOption(optimistic, server)), nil
		},
		OnSuccess: func(models.Poll) { s.award(ctx, models.PointsVote, "vote") },
	})
}

func (s *PollStore) isUncounted(pollID, optionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uncounted[pollID+"/"+optionID]
	return ok
}

func (s *PollStore) setUncounted(pollID, optionID string, uncounted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uncounted {
		s.uncounted[pollID+"/"+optionID] = struct{}{}
	} else {
		delete(s.uncounted, pollID+"/"+optionID)
	}
}

// withOption replaces the option with the same id, keeping its position
func withOption(p models.Poll, o models.PollOption) models.Poll {
	options := make([]models.PollOption, len(p.Options))
	copy(options, p.Options)
	found := false
	for i := range options {
		if options[i].ID == o.ID {
			options[i] = o
			found = true
		}
	}
	if !found {
		options = append(options, o)
		sortOptions(options)
	}
	p.Options = options
	return p
}

func (s *PollStore) register() {
	if s.ingest == nil {
		return
	}

	realtime.Bind(s.ingest, backend.TablePolls, s.polls, realtime.BindOptions[models.Poll]{
		Merge: func(cur cache.Entry[models.Poll], in models.Poll) models.Poll {
			if cur.Present {
				in.Options = cur.Value.Options
				in.UserVotes = cur.Value.UserVotes
			}
			return aggregate.RecomputePoll(in)
		},
	})

	s.ingest.Handle(backend.TablePollOptions, func(ev backend.ChangeEvent) error {
		o, err := backend.Decode[models.PollOption](ev.Record)
		if err != nil {
			return fmt.Errorf("%w: %v", realtime.ErrMalformed, err)
		}
		if o.ID == "" || o.PollID == "" {
			return fmt.Errorf("%w: option without id or poll_id", realtime.ErrMalformed)
		}
		p, ok := s.polls.Get(o.PollID)
		if !ok {
			return nil
		}

		var next models.Poll
		if ev.Type == backend.ChangeDelete {
			next = p
			next.Options = nil
			for _, existing := range p.Options {
				if existing.ID != o.ID {
					next.Options = append(next.Options, existing)
				}
			}
		} else {
			next = withOption(p, o)
		}
		s.polls.Set(p.ID, aggregate.RecomputePoll(next))
		return nil
	})

	s.ingest.Handle(backend.TablePollVotes, func(ev backend.ChangeEvent) error {
		v, err := backend.Decode[models.PollVote](ev.Record)
		if err != nil {
			return fmt.Errorf("%w: %v", realtime.ErrMalformed, err)
		}
		if v.UserID != s.me() {
			// counts arrive through poll_options
			return nil
		}
		p, ok := s.polls.Get(v.PollID)
		if !ok {
			return nil
		}
		voted := ev.Type != backend.ChangeDelete
		if p.HasVoted(v.OptionID) == voted {
			return nil
		}
		if voted {
			p.UserVotes = append(append([]string(nil), p.UserVotes...), v.OptionID)
		} else {
			var kept []string
			for _, id := range p.UserVotes {
				if id != v.OptionID {
					kept = append(kept, id)
				}
			}
			p.UserVotes = kept
		}
		s.polls.Set(p.ID, p)
		return nil
	})
}
