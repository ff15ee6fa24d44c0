package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/realtime"
)

// EventStore mirrors community events and their attendee sets
type EventStore struct {
	base
	events *cache.Cache[models.Event]
}

// NewEventStore creates the event store
func NewEventStore(d Deps) *EventStore {
	s := &EventStore{
		base: newBase(d, "events"),
		events: cache.New(backend.TableEvents, d.Clock, cache.Options[models.Event]{
			KeyOf:     func(e models.Event) string { return e.ID },
			ParentKey: func(e models.Event) string { return e.CommunityID },
			Less:      byCreatedAsc(func(e models.Event) time.Time { return e.StartsAt }),
		}),
	}
	s.register()
	return s
}

// Cache exposes the event cache for observers
func (s *EventStore) Cache() *cache.Cache[models.Event] { return s.events }

// Get returns one event
func (s *EventStore) Get(id string) (models.Event, bool) {
	e, ok := s.events.Get(id)
	if ok {
		e.Attending = e.AttendedBy(s.me())
	}
	return e, ok
}

// ByCommunity returns a community's events, soonest first
func (s *EventStore) ByCommunity(communityID string) []models.Event {
	me := s.me()
	events := s.events.ListByParent(communityID)
	for i := range events {
		events[i].Attending = events[i].AttendedBy(me)
	}
	return events
}

// Load fetches a community's events with their attendees
func (s *EventStore) Load(ctx context.Context, communityID string) ([]models.Event, error) {
	op := "events.Load"
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableEvents,
		Filters: []backend.Filter{backend.Eq("community_id", communityID)},
		Order:   []backend.Order{backend.Asc("starts_at")},
	})
	if err != nil {
		return nil, err
	}
	events, err := backend.DecodeAll[models.Event](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}

	if len(events) > 0 {
		attendeeRows, err := s.query(ctx, op, backend.Query{
			Table:   backend.TableEventAttendees,
			Filters: []backend.Filter{backend.In("event_id", ids(events, func(e models.Event) string { return e.ID })...)},
		})
		if err != nil {
			return nil, err
		}
		attendees := make(map[string][]string)
		for _, r := range attendeeRows {
			attendees[r.String("event_id")] = append(attendees[r.String("event_id")], r.String("user_id"))
		}
		for i := range events {
			events[i].Attendees = attendees[events[i].ID]
		}
	}

	s.events.ReplacePartition(communityID, events)
	return s.ByCommunity(communityID), nil
}

// LoadEvent makes sure eventID is cached by loading its community's events
func (s *EventStore) LoadEvent(ctx context.Context, eventID string) (models.Event, error) {
	if ev, ok := s.Get(eventID); ok {
		return ev, nil
	}
	op := "events.LoadEvent"
	row, err := s.row(ctx, op, backend.TableEvents, eventID, "event")
	if err != nil {
		return models.Event{}, err
	}
	if _, err := s.Load(ctx, row.String("community_id")); err != nil {
		return models.Event{}, err
	}
	ev, ok := s.Get(eventID)
	if !ok {
		return models.Event{}, notFound(op, "event")
	}
	return ev, nil
}

// Create schedules an event; the creator attends it
func (s *EventStore) Create(ctx context.Context, communityID, title, description, location string, startsAt time.Time) (models.Event, error) {
	op := "events.Create"
	return mutation.Perform(ctx, s.coord, s.events, mutation.Mutation[models.Event]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.Event], _ models.Identity) error {
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("title is required")
			}
			if startsAt.IsZero() {
				return fmt.Errorf("start time is required")
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.Event], id models.Identity, key string) models.Event {
			e := models.Event{
				ID:          key,
				CommunityID: communityID,
				Title:       title,
				Description: description,
				Location:    location,
				StartsAt:    startsAt,
				CreatedBy:   id.ID,
			}
			return e.WithAttendee(id.ID, true)
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.Event) (models.Event, error) {
			var created models.Event
			err := s.coord.Compound(ctx, op,
				mutation.Step{Name: "event", Run: func(ctx context.Context) error {
					row, err := s.be.Insert(ctx, backend.TableEvents, backend.Row{
						"community_id": communityID,
						"title":        title,
						"description":  description,
						"location":     location,
						"starts_at":    startsAt,
						"created_by":   id.ID,
					})
					if err != nil {
						return err
					}
					created, err = backend.Decode[models.Event](row)
					return err
				}},
				mutation.Step{Name: "attendance", Run: func(ctx context.Context) error {
					_, err := s.be.Insert(ctx, backend.TableEventAttendees, backend.Row{"event_id": created.ID, "user_id": id.ID})
					return ignoreConflict(err)
				}},
			)
			if err != nil {
				return models.Event{}, mutation.Partial(err, created)
			}
			return created.WithAttendee(id.ID, true), nil
		},
	})
}

// ToggleAttend flips the acting identity's attendance. Rapid toggles
// settle on the last intent.
func (s *EventStore) ToggleAttend(ctx context.Context, eventID string) (models.Event, error) {
	op := "events.ToggleAttend"
	e, err := mutation.Perform(ctx, s.coord, s.events, mutation.Mutation[models.Event]{
		Op:           op,
		Kind:         mutation.KindToggle,
		Key:          eventID,
		Precondition: requirePresent[models.Event](op, "event "+eventID),
		Apply: func(cur cache.Entry[models.Event], id models.Identity, _ string) models.Event {
			return cur.Value.WithAttendee(id.ID, !cur.Value.AttendedBy(id.ID))
		},
		Remote: func(ctx context.Context, id models.Identity, optimistic models.Event) (models.Event, error) {
			if optimistic.AttendedBy(id.ID) {
				_, err := s.be.Insert(ctx, backend.TableEventAttendees, backend.Row{"event_id": eventID, "user_id": id.ID})
				if err := ignoreConflict(err); err != nil {
					return models.Event{}, err
				}
				return optimistic, nil
			}
			_, err := s.be.Delete(ctx, backend.TableEventAttendees, []backend.Filter{
				backend.Eq("event_id", eventID),
				backend.Eq("user_id", id.ID),
			})
			if err != nil {
				return models.Event{}, err
			}
			return optimistic, nil
		},
	})
	if err != nil {
		return e, err
	}
	e.Attending = e.AttendedBy(s.me())
	return e, nil
}

func (s *EventStore) register() {
	if s.ingest == nil {
		return
	}

	realtime.Bind(s.ingest, backend.TableEvents, s.events, realtime.BindOptions[models.Event]{
		Merge: func(cur cache.Entry[models.Event], in models.Event) models.Event {
			if cur.Present {
				in.Attendees = cur.Value.Attendees
			}
			return in
		},
	})

	s.ingest.Handle(backend.TableEventAttendees, func(ev backend.ChangeEvent) error {
		eventID, userID := ev.Record.String("event_id"), ev.Record.String("user_id")
		if eventID == "" || userID == "" {
			return fmt.Errorf("%w: attendance without event_id or user_id", realtime.ErrMalformed)
		}
		e, ok := s.events.Get(eventID)
		if !ok {
			return nil
		}
		attending := ev.Type != backend.ChangeDelete
		if e.AttendedBy(userID) == attending {
			return nil
		}
		s.events.Set(eventID, e.WithAttendee(userID, attending))
		return nil
	})
}
