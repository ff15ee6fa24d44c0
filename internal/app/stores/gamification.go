package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/yigit/hackhub/internal/aggregate"
	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/cache"
	"github.com/yigit/hackhub/internal/mutation"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/realtime"
)

// GamificationStore mirrors point totals, the badge catalog, earned badges
// and the achievement log. Levels are derived from totals.
type GamificationStore struct {
	base
	profiles     *cache.Cache[models.Profile]
	badges       *cache.Cache[models.Badge]
	achievements *cache.Cache[models.Achievement]
}

// NewGamificationStore creates the gamification store
func NewGamificationStore(d Deps) *GamificationStore {
	s := &GamificationStore{
		base: newBase(d, "gamification"),
		profiles: cache.New(backend.TableUserPoints, d.Clock, cache.Options[models.Profile]{
			KeyOf: func(p models.Profile) string { return p.UserID },
			Less: func(a, b models.Profile) bool {
				if a.TotalPoints != b.TotalPoints {
					return a.TotalPoints > b.TotalPoints
				}
				return a.UserID < b.UserID
			},
		}),
		badges: cache.New(backend.TableBadges, d.Clock, cache.Options[models.Badge]{
			KeyOf: func(b models.Badge) string { return b.ID },
			Less: func(a, b models.Badge) bool {
				if a.Threshold != b.Threshold {
					return a.Threshold < b.Threshold
				}
				return a.ID < b.ID
			},
		}),
		achievements: cache.New(backend.TableUserAchievements, d.Clock, cache.Options[models.Achievement]{
			KeyOf:     func(a models.Achievement) string { return a.ID },
			ParentKey: func(a models.Achievement) string { return a.UserID },
			Less:      byCreatedDesc(func(a models.Achievement) time.Time { return a.CreatedAt }),
		}),
	}
	s.register()
	return s
}

// ProfilesCache exposes the profile cache for observers
func (s *GamificationStore) ProfilesCache() *cache.Cache[models.Profile] { return s.profiles }

// Profile returns the cached profile of userID
func (s *GamificationStore) Profile(userID string) (models.Profile, bool) {
	return s.profiles.Get(userID)
}

// Badges returns the badge catalog, lowest threshold first
func (s *GamificationStore) Badges() []models.Badge {
	return s.badges.List()
}

// Achievements returns the award log of userID, newest first
func (s *GamificationStore) Achievements(userID string) []models.Achievement {
	return s.achievements.ListByParent(userID)
}

// Leaderboard returns the cached profiles ordered by points
func (s *GamificationStore) Leaderboard() []models.Profile {
	return s.profiles.List()
}

// LoadBadges fetches the badge catalog
func (s *GamificationStore) LoadBadges(ctx context.Context) ([]models.Badge, error) {
	op := "gamification.LoadBadges"
	rows, err := s.query(ctx, op, backend.Query{Table: backend.TableBadges, Order: []backend.Order{backend.Asc("threshold")}})
	if err != nil {
		return nil, err
	}
	badges, err := backend.DecodeAll[models.Badge](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	s.badges.Load(badges)
	return s.Badges(), nil
}

// LoadProfile fetches the point total and earned badges of userID. A user
// without a points row gets a zero profile at level 1.
func (s *GamificationStore) LoadProfile(ctx context.Context, userID string) (models.Profile, error) {
	op := "gamification.LoadProfile"
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableUserPoints,
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
		Limit:   1,
	})
	if err != nil {
		return models.Profile{}, err
	}
	p := models.Profile{UserID: userID}
	if len(rows) > 0 {
		if p, err = backend.Decode[models.Profile](rows[0]); err != nil {
			return models.Profile{}, apperrors.RemoteRejected(op, err)
		}
	}

	badgeRows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableUserBadges,
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
		Order:   []backend.Order{backend.Asc("earned_at")},
	})
	if err != nil {
		return models.Profile{}, err
	}
	for _, r := range badgeRows {
		p = p.WithBadge(r.String("badge_id"))
	}

	p = aggregate.WithLevel(p)
	s.profiles.Set(userID, p)
	return p, nil
}

// LoadLeaderboard fetches the top limit point totals
func (s *GamificationStore) LoadLeaderboard(ctx context.Context, limit int) ([]models.Profile, error) {
	op := "gamification.LoadLeaderboard"
	rows, err := s.query(ctx, op, backend.Query{
		Table: backend.TableUserPoints,
		Order: []backend.Order{backend.Desc("total_points"), backend.Asc("user_id")},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	profiles, err := backend.DecodeAll[models.Profile](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	for _, p := range profiles {
		if cur, ok := s.profiles.Get(p.UserID); ok {
			p.Badges = cur.Badges
		}
		s.profiles.Set(p.UserID, aggregate.WithLevel(p))
	}
	out := s.Leaderboard()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadAchievements fetches the award log of userID
func (s *GamificationStore) LoadAchievements(ctx context.Context, userID string) ([]models.Achievement, error) {
	op := "gamification.LoadAchievements"
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableUserAchievements,
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
		Order:   []backend.Order{backend.Desc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	items, err := backend.DecodeAll[models.Achievement](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	s.achievements.ReplacePartition(userID, items)
	return s.Achievements(userID), nil
}

// AwardPoints adds points to userID and grants every badge whose threshold
// the new total reaches. A badge already held is never granted twice.
func (s *GamificationStore) AwardPoints(ctx context.Context, userID string, points int, action string) (models.Profile, error) {
	op := "gamification.AwardPoints"
	var granted []models.Badge

	return mutation.Perform(ctx, s.coord, s.profiles, mutation.Mutation[models.Profile]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  userID,
		Precondition: func(_ cache.Entry[models.Profile], id models.Identity) error {
			if userID == "" {
				return fmt.Errorf("user is required")
			}
			if userID != id.ID {
				return apperrors.Forbidden(op, "points can only be awarded to the acting user")
			}
			if points < 0 {
				return fmt.Errorf("points must not be negative")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.Profile], _ models.Identity, _ string) models.Profile {
			p := cur.Value
			p.UserID = userID
			p.TotalPoints += points
			return aggregate.WithLevel(p)
		},
		Remote: func(ctx context.Context, _ models.Identity, optimistic models.Profile) (models.Profile, error) {
			row, err := s.be.Call(ctx, backend.FnAddUserPoints, backend.Row{
				"user_id": userID,
				"points":  points,
				"action":  action,
			})
			if err != nil {
				return models.Profile{}, err
			}
			confirmed, err := backend.Decode[models.Profile](row)
			if err != nil {
				return models.Profile{}, err
			}
			confirmed.Badges = optimistic.Badges
			confirmed = aggregate.WithLevel(confirmed)

			catalog, err := s.catalog(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("Loading badge catalog failed")
				return confirmed, nil
			}
			for _, b := range aggregate.EligibleBadges(confirmed.TotalPoints, catalog, confirmed.Badges) {
				_, err := s.be.Insert(ctx, backend.TableUserBadges, backend.Row{"user_id": userID, "badge_id": b.ID})
				switch {
				case err == nil:
					granted = append(granted, b)
				case ignoreConflict(err) == nil:
					// granted by a concurrent award
				default:
					s.log.Warn().Err(err).Str("badge", b.ID).Msg("Granting badge failed")
					continue
				}
				confirmed = confirmed.WithBadge(b.ID)
			}
			return confirmed, nil
		},
		OnSuccess: func(p models.Profile) {
			s.log.Info().Str("user", userID).Str("action", action).Int("points", points).Int("total", p.TotalPoints).Msg("Points awarded")
			for _, b := range granted {
				s.announce(ctx, userID, b)
			}
		},
	})
}

// catalog returns the cached badge catalog, loading it on first use
func (s *GamificationStore) catalog(ctx context.Context) ([]models.Badge, error) {
	if s.badges.Len() > 0 {
		return s.badges.List(), nil
	}
	return s.LoadBadges(ctx)
}

func (s *GamificationStore) announce(ctx context.Context, userID string, b models.Badge) {
	if s.locator == nil {
		return
	}
	n := s.locator.Notifications()
	if n == nil {
		return
	}
	payload := map[string]string{"badge_id": b.ID}
	if err := n.Notify(context.WithoutCancel(ctx), userID, models.NotificationBadge, "Badge earned", b.Name, payload); err != nil {
		s.log.Warn().Err(err).Str("badge", b.ID).Msg("Announcing badge failed")
	}
}

func (s *GamificationStore) register() {
	if s.ingest == nil {
		return
	}

	realtime.Bind(s.ingest, backend.TableUserPoints, s.profiles, realtime.BindOptions[models.Profile]{
		Merge: func(cur cache.Entry[models.Profile], in models.Profile) models.Profile {
			if cur.Present {
				in.Badges = cur.Value.Badges
			}
			return aggregate.WithLevel(in)
		},
	})
	realtime.Bind(s.ingest, backend.TableBadges, s.badges, realtime.BindOptions[models.Badge]{})
	realtime.Bind(s.ingest, backend.TableUserAchievements, s.achievements, realtime.BindOptions[models.Achievement]{})

	s.ingest.Handle(backend.TableUserBadges, func(ev backend.ChangeEvent) error {
		ub, err := backend.Decode[models.UserBadge](ev.Record)
		if err != nil {
			return fmt.Errorf("%w: %v", realtime.ErrMalformed, err)
		}
		if ub.UserID == "" || ub.BadgeID == "" {
			return fmt.Errorf("%w: user badge without user_id or badge_id", realtime.ErrMalformed)
		}
		p, ok := s.profiles.Get(ub.UserID)
		if !ok {
			return nil
		}
		if ev.Type == backend.ChangeDelete {
			held := p.Badges
			p.Badges = nil
			for _, id := range held {
				if id != ub.BadgeID {
					p.Badges = append(p.Badges, id)
				}
			}
		} else {
			if p.HasBadge(ub.BadgeID) {
				return nil
			}
			p = p.WithBadge(ub.BadgeID)
		}
		s.profiles.Set(ub.UserID, p)
		return nil
	})
}
