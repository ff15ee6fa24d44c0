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
	"github.com/yigit/hackhub/internal/tree"
)

// ForumStore mirrors forums, their topics and the threaded replies of each
// topic. Topic and reply counts are derived on read.
type ForumStore struct {
	base
	forums *cache.Cache[models.Forum]
	topics *cache.Cache[models.ForumTopic]
	posts  *cache.Cache[models.ForumPost]
}

// NewForumStore creates the forum store
func NewForumStore(d Deps) *ForumStore {
	s := &ForumStore{
		base: newBase(d, "forums"),
		forums: cache.New(backend.TableForums, d.Clock, cache.Options[models.Forum]{
			KeyOf: func(f models.Forum) string { return f.ID },
			Less:  func(a, b models.Forum) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) },
		}),
		topics: cache.New(backend.TableForumTopics, d.Clock, cache.Options[models.ForumTopic]{
			KeyOf:     func(t models.ForumTopic) string { return t.ID },
			ParentKey: func(t models.ForumTopic) string { return t.ForumID },
			// pinned topics first, then newest
			Less: func(a, b models.ForumTopic) bool {
				if a.IsPinned != b.IsPinned {
					return a.IsPinned
				}
				return a.CreatedAt.After(b.CreatedAt)
			},
		}),
		posts: cache.New(backend.TableForumPosts, d.Clock, cache.Options[models.ForumPost]{
			KeyOf:     func(p models.ForumPost) string { return p.ID },
			ParentKey: func(p models.ForumPost) string { return p.TopicID },
			Less:      byCreatedAsc(func(p models.ForumPost) time.Time { return p.CreatedAt }),
		}),
	}
	s.register()
	return s
}

// ForumsCache exposes the forum cache for observers
func (s *ForumStore) ForumsCache() *cache.Cache[models.Forum] { return s.forums }

// TopicsCache exposes the topic cache for observers
func (s *ForumStore) TopicsCache() *cache.Cache[models.ForumTopic] { return s.topics }

// PostsCache exposes the reply cache for observers
func (s *ForumStore) PostsCache() *cache.Cache[models.ForumPost] { return s.posts }

// Forums returns every forum with its topic count
func (s *ForumStore) Forums() []models.Forum {
	forums := s.forums.List()
	for i, f := range forums {
		forums[i].TopicCount = len(s.topics.ListByParent(f.ID))
	}
	return forums
}

// Topics returns a forum's topics, pinned first, with reply counts
func (s *ForumStore) Topics(forumID string) []models.ForumTopic {
	topics := s.topics.ListByParent(forumID)
	for i, t := range topics {
		topics[i].ReplyCount = len(s.posts.ListByParent(t.ID))
	}
	return topics
}

// Topic returns one topic with its reply count
func (s *ForumStore) Topic(id string) (models.ForumTopic, bool) {
	t, ok := s.topics.Get(id)
	if ok {
		t.ReplyCount = len(s.posts.ListByParent(id))
	}
	return t, ok
}

// Thread returns the reply forest of a topic
func (s *ForumStore) Thread(topicID string) []*tree.Thread[models.ForumPost] {
	return tree.Build(s.posts.ListByParent(topicID))
}

// LoadForums fetches every forum
func (s *ForumStore) LoadForums(ctx context.Context) ([]models.Forum, error) {
	op := "forums.LoadForums"
	rows, err := s.query(ctx, op, backend.Query{Table: backend.TableForums, Order: []backend.Order{backend.Asc("name")}})
	if err != nil {
		return nil, err
	}
	forums, err := backend.DecodeAll[models.Forum](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	s.forums.Load(forums)
	return s.Forums(), nil
}

// LoadTopics fetches a forum's topics and all their replies
func (s *ForumStore) LoadTopics(ctx context.Context, forumID string) ([]models.ForumTopic, error) {
	op := "forums.LoadTopics"
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableForumTopics,
		Filters: []backend.Filter{backend.Eq("forum_id", forumID)},
		Order:   []backend.Order{backend.Desc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	topics, err := backend.DecodeAll[models.ForumTopic](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}

	if len(topics) > 0 {
		replyRows, err := s.query(ctx, op, backend.Query{
			Table:   backend.TableForumPosts,
			Filters: []backend.Filter{backend.In("topic_id", ids(topics, func(t models.ForumTopic) string { return t.ID })...)},
			Order:   []backend.Order{backend.Asc("created_at")},
		})
		if err != nil {
			return nil, err
		}
		replies, err := backend.DecodeAll[models.ForumPost](replyRows)
		if err != nil {
			return nil, apperrors.RemoteRejected(op, err)
		}
		byTopic := make(map[string][]models.ForumPost)
		for _, r := range replies {
			byTopic[r.TopicID] = append(byTopic[r.TopicID], r)
		}
		for _, t := range topics {
			s.posts.ReplacePartition(t.ID, byTopic[t.ID])
		}
	}

	s.topics.ReplacePartition(forumID, topics)
	return s.Topics(forumID), nil
}

// CreateTopic opens a topic and awards points for it
func (s *ForumStore) CreateTopic(ctx context.Context, forumID, title, content string) (models.ForumTopic, error) {
	op := "forums.CreateTopic"
	return mutation.Perform(ctx, s.coord, s.topics, mutation.Mutation[models.ForumTopic]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.ForumTopic], _ models.Identity) error {
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("title is required")
			}
			if _, ok := s.forums.Get(forumID); !ok {
				return notFound(op, "forum "+forumID)
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.ForumTopic], id models.Identity, key string) models.ForumTopic {
			return models.ForumTopic{ID: key, ForumID: forumID, AuthorID: id.ID, Title: title, Content: content, CreatedAt: s.now()}
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.ForumTopic) (models.ForumTopic, error) {
			row, err := s.be.Insert(ctx, backend.TableForumTopics, backend.Row{
				"forum_id":  forumID,
				"author_id": id.ID,
				"title":     title,
				"content":   content,
			})
			if err != nil {
				return models.ForumTopic{}, err
			}
			return backend.Decode[models.ForumTopic](row)
		},
		OnSuccess: func(models.ForumTopic) { s.award(ctx, models.PointsTopic, "topic") },
	})
}

// Reply posts to a topic, optionally under another reply
func (s *ForumStore) Reply(ctx context.Context, topicID string, parentID *string, content string) (models.ForumPost, error) {
	op := "forums.Reply"
	return mutation.Perform(ctx, s.coord, s.posts, mutation.Mutation[models.ForumPost]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.ForumPost], _ models.Identity) error {
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("content is required")
			}
			if _, ok := s.topics.Get(topicID); !ok {
				return notFound(op, "topic "+topicID)
			}
			if parentID != nil {
				parent, ok := s.posts.Get(*parentID)
				if !ok {
					return notFound(op, "reply "+*parentID)
				}
				if parent.TopicID != topicID {
					return apperrors.Inconsistent(op, "parent reply belongs to another topic")
				}
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.ForumPost], id models.Identity, key string) models.ForumPost {
			return models.ForumPost{ID: key, TopicID: topicID, AuthorID: id.ID, ParentID: parentID, Content: content, CreatedAt: s.now()}
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.ForumPost) (models.ForumPost, error) {
			row := backend.Row{"topic_id": topicID, "author_id": id.ID, "content": content}
			if parentID != nil {
				row["parent_id"] = *parentID
			}
			created, err := s.be.Insert(ctx, backend.TableForumPosts, row)
			if err != nil {
				return models.ForumPost{}, err
			}
			return backend.Decode[models.ForumPost](created)
		},
		OnSuccess: func(models.ForumPost) { s.award(ctx, models.PointsReply, "reply") },
	})
}

// Pin pins or unpins a topic. Only the topic author may do so.
func (s *ForumStore) Pin(ctx context.Context, topicID string, pinned bool) (models.ForumTopic, error) {
	op := "forums.Pin"
	return mutation.Perform(ctx, s.coord, s.topics, mutation.Mutation[models.ForumTopic]{
		Op:   op,
		Kind: mutation.KindUpdate,
		Key:  topicID,
		Precondition: func(cur cache.Entry[models.ForumTopic], id models.Identity) error {
			if !cur.Present {
				return notFound(op, "topic "+topicID)
			}
			if cur.Value.AuthorID != id.ID {
				return apperrors.Inconsistent(op, "only the author can pin a topic")
			}
			return nil
		},
		Apply: func(cur cache.Entry[models.ForumTopic], _ models.Identity, _ string) models.ForumTopic {
			t := cur.Value
			t.IsPinned = pinned
			return t
		},
		Remote: func(ctx context.Context, _ models.Identity, _ models.ForumTopic) (models.ForumTopic, error) {
			row, err := backend.UpdateOne(ctx, s.be, backend.TableForumTopics, topicID, backend.Row{"is_pinned": pinned})
			if err != nil {
				return models.ForumTopic{}, err
			}
			return backend.Decode[models.ForumTopic](row)
		},
	})
}

func (s *ForumStore) register() {
	if s.ingest == nil {
		return
	}
	realtime.Bind(s.ingest, backend.TableForums, s.forums, realtime.BindOptions[models.Forum]{})
	realtime.Bind(s.ingest, backend.TableForumTopics, s.topics, realtime.BindOptions[models.ForumTopic]{})
	realtime.Bind(s.ingest, backend.TableForumPosts, s.posts, realtime.BindOptions[models.ForumPost]{})
}
