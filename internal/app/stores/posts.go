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

// PostStore mirrors community feeds, their likes and comment threads.
// Comment counts are derived from the cached comments on read.
type PostStore struct {
	base
	posts    *cache.Cache[models.Post]
	comments *cache.Cache[models.Comment]
}

// NewPostStore creates the post store
func NewPostStore(d Deps) *PostStore {
	s := &PostStore{
		base: newBase(d, "posts"),
		posts: cache.New(backend.TablePosts, d.Clock, cache.Options[models.Post]{
			KeyOf:     func(p models.Post) string { return p.ID },
			ParentKey: func(p models.Post) string { return p.CommunityID },
			Less:      byCreatedDesc(func(p models.Post) time.Time { return p.CreatedAt }),
		}),
		comments: cache.New(backend.TableComments, d.Clock, cache.Options[models.Comment]{
			KeyOf:     func(c models.Comment) string { return c.ID },
			ParentKey: func(c models.Comment) string { return c.PostID },
			Less:      byCreatedAsc(func(c models.Comment) time.Time { return c.CreatedAt }),
		}),
	}
	s.register()
	return s
}

// PostsCache exposes the post cache for observers
func (s *PostStore) PostsCache() *cache.Cache[models.Post] { return s.posts }

// CommentsCache exposes the comment cache for observers
func (s *PostStore) CommentsCache() *cache.Cache[models.Comment] { return s.comments }

func (s *PostStore) view(p models.Post, me string) models.Post {
	p.Liked = p.LikedBy(me)
	p.LikeCount = len(p.Likes)
	p.CommentCount = len(s.comments.ListByParent(p.ID))
	return p
}

// Get returns one post with derived fields
func (s *PostStore) Get(id string) (models.Post, bool) {
	p, ok := s.posts.Get(id)
	if !ok {
		return p, false
	}
	return s.view(p, s.me()), true
}

// Feed returns a community's posts, newest first
func (s *PostStore) Feed(communityID string) []models.Post {
	me := s.me()
	posts := s.posts.ListByParent(communityID)
	for i, p := range posts {
		posts[i] = s.view(p, me)
	}
	return posts
}

// Comments returns the comment forest of a post
func (s *PostStore) Comments(postID string) []*tree.Thread[models.Comment] {
	return tree.Build(s.comments.ListByParent(postID))
}

// LoadFeed fetches a community's posts together with their likes and
// comments, replacing the cached partition
func (s *PostStore) LoadFeed(ctx context.Context, communityID string) ([]models.Post, error) {
	op := "posts.LoadFeed"

	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TablePosts,
		Filters: []backend.Filter{backend.Eq("community_id", communityID)},
		Order:   []backend.Order{backend.Desc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	posts, err := backend.DecodeAll[models.Post](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}

	if len(posts) > 0 {
		postIDs := ids(posts, func(p models.Post) string { return p.ID })

		likeRows, err := s.query(ctx, op, backend.Query{
			Table:   backend.TablePostLikes,
			Filters: []backend.Filter{backend.In("post_id", postIDs...)},
		})
		if err != nil {
			return nil, err
		}
		likes := make(map[string][]string)
		for _, r := range likeRows {
			likes[r.String("post_id")] = append(likes[r.String("post_id")], r.String("user_id"))
		}
		for i := range posts {
			posts[i].Likes = likes[posts[i].ID]
		}

		commentRows, err := s.query(ctx, op, backend.Query{
			Table:   backend.TableComments,
			Filters: []backend.Filter{backend.In("post_id", postIDs...)},
			Order:   []backend.Order{backend.Asc("created_at")},
		})
		if err != nil {
			return nil, err
		}
		comments, err := backend.DecodeAll[models.Comment](commentRows)
		if err != nil {
			return nil, apperrors.RemoteRejected(op, err)
		}
		byPost := make(map[string][]models.Comment)
		for _, c := range comments {
			byPost[c.PostID] = append(byPost[c.PostID], c)
		}
		for _, p := range posts {
			s.comments.ReplacePartition(p.ID, byPost[p.ID])
		}
	}

	s.posts.ReplacePartition(communityID, posts)
	return s.Feed(communityID), nil
}

// LoadPost makes sure postID is cached by loading the feed it belongs to
func (s *PostStore) LoadPost(ctx context.Context, postID string) (models.Post, error) {
	if p, ok := s.Get(postID); ok {
		return p, nil
	}
	op := "posts.LoadPost"
	row, err := s.row(ctx, op, backend.TablePosts, postID, "post")
	if err != nil {
		return models.Post{}, err
	}
	if _, err := s.LoadFeed(ctx, row.String("community_id")); err != nil {
		return models.Post{}, err
	}
	p, ok := s.Get(postID)
	if !ok {
		return models.Post{}, notFound(op, "post")
	}
	return p, nil
}

// LoadComments refetches one post's comments
func (s *PostStore) LoadComments(ctx context.Context, postID string) ([]*tree.Thread[models.Comment], error) {
	op := "posts.LoadComments"
	rows, err := s.query(ctx, op, backend.Query{
		Table:   backend.TableComments,
		Filters: []backend.Filter{backend.Eq("post_id", postID)},
		Order:   []backend.Order{backend.Asc("created_at")},
	})
	if err != nil {
		return nil, err
	}
	comments, err := backend.DecodeAll[models.Comment](rows)
	if err != nil {
		return nil, apperrors.RemoteRejected(op, err)
	}
	s.comments.ReplacePartition(postID, comments)
	return s.Comments(postID), nil
}

// Create publishes a post and awards points for it
func (s *PostStore) Create(ctx context.Context, communityID, content string) (models.Post, error) {
	op := "posts.Create"
	p, err := mutation.Perform(ctx, s.coord, s.posts, mutation.Mutation[models.Post]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.Post], _ models.Identity) error {
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("content is required")
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.Post], id models.Identity, key string) models.Post {
			return models.Post{ID: key, CommunityID: communityID, AuthorID: id.ID, Content: content, CreatedAt: s.now()}
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.Post) (models.Post, error) {
			row, err := s.be.Insert(ctx, backend.TablePosts, backend.Row{
				"community_id": communityID,
				"author_id":    id.ID,
				"content":      content,
			})
			if err != nil {
				return models.Post{}, err
			}
			return backend.Decode[models.Post](row)
		},
		OnSuccess: func(models.Post) { s.award(ctx, models.PointsPost, "post") },
	})
	if err != nil {
		return p, err
	}
	return s.view(p, s.me()), nil
}

// Delete removes one of the acting identity's posts
func (s *PostStore) Delete(ctx context.Context, postID string) error {
	op := "posts.Delete"
	_, err := mutation.Perform(ctx, s.coord, s.posts, mutation.Mutation[models.Post]{
		Op:   op,
		Kind: mutation.KindDelete,
		Key:  postID,
		Precondition: func(cur cache.Entry[models.Post], id models.Identity) error {
			if !cur.Present {
				return notFound(op, "post "+postID)
			}
			if cur.Value.AuthorID != id.ID {
				return apperrors.Inconsistent(op, "only the author can delete a post")
			}
			return nil
		},
		Remote: func(ctx context.Context, _ models.Identity, _ models.Post) (models.Post, error) {
			n, err := s.be.Delete(ctx, backend.TablePosts, []backend.Filter{backend.Eq("id", postID)})
			if err != nil {
				return models.Post{}, err
			}
			if n == 0 {
				return models.Post{}, fmt.Errorf("post %s: %w", postID, backend.ErrNotFound)
			}
			return models.Post{}, nil
		},
	})
	return err
}

// ToggleLike flips the acting identity's like. Rapid toggles settle on the
// last intent.
func (s *PostStore) ToggleLike(ctx context.Context, postID string) (models.Post, error) {
	op := "posts.ToggleLike"
	p, err := mutation.Perform(ctx, s.coord, s.posts, mutation.Mutation[models.Post]{
		Op:           op,
		Kind:         mutation.KindToggle,
		Key:          postID,
		Precondition: requirePresent[models.Post](op, "post "+postID),
		Apply: func(cur cache.Entry[models.Post], id models.Identity, _ string) models.Post {
			return cur.Value.WithLike(id.ID, !cur.Value.LikedBy(id.ID))
		},
		Remote: func(ctx context.Context, id models.Identity, optimistic models.Post) (models.Post, error) {
			if optimistic.LikedBy(id.ID) {
				_, err := s.be.Insert(ctx, backend.TablePostLikes, backend.Row{"post_id": postID, "user_id": id.ID})
				if err := ignoreConflict(err); err != nil {
					return models.Post{}, err
				}
			} else {
				if _, err := s.be.Delete(ctx, backend.TablePostLikes, []backend.Filter{
					backend.Eq("post_id", postID),
					backend.Eq("user_id", id.ID),
				}); err != nil {
					return models.Post{}, err
				}
			}
			return optimistic, nil
		},
		OnSuccess: func(p models.Post) {
			if p.LikedBy(s.me()) {
				s.notify(ctx, p.AuthorID, models.NotificationLike, "New like", "Someone liked your post")
			}
		},
	})
	if err != nil {
		return p, err
	}
	return s.view(p, s.me()), nil
}

// AddComment adds a comment or a reply to parentID
func (s *PostStore) AddComment(ctx context.Context, postID string, parentID *string, content string) (models.Comment, error) {
	op := "posts.AddComment"
	return mutation.Perform(ctx, s.coord, s.comments, mutation.Mutation[models.Comment]{
		Op:   op,
		Kind: mutation.KindCreate,
		Precondition: func(_ cache.Entry[models.Comment], _ models.Identity) error {
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("content is required")
			}
			if _, ok := s.posts.Get(postID); !ok {
				return notFound(op, "post "+postID)
			}
			if parentID != nil {
				parent, ok := s.comments.Get(*parentID)
				if !ok {
					return notFound(op, "comment "+*parentID)
				}
				if parent.PostID != postID {
					return apperrors.Inconsistent(op, "reply belongs to another post")
				}
			}
			return nil
		},
		Apply: func(_ cache.Entry[models.Comment], id models.Identity, key string) models.Comment {
			return models.Comment{ID: key, PostID: postID, AuthorID: id.ID, ParentID: parentID, Content: content, CreatedAt: s.now()}
		},
		Remote: func(ctx context.Context, id models.Identity, _ models.Comment) (models.Comment, error) {
			row := backend.Row{"post_id": postID, "author_id": id.ID, "content": content}
			if parentID != nil {
				row["parent_id"] = *parentID
			}
			created, err := s.be.Insert(ctx, backend.TableComments, row)
			if err != nil {
				return models.Comment{}, err
			}
			return backend.Decode[models.Comment](created)
		},
		OnSuccess: func(models.Comment) {
			s.award(ctx, models.PointsComment, "comment")
			if p, ok := s.posts.Get(postID); ok {
				s.notify(ctx, p.AuthorID, models.NotificationComment, "New comment", content)
			}
		},
	})
}

func (s *PostStore) register() {
	if s.ingest == nil {
		return
	}

	realtime.Bind(s.ingest, backend.TablePosts, s.posts, realtime.BindOptions[models.Post]{
		Merge: func(cur cache.Entry[models.Post], in models.Post) models.Post {
			if cur.Present {
				in.Likes = cur.Value.Likes
			}
			in.LikeCount = len(in.Likes)
			return in
		},
	})

	realtime.Bind(s.ingest, backend.TableComments, s.comments, realtime.BindOptions[models.Comment]{})

	s.ingest.Handle(backend.TablePostLikes, func(ev backend.ChangeEvent) error {
		like, err := backend.Decode[models.PostLike](ev.Record)
		if err != nil {
			return fmt.Errorf("%w: %v", realtime.ErrMalformed, err)
		}
		if like.PostID == "" || like.UserID == "" {
			return fmt.Errorf("%w: like without post_id or user_id", realtime.ErrMalformed)
		}
		p, ok := s.posts.Get(like.PostID)
		if !ok {
			return nil
		}

		liked := ev.Type != backend.ChangeDelete
		if p.LikedBy(like.UserID) == liked {
			return nil
		}
		next := p.WithLike(like.UserID, liked)
		// Liked is per viewer and derived on read
		next.Liked = p.Liked
		s.posts.Set(p.ID, next)
		return nil
	})
}
