package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"loopline/internal/entitycache"
	"loopline/internal/models"
	"loopline/internal/observability"
)

// Comment operations.
const (
	OpCommentsLoad  = "comments_load"
	OpCommentCreate = "comment_create"
	OpCommentEdit   = "comment_edit"
	OpCommentDelete = "comment_delete"
)

// CommentStore keeps comment threads keyed by "{type}_{objectId}". Creating
// or deleting a comment adjusts the parent post's counter in the cache, which
// every container displaying that post reads.
type CommentStore struct {
	Ops
	api   API
	cache *entitycache.Cache
	log   *observability.StoreLogger

	mu      sync.Mutex
	threads map[string][]models.Comment
}

func NewCommentStore(api API, cache *entitycache.Cache) *CommentStore {
	return &CommentStore{
		api:     api,
		cache:   cache,
		log:     observability.NewStoreLogger("comment"),
		threads: make(map[string][]models.Comment),
	}
}

func threadPath(t models.CommentTarget) string {
	return fmt.Sprintf("/comments/%s/%d/", t.Type, t.ObjectID)
}

// Load fetches a whole thread. A failed load forgets the thread.
func (s *CommentStore) Load(ctx context.Context, target models.CommentTarget) error {
	return s.run(ctx, s.log, OpCommentsLoad, func() error {
		gen := s.generation()
		var comments []models.Comment
		if err := s.api.Get(ctx, threadPath(target), nil, &comments); err != nil {
			s.commit(&s.mu, gen, func() { delete(s.threads, target.Key()) })
			return err
		}
		s.commit(&s.mu, gen, func() {
			s.threads[target.Key()] = comments
		})
		return nil
	})
}

// Comments returns a loaded thread.
func (s *CommentStore) Comments(target models.CommentTarget) []models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Comment(nil), s.threads[target.Key()]...)
}

// Create adds a comment to the head of the thread and increments the parent
// post's comment count by one. Nothing is applied after a reset.
func (s *CommentStore) Create(ctx context.Context, target models.CommentTarget, content string) (models.Comment, error) {
	var c models.Comment
	err := s.run(ctx, s.log, OpCommentCreate, func() error {
		if strings.TrimSpace(content) == "" {
			return models.NewValidationError("Comment cannot be empty.", map[string][]string{
				"content": {"This field may not be blank."},
			})
		}
		gen := s.generation()
		if err := s.api.Post(ctx, threadPath(target), map[string]string{"content": content}, &c); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			s.threads[target.Key()] = append([]models.Comment{c}, s.threads[target.Key()]...)
			if !s.cache.AdjustCommentCount(target.PostID, 1) {
				s.log.LogStale(ctx, OpCommentCreate, target.PostID)
			}
		})
		return nil
	})
	return c, err
}

// Edit replaces a comment's content.
func (s *CommentStore) Edit(ctx context.Context, target models.CommentTarget, id int64, content string) error {
	return s.run(ctx, s.log, OpCommentEdit, func() error {
		gen := s.generation()
		var c models.Comment
		if err := s.api.Put(ctx, fmt.Sprintf("/comments/%d/", id), map[string]string{"content": content}, &c); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			thread := s.threads[target.Key()]
			for i := range thread {
				if thread[i].ID == id {
					thread[i] = c
				}
			}
		})
		return nil
	})
}

// Delete removes a comment and decrements the parent post's count, never
// below zero.
func (s *CommentStore) Delete(ctx context.Context, target models.CommentTarget, id int64) error {
	return s.run(ctx, s.log, OpCommentDelete, func() error {
		gen := s.generation()
		if err := s.api.Delete(ctx, fmt.Sprintf("/comments/%d/", id), nil); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			thread := s.threads[target.Key()]
			out := thread[:0:0]
			for _, c := range thread {
				if c.ID != id {
					out = append(out, c)
				}
			}
			if thread != nil {
				s.threads[target.Key()] = out
			}
			s.cache.AdjustCommentCount(target.PostID, -1)
		})
		return nil
	})
}

func (s *CommentStore) Reset() {
	s.resetOps()
	s.mu.Lock()
	s.threads = make(map[string][]models.Comment)
	s.mu.Unlock()
}
