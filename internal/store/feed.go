package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"loopline/internal/entitycache"
	"loopline/internal/models"
	"loopline/internal/observability"
)

// Feed operations.
const (
	OpFeedLoad     = "feed_load"
	OpFeedLoadMore = "feed_load_more"
	OpSavedLoad    = "saved_load"
	OpPostGet      = "post_get"
	OpPostSearch   = "post_search"
	OpPostCreate   = "post_create"
	OpPostUpdate   = "post_update"
	OpPostDelete   = "post_delete"
	OpLike         = "like"
	OpSave         = "save"
	OpVote         = "vote"
)

// FeedStore owns the main feed, saved posts and post search results.
type FeedStore struct {
	Ops
	api   API
	cache *entitycache.Cache
	log   *observability.StoreLogger

	mu        sync.Mutex
	feedIDs   []int64
	feedNext  string
	savedIDs  []int64
	savedNext string
	searchIDs []int64
}

func NewFeedStore(api API, cache *entitycache.Cache) *FeedStore {
	return &FeedStore{api: api, cache: cache, log: observability.NewStoreLogger("feed")}
}

// Load fetches the first page of the feed, replacing the visible list.
func (s *FeedStore) Load(ctx context.Context) error {
	return s.run(ctx, s.log, OpFeedLoad, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var page models.Page[models.PostPatch]
		if err := s.api.Get(ctx, "/feed/", nil, &page); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, page.Results)
		s.commit(&s.mu, gen, func() {
			s.feedIDs = appendUnique(nil, idsOf(page.Results)...)
			s.feedNext = deref(page.Next)
		})
		return nil
	})
}

// LoadMore follows the feed's next cursor. It is a no-op at the end.
func (s *FeedStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	next := s.feedNext
	s.mu.Unlock()
	if next == "" {
		return nil
	}
	return s.run(ctx, s.log, OpFeedLoadMore, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var page models.Page[models.PostPatch]
		if err := s.api.Get(ctx, next, nil, &page); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, page.Results)
		s.commit(&s.mu, gen, func() {
			s.feedIDs = appendUnique(s.feedIDs, idsOf(page.Results)...)
			s.feedNext = deref(page.Next)
		})
		return nil
	})
}

// HasMore reports whether the feed has a next cursor.
func (s *FeedStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedNext != ""
}

// Posts resolves the visible feed through the cache.
func (s *FeedStore) Posts() []models.Post {
	s.mu.Lock()
	ids := append([]int64(nil), s.feedIDs...)
	s.mu.Unlock()
	return s.cache.GetByIDs(ids)
}

// LoadSaved fetches the first page of saved posts.
func (s *FeedStore) LoadSaved(ctx context.Context) error {
	return s.run(ctx, s.log, OpSavedLoad, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var page models.Page[models.PostPatch]
		if err := s.api.Get(ctx, "/posts/saved/", nil, &page); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, page.Results)
		s.commit(&s.mu, gen, func() {
			s.savedIDs = appendUnique(nil, idsOf(page.Results)...)
			s.savedNext = deref(page.Next)
		})
		return nil
	})
}

// LoadMoreSaved follows the saved list's next page.
func (s *FeedStore) LoadMoreSaved(ctx context.Context) error {
	s.mu.Lock()
	next := s.savedNext
	s.mu.Unlock()
	if next == "" {
		return nil
	}
	return s.run(ctx, s.log, OpSavedLoad, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var page models.Page[models.PostPatch]
		if err := s.api.Get(ctx, next, nil, &page); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, page.Results)
		s.commit(&s.mu, gen, func() {
			s.savedIDs = appendUnique(s.savedIDs, idsOf(page.Results)...)
			s.savedNext = deref(page.Next)
		})
		return nil
	})
}

func (s *FeedStore) SavedPosts() []models.Post {
	s.mu.Lock()
	ids := append([]int64(nil), s.savedIDs...)
	s.mu.Unlock()
	return s.cache.GetByIDs(ids)
}

// Get fetches one post into the cache.
func (s *FeedStore) Get(ctx context.Context, id int64) (models.Post, error) {
	var patch models.PostPatch
	err := s.run(ctx, s.log, OpPostGet, func() error {
		stamp := s.cache.NextStamp()
		if err := s.api.Get(ctx, fmt.Sprintf("/posts/%d/", id), nil, &patch); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, []models.PostPatch{patch})
		return nil
	})
	if err != nil {
		return models.Post{}, err
	}
	return resolve(s.cache, patch), nil
}

// Search runs a post search. A blank query clears the results.
func (s *FeedStore) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		s.mu.Lock()
		s.searchIDs = nil
		s.mu.Unlock()
		return nil
	}
	return s.run(ctx, s.log, OpPostSearch, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var page models.Page[models.PostPatch]
		if err := s.api.Get(ctx, "/posts/", url.Values{"search": {query}}, &page); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, page.Results)
		s.commit(&s.mu, gen, func() {
			s.searchIDs = appendUnique(nil, idsOf(page.Results)...)
		})
		return nil
	})
}

func (s *FeedStore) SearchResults() []models.Post {
	s.mu.Lock()
	ids := append([]int64(nil), s.searchIDs...)
	s.mu.Unlock()
	return s.cache.GetByIDs(ids)
}

// Create publishes a post and puts it at the head of the feed. Media is sent
// as multipart form data. A response arriving after a reset is discarded.
func (s *FeedStore) Create(ctx context.Context, in models.NewPost) (models.Post, error) {
	var post models.Post
	err := s.run(ctx, s.log, OpPostCreate, func() error {
		if strings.TrimSpace(in.Content) == "" && in.Poll == nil && len(in.Media) == 0 {
			return models.NewValidationError("Post content cannot be empty.", map[string][]string{
				"content": {"This field may not be blank."},
			})
		}
		gen := s.generation()
		stamp := s.cache.NextStamp()
		created, err := createPost(ctx, s.api, "/posts/", in)
		if err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			s.cache.UpsertManyAt(stamp, []models.PostPatch{created})
			s.feedIDs = prependUnique(s.feedIDs, created.ID)
		})
		post = resolve(s.cache, created)
		return nil
	})
	return post, err
}

func createPost(ctx context.Context, api API, path string, in models.NewPost) (models.PostPatch, error) {
	var post models.PostPatch
	if len(in.Media) == 0 {
		body := struct {
			Title   string          `json:"title,omitempty"`
			Content string          `json:"content"`
			Poll    *models.NewPoll `json:"poll_data,omitempty"`
		}{in.Title, in.Content, in.Poll}
		err := api.Post(ctx, path, body, &post)
		return post, err
	}
	fields := map[string]string{"content": in.Content}
	if in.Title != "" {
		fields["title"] = in.Title
	}
	if in.Poll != nil {
		data, err := json.Marshal(in.Poll)
		if err != nil {
			return post, err
		}
		fields["poll_data"] = string(data)
	}
	err := api.Upload(ctx, http.MethodPost, path, fields, in.Media, &post)
	return post, err
}

// Update edits a post's text fields.
func (s *FeedStore) Update(ctx context.Context, id int64, in models.PostUpdate) error {
	return s.run(ctx, s.log, OpPostUpdate, func() error {
		stamp := s.cache.NextStamp()
		var patch models.PostPatch
		if err := s.api.Patch(ctx, fmt.Sprintf("/posts/%d/", id), in, &patch); err != nil {
			return err
		}
		patch.ID = id
		s.cache.UpsertManyAt(stamp, []models.PostPatch{patch})
		return nil
	})
}

// Delete removes a post from the server, the cache and every list here.
func (s *FeedStore) Delete(ctx context.Context, id int64) error {
	return s.run(ctx, s.log, OpPostDelete, func() error {
		gen := s.generation()
		if err := s.api.Delete(ctx, fmt.Sprintf("/posts/%d/", id), nil); err != nil {
			return err
		}
		s.cache.Remove(id)
		s.commit(&s.mu, gen, func() {
			s.feedIDs = without(s.feedIDs, id)
			s.savedIDs = without(s.savedIDs, id)
			s.searchIDs = without(s.searchIDs, id)
		})
		return nil
	})
}

// ToggleLike flips the like optimistically and reconciles with the server's
// copy of the post.
func (s *FeedStore) ToggleLike(ctx context.Context, id int64) error {
	return s.run(ctx, s.log, OpLike, func() error {
		snap, stamp, ok := s.cache.Mutate(id, func(p *models.Post) {
			if p.IsLiked {
				p.LikeCount = max(0, p.LikeCount-1)
			} else {
				p.LikeCount++
			}
			p.IsLiked = !p.IsLiked
		})
		if !ok {
			return models.NewNotFoundError("post", id)
		}
		var patch models.PostPatch
		path := fmt.Sprintf("/content/%d/%d/like/", snap.ContentTypeID, snap.ObjectID)
		if err := s.api.Post(ctx, path, nil, &patch); err != nil {
			s.rollback(ctx, OpLike, stamp, snap)
			return err
		}
		patch.ID = id
		s.cache.UpsertManyAt(stamp, []models.PostPatch{patch})
		return nil
	})
}

// ToggleSave flips the saved flag. Unsaved posts leave the saved list.
func (s *FeedStore) ToggleSave(ctx context.Context, id int64) error {
	return s.run(ctx, s.log, OpSave, func() error {
		gen := s.generation()
		snap, stamp, ok := s.cache.Mutate(id, func(p *models.Post) { p.IsSaved = !p.IsSaved })
		if !ok {
			return models.NewNotFoundError("post", id)
		}
		var patch models.PostPatch
		if err := s.api.Post(ctx, fmt.Sprintf("/posts/%d/save/", id), nil, &patch); err != nil {
			s.rollback(ctx, OpSave, stamp, snap)
			return err
		}
		patch.ID = id
		s.cache.UpsertManyAt(stamp, []models.PostPatch{patch})
		saved, ok := patch.IsSaved.Get()
		if !ok {
			saved = !snap.IsSaved
		}
		s.commit(&s.mu, gen, func() {
			if saved {
				s.savedIDs = prependUnique(s.savedIDs, id)
			} else {
				s.savedIDs = without(s.savedIDs, id)
			}
		})
		return nil
	})
}

// Vote casts or moves the viewer's vote. The poll is replaced as a whole
// from the server's response.
func (s *FeedStore) Vote(ctx context.Context, postID, optionID int64) error {
	return s.run(ctx, s.log, OpVote, func() error {
		var pollID int64
		snap, stamp, ok := s.cache.Mutate(postID, func(p *models.Post) {
			if p.Poll == nil {
				return
			}
			pollID = p.Poll.ID
			p.Poll = castVote(p.Poll, &optionID)
		})
		if !ok || snap.Poll == nil {
			return models.NewNotFoundError("poll for post", postID)
		}
		return s.sendVote(ctx, http.MethodPost, postID, pollID, optionID, stamp, snap)
	})
}

// RetractVote removes the viewer's vote.
func (s *FeedStore) RetractVote(ctx context.Context, postID int64) error {
	return s.run(ctx, s.log, OpVote, func() error {
		var pollID, optionID int64
		snap, stamp, ok := s.cache.Mutate(postID, func(p *models.Post) {
			if p.Poll == nil || p.Poll.UserVote == nil {
				return
			}
			pollID, optionID = p.Poll.ID, *p.Poll.UserVote
			p.Poll = castVote(p.Poll, nil)
		})
		if !ok || snap.Poll == nil || snap.Poll.UserVote == nil {
			return models.NewValidationError("You have not voted on this poll.", nil)
		}
		return s.sendVote(ctx, http.MethodDelete, postID, pollID, optionID, stamp, snap)
	})
}

func (s *FeedStore) sendVote(ctx context.Context, method string, postID, pollID, optionID int64, stamp uint64, snap models.Post) error {
	path := fmt.Sprintf("/polls/%d/options/%d/vote/", pollID, optionID)
	var patch models.PostPatch
	var err error
	if method == http.MethodDelete {
		err = s.api.Delete(ctx, path, &patch)
	} else {
		err = s.api.Post(ctx, path, nil, &patch)
	}
	if err != nil {
		s.rollback(ctx, OpVote, stamp, snap)
		return err
	}
	if poll, ok := patch.Poll.Get(); ok {
		s.cache.ReplacePollSnapshotAt(stamp, postID, poll)
	}
	return nil
}

func (s *FeedStore) rollback(ctx context.Context, op string, stamp uint64, snap models.Post) {
	if !s.cache.RestoreAt(stamp, snap) {
		s.log.LogStale(ctx, op+"_rollback", snap.ID)
	}
}

// castVote returns a copy of poll with the viewer's vote moved to optionID,
// or removed when optionID is nil.
func castVote(poll *models.Poll, optionID *int64) *models.Poll {
	out := poll.Clone()
	if out.UserVote != nil {
		for i := range out.Options {
			if out.Options[i].ID == *out.UserVote {
				out.Options[i].VoteCount = max(0, out.Options[i].VoteCount-1)
			}
		}
		out.TotalVotes = max(0, out.TotalVotes-1)
		out.UserVote = nil
	}
	if optionID != nil {
		for i := range out.Options {
			if out.Options[i].ID == *optionID {
				out.Options[i].VoteCount++
			}
		}
		out.TotalVotes++
		v := *optionID
		out.UserVote = &v
	}
	return out
}

// PrependLive merges a pushed post into the cache and puts it at the head of
// the feed. Fields the push left out keep their cached values, and a post
// already in the feed keeps its position.
func (s *FeedStore) PrependLive(patch models.PostPatch) {
	s.cache.UpsertMany([]models.PostPatch{patch})
	s.mu.Lock()
	s.feedIDs = prependUnique(s.feedIDs, patch.ID)
	s.mu.Unlock()
}

// Reset forgets every list, as on logout.
func (s *FeedStore) Reset() {
	s.resetOps()
	s.mu.Lock()
	s.feedIDs, s.savedIDs, s.searchIDs = nil, nil, nil
	s.feedNext, s.savedNext = "", ""
	s.mu.Unlock()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
