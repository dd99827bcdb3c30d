package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"loopline/internal/entitycache"
	"loopline/internal/models"
	"loopline/internal/observability"
)

// Profile operations.
const (
	OpProfileLoad  = "profile_load"
	OpProfilePosts = "profile_posts"
	OpFollow       = "follow"
	OpPicture      = "profile_picture"
)

// ProfileStore holds the profile being viewed and that user's posts.
type ProfileStore struct {
	Ops
	api   API
	cache *entitycache.Cache
	log   *observability.StoreLogger

	mu         sync.Mutex
	profile    *models.Profile
	postIDs    []int64
	pagination Pagination
}

func NewProfileStore(api API, cache *entitycache.Cache) *ProfileStore {
	return &ProfileStore{api: api, cache: cache, log: observability.NewStoreLogger("profile")}
}

// Load fetches a profile. Switching users clears the previous user's posts.
func (s *ProfileStore) Load(ctx context.Context, username string) error {
	return s.run(ctx, s.log, OpProfileLoad, func() error {
		gen := s.generation()
		var p models.Profile
		if err := s.api.Get(ctx, fmt.Sprintf("/profiles/%s/", url.PathEscape(username)), nil, &p); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			if s.profile == nil || s.profile.User.Username != p.User.Username {
				s.postIDs = nil
				s.pagination = Pagination{}
			}
			s.profile = &p
		})
		return nil
	})
}

// Profile returns the loaded profile.
func (s *ProfileStore) Profile() (models.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return models.Profile{}, false
	}
	return *s.profile, true
}

// LoadPosts fetches one page of a user's posts. Page 1 replaces the list,
// later pages append to it.
func (s *ProfileStore) LoadPosts(ctx context.Context, username string, page int) error {
	if page < 1 {
		page = 1
	}
	return s.run(ctx, s.log, OpProfilePosts, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var resp models.Page[models.PostPatch]
		path := fmt.Sprintf("/users/%s/posts/", url.PathEscape(username))
		if err := s.api.Get(ctx, path, url.Values{"page": {strconv.Itoa(page)}}, &resp); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, resp.Results)
		s.commit(&s.mu, gen, func() {
			if page == 1 {
				s.postIDs = nil
			}
			s.postIDs = appendUnique(s.postIDs, idsOf(resp.Results)...)
			size := max(len(resp.Results), s.pagination.PageSize)
			s.pagination = paginationOf(resp, page, size)
		})
		return nil
	})
}

// Posts resolves the user's posts through the cache.
func (s *ProfileStore) Posts() []models.Post {
	s.mu.Lock()
	ids := append([]int64(nil), s.postIDs...)
	s.mu.Unlock()
	return s.cache.GetByIDs(ids)
}

func (s *ProfileStore) Pagination() Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagination
}

// Follow follows username and bumps the follower count after success.
func (s *ProfileStore) Follow(ctx context.Context, username string) error {
	return s.setFollow(ctx, username, true)
}

// Unfollow reverses Follow.
func (s *ProfileStore) Unfollow(ctx context.Context, username string) error {
	return s.setFollow(ctx, username, false)
}

func (s *ProfileStore) setFollow(ctx context.Context, username string, follow bool) error {
	return s.run(ctx, s.log, OpFollow, func() error {
		gen := s.generation()
		path := fmt.Sprintf("/users/%s/follow/", url.PathEscape(username))
		var err error
		if follow {
			err = s.api.Post(ctx, path, nil, nil)
		} else {
			err = s.api.Delete(ctx, path, nil)
		}
		if err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			if s.profile == nil || s.profile.User.Username != username || s.profile.IsFollowed == follow {
				return
			}
			s.profile.IsFollowed = follow
			if follow {
				s.profile.FollowersCount++
			} else {
				s.profile.FollowersCount = max(0, s.profile.FollowersCount-1)
			}
		})
		return nil
	})
}

// UpdatePicture uploads a prepared image as the user's profile picture.
func (s *ProfileStore) UpdatePicture(ctx context.Context, username string, picture models.Upload) error {
	return s.run(ctx, s.log, OpPicture, func() error {
		gen := s.generation()
		var p models.Profile
		path := fmt.Sprintf("/profiles/%s/", url.PathEscape(username))
		if err := s.api.Upload(ctx, "PATCH", path, nil, []models.Upload{picture}, &p); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			if s.profile != nil && s.profile.User.Username == p.User.Username {
				s.profile = &p
			}
		})
		return nil
	})
}

func (s *ProfileStore) Reset() {
	s.resetOps()
	s.mu.Lock()
	s.profile = nil
	s.postIDs = nil
	s.pagination = Pagination{}
	s.mu.Unlock()
}
