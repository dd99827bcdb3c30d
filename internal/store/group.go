package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"loopline/internal/entitycache"
	"loopline/internal/models"
	"loopline/internal/observability"
)

// Group operations.
const (
	OpGroupList       = "group_list"
	OpGroupDetail     = "group_detail"
	OpGroupPosts      = "group_posts"
	OpGroupCreate     = "group_create"
	OpGroupPostCreate = "group_post_create"
	OpGroupMembers    = "group_members"
)

// GroupStore holds the group directory, the group being viewed and its posts.
// Member counts and membership flags change only after a confirmed call.
type GroupStore struct {
	Ops
	api   API
	cache *entitycache.Cache
	log   *observability.StoreLogger

	mu         sync.Mutex
	groups     []models.Group
	pagination Pagination
	current    *models.Group
	postIDs    []int64
	postsNext  string
}

func NewGroupStore(api API, cache *entitycache.Cache) *GroupStore {
	return &GroupStore{api: api, cache: cache, log: observability.NewStoreLogger("group")}
}

// List fetches a page of the group directory. Page 1 replaces the list.
func (s *GroupStore) List(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	return s.run(ctx, s.log, OpGroupList, func() error {
		gen := s.generation()
		var resp models.Page[models.Group]
		if err := s.api.Get(ctx, "/groups/", url.Values{"page": {strconv.Itoa(page)}}, &resp); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			if page == 1 {
				s.groups = nil
			}
			for _, g := range resp.Results {
				s.groups = upsertGroup(s.groups, g)
			}
			size := max(len(resp.Results), s.pagination.PageSize)
			s.pagination = paginationOf(resp, page, size)
		})
		return nil
	})
}

// LoadMore fetches the next directory page when there is one.
func (s *GroupStore) LoadMore(ctx context.Context) error {
	p := s.Pagination()
	if !p.HasNext {
		return nil
	}
	return s.List(ctx, p.Page+1)
}

func upsertGroup(groups []models.Group, g models.Group) []models.Group {
	for i := range groups {
		if groups[i].Slug == g.Slug {
			groups[i] = g
			return groups
		}
	}
	return append(groups, g)
}

// Groups returns the directory.
func (s *GroupStore) Groups() []models.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Group(nil), s.groups...)
}

func (s *GroupStore) Pagination() Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagination
}

// Detail fetches one group and makes it current.
func (s *GroupStore) Detail(ctx context.Context, slug string) (models.Group, error) {
	var g models.Group
	err := s.run(ctx, s.log, OpGroupDetail, func() error {
		gen := s.generation()
		if err := s.api.Get(ctx, groupPath(slug), nil, &g); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			if s.current == nil || s.current.Slug != g.Slug {
				s.postIDs, s.postsNext = nil, ""
			}
			cur := g
			s.current = &cur
			for i := range s.groups {
				if s.groups[i].Slug == g.Slug {
					s.groups[i] = g
				}
			}
		})
		return nil
	})
	return g, err
}

// Current returns the group being viewed.
func (s *GroupStore) Current() (models.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Group{}, false
	}
	return *s.current, true
}

// Lookup finds a group by slug in the current view or the directory.
func (s *GroupStore) Lookup(slug string) (models.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Slug == slug {
		return *s.current, true
	}
	for _, g := range s.groups {
		if g.Slug == slug {
			return g, true
		}
	}
	return models.Group{}, false
}

// LoadPosts fetches the first page of a group's posts, or the next page
// when more is set.
func (s *GroupStore) LoadPosts(ctx context.Context, slug string, more bool) error {
	s.mu.Lock()
	next := s.postsNext
	s.mu.Unlock()
	target := groupPath(slug) + "status-posts/"
	if more {
		if next == "" {
			return nil
		}
		target = next
	}
	return s.run(ctx, s.log, OpGroupPosts, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		var resp models.Page[models.PostPatch]
		if err := s.api.Get(ctx, target, nil, &resp); err != nil {
			return err
		}
		s.cache.UpsertManyAt(stamp, resp.Results)
		s.commit(&s.mu, gen, func() {
			if !more {
				s.postIDs = nil
			}
			s.postIDs = appendUnique(s.postIDs, idsOf(resp.Results)...)
			s.postsNext = deref(resp.Next)
		})
		return nil
	})
}

// Posts resolves the current group's posts through the cache.
func (s *GroupStore) Posts() []models.Post {
	s.mu.Lock()
	ids := append([]int64(nil), s.postIDs...)
	s.mu.Unlock()
	return s.cache.GetByIDs(ids)
}

// Create makes a new group and lists it first.
func (s *GroupStore) Create(ctx context.Context, in models.NewGroup) (models.Group, error) {
	var g models.Group
	err := s.run(ctx, s.log, OpGroupCreate, func() error {
		if strings.TrimSpace(in.Name) == "" {
			return models.NewValidationError("Group name is required.", map[string][]string{
				"name": {"This field may not be blank."},
			})
		}
		if in.PrivacyLevel == "" {
			in.PrivacyLevel = models.PrivacyPublic
		}
		gen := s.generation()
		if err := s.api.Post(ctx, "/groups/", in, &g); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			s.groups = append([]models.Group{g}, s.groups...)
			s.pagination.Count++
		})
		return nil
	})
	return g, err
}

// CreatePost publishes a post in a group. A response arriving after a reset
// is discarded.
func (s *GroupStore) CreatePost(ctx context.Context, slug string, in models.NewPost) (models.Post, error) {
	var post models.Post
	err := s.run(ctx, s.log, OpGroupPostCreate, func() error {
		gen := s.generation()
		stamp := s.cache.NextStamp()
		created, err := createPost(ctx, s.api, groupPath(slug)+"status-posts/", in)
		if err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			s.cache.UpsertManyAt(stamp, []models.PostPatch{created})
			if s.current != nil && s.current.Slug == slug {
				s.postIDs = prependUnique(s.postIDs, created.ID)
			}
		})
		post = resolve(s.cache, created)
		return nil
	})
	return post, err
}

// Members lists every member of a group, following next links until the
// server stops returning one.
func (s *GroupStore) Members(ctx context.Context, slug string) ([]models.Author, error) {
	var members []models.Author
	err := s.run(ctx, s.log, OpGroupMembers, func() error {
		members = nil
		seen := make(map[string]bool)
		for path := groupPath(slug) + "members/"; path != "" && !seen[path]; {
			seen[path] = true
			var resp models.Page[models.Author]
			if err := s.api.Get(ctx, path, nil, &resp); err != nil {
				return err
			}
			members = append(members, resp.Results...)
			path = ""
			if resp.HasNext() {
				path = *resp.Next
			}
		}
		return nil
	})
	return members, err
}

// ApplyJoined records a confirmed join.
func (s *GroupStore) ApplyJoined(slug string) {
	s.update(slug, func(g *models.Group) {
		if !g.IsMember {
			g.IsMember = true
			g.MemberCount++
		}
		g.HasRequested = false
	})
}

// ApplyRequested records a confirmed join request for a private group.
func (s *GroupStore) ApplyRequested(slug string) {
	s.update(slug, func(g *models.Group) { g.HasRequested = true })
}

// ApplyLeft records a confirmed leave.
func (s *GroupStore) ApplyLeft(slug string) {
	s.update(slug, func(g *models.Group) {
		if g.IsMember {
			g.IsMember = false
			g.MemberCount = max(0, g.MemberCount-1)
		}
	})
}

// ApplyMemberAdded records an approved join request.
func (s *GroupStore) ApplyMemberAdded(slug string) {
	s.update(slug, func(g *models.Group) { g.MemberCount++ })
}

// Replace stores a group returned by the server.
func (s *GroupStore) Replace(g models.Group) {
	s.update(g.Slug, func(dst *models.Group) { *dst = g })
}

// RemoveGroup drops a deleted group from every list.
func (s *GroupStore) RemoveGroup(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.groups[:0:0]
	for _, g := range s.groups {
		if g.Slug != slug {
			out = append(out, g)
		}
	}
	if len(out) != len(s.groups) {
		s.pagination.Count = max(0, s.pagination.Count-1)
	}
	s.groups = out
	if s.current != nil && s.current.Slug == slug {
		s.current = nil
		s.postIDs, s.postsNext = nil, ""
	}
}

func (s *GroupStore) update(slug string, fn func(*models.Group)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Slug == slug {
		fn(s.current)
	}
	for i := range s.groups {
		if s.groups[i].Slug == slug {
			fn(&s.groups[i])
		}
	}
}

func (s *GroupStore) Reset() {
	s.resetOps()
	s.mu.Lock()
	s.groups = nil
	s.pagination = Pagination{}
	s.current = nil
	s.postIDs, s.postsNext = nil, ""
	s.mu.Unlock()
}

func groupPath(slug string) string {
	return fmt.Sprintf("/groups/%s/", url.PathEscape(slug))
}
