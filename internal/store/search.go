package store

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"loopline/internal/models"
	"loopline/internal/observability"
)

// OpSearchUsers is the user search operation.
const OpSearchUsers = "search_users"

// SearchStore holds user search results. Only the most recently issued
// query's response is applied.
type SearchStore struct {
	Ops
	api API
	log *observability.StoreLogger

	mu      sync.Mutex
	seq     uint64
	query   string
	results []models.User
}

func NewSearchStore(api API) *SearchStore {
	return &SearchStore{api: api, log: observability.NewStoreLogger("search")}
}

// Users searches by username or name. A blank query clears the results
// without a request.
func (s *SearchStore) Users(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.query = query
	if query == "" {
		s.results = nil
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.run(ctx, s.log, OpSearchUsers, func() error {
		var resp models.Page[models.User]
		if err := s.api.Get(ctx, "/search/users/", url.Values{"q": {query}}, &resp); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if seq != s.seq {
			s.log.LogStale(ctx, OpSearchUsers, query)
			return nil
		}
		s.results = resp.Results
		return nil
	})
}

func (s *SearchStore) Results() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.User(nil), s.results...)
}

func (s *SearchStore) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func (s *SearchStore) Reset() {
	s.resetOps()
	s.mu.Lock()
	s.seq++
	s.query = ""
	s.results = nil
	s.mu.Unlock()
}
