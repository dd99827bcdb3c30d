package store

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"loopline/internal/models"
	"loopline/internal/observability"
)

// Notification operations.
const (
	OpNotificationsLoad = "notifications_load"
	OpUnreadCount       = "unread_count"
	OpMarkRead          = "mark_read"
	OpMarkAllRead       = "mark_all_read"
)

// DefaultNotificationPageSize matches the server's page size.
const DefaultNotificationPageSize = 10

// NotificationStore holds the notification list and unread counter.
type NotificationStore struct {
	Ops
	api      API
	pageSize int
	log      *observability.StoreLogger

	mu         sync.Mutex
	items      []models.Notification
	unread     int
	pagination Pagination
}

func NewNotificationStore(api API, pageSize int) *NotificationStore {
	if pageSize <= 0 {
		pageSize = DefaultNotificationPageSize
	}
	return &NotificationStore{
		api:        api,
		pageSize:   pageSize,
		log:        observability.NewStoreLogger("notification"),
		pagination: Pagination{PageSize: pageSize},
	}
}

// Load fetches one page, replacing the list.
func (s *NotificationStore) Load(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	return s.run(ctx, s.log, OpNotificationsLoad, func() error {
		gen := s.generation()
		var resp models.Page[models.Notification]
		q := url.Values{"page": {strconv.Itoa(page)}}
		if err := s.api.Get(ctx, "/notifications/", q, &resp); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			s.items = append([]models.Notification(nil), resp.Results...)
			s.pagination = paginationOf(resp, page, s.pageSize)
		})
		return nil
	})
}

// LoadUnreadCount refreshes the unread counter.
func (s *NotificationStore) LoadUnreadCount(ctx context.Context) error {
	return s.run(ctx, s.log, OpUnreadCount, func() error {
		gen := s.generation()
		var resp models.UnreadCount
		if err := s.api.Get(ctx, "/notifications/unread-count/", nil, &resp); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() { s.unread = max(0, resp.UnreadCount) })
		return nil
	})
}

// MarkRead marks the given notifications read.
func (s *NotificationStore) MarkRead(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.run(ctx, s.log, OpMarkRead, func() error {
		gen := s.generation()
		body := map[string][]int64{"notification_ids": ids}
		if err := s.api.Post(ctx, "/notifications/mark-as-read/", body, nil); err != nil {
			return err
		}
		want := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
		s.commit(&s.mu, gen, func() {
			for i := range s.items {
				if _, ok := want[s.items[i].ID]; ok && !s.items[i].IsRead {
					s.items[i].IsRead = true
					s.unread = max(0, s.unread-1)
				}
			}
		})
		return nil
	})
}

// MarkAllRead marks everything read.
func (s *NotificationStore) MarkAllRead(ctx context.Context) error {
	return s.run(ctx, s.log, OpMarkAllRead, func() error {
		gen := s.generation()
		if err := s.api.Post(ctx, "/notifications/mark-all-as-read/", nil, nil); err != nil {
			return err
		}
		s.commit(&s.mu, gen, func() {
			for i := range s.items {
				s.items[i].IsRead = true
			}
			s.unread = 0
		})
		return nil
	})
}

// AddLive puts a pushed notification at the head of the list. A notification
// already listed is replaced in place without counting it twice.
func (s *NotificationStore) AddLive(n models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == n.ID {
			if s.items[i].IsRead && !n.IsRead {
				n.IsRead = true
			}
			s.items[i] = n
			return
		}
	}
	s.items = append([]models.Notification{n}, s.items...)
	s.pagination.Count++
	if !n.IsRead {
		s.unread++
	}
}

func (s *NotificationStore) Items() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.items...)
}

func (s *NotificationStore) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func (s *NotificationStore) Pagination() Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagination
}

// TotalPages derives the page count from the last listed total.
func (s *NotificationStore) TotalPages() int {
	return s.Pagination().TotalPages()
}

func (s *NotificationStore) Reset() {
	s.resetOps()
	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.pagination = Pagination{PageSize: s.pageSize}
	s.mu.Unlock()
}
