package app

import (
	"testing"
	"time"

	"loopline/internal/entitycache"
	"loopline/internal/featureflags"
	"loopline/internal/live"
	"loopline/internal/models"
	"loopline/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(flags string) (*Router, *[]live.Event) {
	cache := entitycache.New()
	var seen []live.Event
	r := &Router{
		Feed:          store.NewFeedStore(nil, cache),
		Notifications: store.NewNotificationStore(nil, 10),
		Observe:       func(ev live.Event) { seen = append(seen, ev) },
		UserID:        func() int64 { return 7 },
	}
	if flags != "" {
		r.Flags = featureflags.NewManager(flags)
	}
	return r, &seen
}

func TestRouter_DispatchesToOwningContainer(t *testing.T) {
	t.Parallel()
	r, seen := newRouter("")
	fresh := "fresh"

	r.HandleNotification(models.Notification{ID: 1, Verb: "liked your post"})
	assert.Len(t, r.Notifications.Items(), 1)
	assert.Equal(t, 1, r.Notifications.Unread())
	assert.Empty(t, r.Feed.Posts(), "notifications leave the feed alone")

	r.HandleLivePost(models.PostPatch{ID: 9, Content: models.Some(&fresh)})
	assert.Equal(t, []int64{9}, ids(r.Feed.Posts()))
	assert.Len(t, r.Notifications.Items(), 1, "posts leave notifications alone")

	if assert.Len(t, *seen, 2) {
		assert.IsType(t, live.NotificationEvent{}, (*seen)[0])
		assert.IsType(t, live.LivePostEvent{}, (*seen)[1])
	}
}

func TestRouter_LivePostsFlag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		flags string
		want  int
	}{
		{"live_posts=on", 1},
		{"live_posts=off", 0},
		{"live_posts=100%", 1},
		{"private_groups=off", 1},
	}
	for _, tt := range tests {
		t.Run(tt.flags, func(t *testing.T) {
			t.Parallel()
			r, seen := newRouter(tt.flags)
			r.HandleLivePost(models.PostPatch{ID: 3})
			assert.Len(t, r.Feed.Posts(), tt.want)
			assert.Len(t, *seen, tt.want)
		})
	}
}

func TestRouter_PartialLivePostKeepsCachedFields(t *testing.T) {
	t.Parallel()

	cache := entitycache.New()
	cache.Upsert(models.Post{
		ID:           1,
		Author:       models.Author{ID: 2, Username: "bob"},
		Content:      "original",
		CreatedAt:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		LikeCount:    5,
		CommentCount: 3,
		IsLiked:      true,
	})
	r := &Router{Feed: store.NewFeedStore(nil, cache), Notifications: store.NewNotificationStore(nil, 10)}

	tests := []struct {
		name    string
		payload string
		want    func(t *testing.T, p models.Post)
	}{
		{
			name:    "content only",
			payload: `{"id":1,"content":"edited"}`,
			want: func(t *testing.T, p models.Post) {
				assert.Equal(t, "edited", p.Content)
				assert.Equal(t, 5, p.LikeCount)
				assert.Equal(t, 3, p.CommentCount)
				assert.True(t, p.IsLiked)
				assert.Equal(t, "bob", p.Author.Username)
				assert.False(t, p.CreatedAt.IsZero())
			},
		},
		{
			name:    "explicit zero overwrites",
			payload: `{"id":1,"like_count":0,"is_liked_by_user":false}`,
			want: func(t *testing.T, p models.Post) {
				assert.Equal(t, "edited", p.Content)
				assert.Equal(t, 0, p.LikeCount)
				assert.False(t, p.IsLiked)
				assert.Equal(t, 3, p.CommentCount)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := []byte(`{"type":"live_post","message":{"payload":` + tt.payload + `}}`)
			ev, err := live.Decode(frame)
			require.NoError(t, err)
			ev.Dispatch(r)

			got, ok := cache.GetByID(1)
			require.True(t, ok)
			tt.want(t, got)
			assert.Equal(t, []int64{1}, ids(r.Feed.Posts()))
		})
	}
}

func ids(posts []models.Post) []int64 {
	out := make([]int64, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
