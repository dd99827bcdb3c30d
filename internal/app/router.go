package app

import (
	"loopline/internal/featureflags"
	"loopline/internal/live"
	"loopline/internal/models"
	"loopline/internal/store"
)

// Router delivers live events to the container that owns each kind. Observe,
// when set, sees every event after its container has applied it. With Flags
// set, live posts are dropped while live_posts is off for UserID.
type Router struct {
	Feed          *store.FeedStore
	Notifications *store.NotificationStore
	Observe       func(live.Event)
	Flags         *featureflags.Manager
	UserID        func() int64
}

var _ live.Handlers = (*Router)(nil)

func (r *Router) HandleNotification(n models.Notification) {
	r.Notifications.AddLive(n)
	r.observe(live.NotificationEvent{Notification: n})
}

// HandleLivePost merges a pushed post into the feed. Fields missing from the
// frame keep their cached values.
func (r *Router) HandleLivePost(p models.PostPatch) {
	if !r.livePosts() {
		return
	}
	r.Feed.PrependLive(p)
	r.observe(live.LivePostEvent{Patch: p})
}

func (r *Router) observe(ev live.Event) {
	if r.Observe != nil {
		r.Observe(ev)
	}
}

func (r *Router) livePosts() bool {
	if r.Flags == nil {
		return true
	}
	var uid int64
	if r.UserID != nil {
		uid = r.UserID()
	}
	return r.Flags.Enabled(featureflags.LivePosts, uid)
}
