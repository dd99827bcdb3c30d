package devserver

import (
	"context"
	"log/slog"

	"loopline/internal/featureflags"
	"loopline/internal/live"
)

// push delivers a frame to every connection of userID, through Redis when a
// notifier is configured and in-process otherwise.
func (s *Server) push(ctx context.Context, userID uint, frame []byte) {
	if s.notifier != nil {
		err := s.notifier.PublishUser(ctx, userID, string(frame))
		if err == nil {
			return
		}
		s.log.WarnContext(ctx, "publish failed, delivering locally", slog.String("error", err.Error()))
	}
	s.hub.Broadcast(userID, frame)
}

// notify stores a notification and pushes it to the recipient. Actions on
// one's own content notify nobody.
func (s *Server) notify(ctx context.Context, base string, n Notification) {
	if n.RecipientID == 0 || n.RecipientID == n.ActorID {
		return
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		s.log.ErrorContext(ctx, "store notification", slog.String("error", err.Error()))
		return
	}
	views, err := s.notificationViews(ctx, base, []Notification{n})
	if err != nil {
		s.log.ErrorContext(ctx, "render notification", slog.String("error", err.Error()))
		return
	}
	frame, err := live.Encode(live.TypeNotification, views[0])
	if err != nil {
		s.log.ErrorContext(ctx, "encode notification", slog.String("error", err.Error()))
		return
	}
	s.push(ctx, n.RecipientID, frame)
}

// fanOutLivePost pushes a new post to its author's followers, each copy
// rendered for its recipient.
func (s *Server) fanOutLivePost(ctx context.Context, base string, post Post) {
	if !s.flags.Enabled(featureflags.LivePosts, int64(post.AuthorID)) {
		return
	}
	followers, err := s.users.FollowerIDs(ctx, post.AuthorID)
	if err != nil {
		s.log.ErrorContext(ctx, "load followers", slog.String("error", err.Error()))
		return
	}
	for _, follower := range followers {
		view, err := s.postView(ctx, base, follower, post)
		if err != nil {
			s.log.ErrorContext(ctx, "render live post", slog.String("error", err.Error()))
			return
		}
		frame, err := live.Encode(live.TypeLivePost, view)
		if err != nil {
			s.log.ErrorContext(ctx, "encode live post", slog.String("error", err.Error()))
			return
		}
		s.push(ctx, follower, frame)
	}
}
