package devserver

import (
	"context"
	"fmt"

	"loopline/internal/models"

	"gorm.io/gorm"
)

func mediaURL(base string, id uint) string {
	return fmt.Sprintf("%s/media/%d", base, id)
}

func pictureURL(base string, u User) string {
	if u.PictureID == nil {
		return ""
	}
	return mediaURL(base, *u.PictureID)
}

func authorView(base string, u User) models.Author {
	return models.Author{
		ID:        int64(u.ID),
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Picture:   pictureURL(base, u),
	}
}

func userView(base string, u User, withEmail bool) models.User {
	out := models.User{
		ID:             int64(u.ID),
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: pictureURL(base, u),
	}
	if withEmail {
		out.Email = u.Email
	}
	return out
}

type idCount struct {
	ID uint
	N  int
}

// countBy counts rows of model grouped by col.
func countBy(db *gorm.DB, model interface{}, col string, query string, args ...interface{}) (map[uint]int, error) {
	var rows []idCount
	err := db.Model(model).
		Select(col+" AS id, COUNT(*) AS n").
		Where(query, args...).
		Group(col).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.ID] = r.N
	}
	return out, nil
}

func idSet(db *gorm.DB, model interface{}, col string, query string, args ...interface{}) (map[uint]bool, error) {
	var ids []uint
	if err := db.Model(model).Where(query, args...).Pluck(col, &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// postViews renders posts as viewer sees them, in input order.
func (s *Server) postViews(ctx context.Context, base string, viewer uint, posts []Post) ([]models.Post, error) {
	out := make([]models.Post, 0, len(posts))
	if len(posts) == 0 {
		return out, nil
	}
	db := s.db.WithContext(ctx)

	ids := make([]uint, 0, len(posts))
	authorIDs := make([]uint, 0, len(posts))
	var groupIDs []uint
	for _, p := range posts {
		ids = append(ids, p.ID)
		authorIDs = append(authorIDs, p.AuthorID)
		if p.GroupID != nil {
			groupIDs = append(groupIDs, *p.GroupID)
		}
	}

	authors, err := s.users.ListByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	groups := make(map[uint]Group)
	if len(groupIDs) > 0 {
		var rows []Group
		if err := db.Where("id IN ?", uniqueIDs(groupIDs)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, g := range rows {
			groups[g.ID] = g
		}
	}

	var uploads []Upload
	if err := db.Select("id", "post_id", "media_type").Where("post_id IN ?", ids).Order("id").Find(&uploads).Error; err != nil {
		return nil, err
	}
	media := make(map[uint][]models.Media)
	for _, u := range uploads {
		media[*u.PostID] = append(media[*u.PostID], models.Media{
			ID:        int64(u.ID),
			MediaType: u.MediaType,
			FileURL:   mediaURL(base, u.ID),
		})
	}

	polls, err := s.pollViews(ctx, viewer, ids)
	if err != nil {
		return nil, err
	}
	likes, err := countBy(db, &Like{}, "post_id", "post_id IN ?", ids)
	if err != nil {
		return nil, err
	}
	comments, err := countBy(db, &Comment{}, "post_id", "post_id IN ?", ids)
	if err != nil {
		return nil, err
	}
	liked, err := idSet(db, &Like{}, "post_id", "post_id IN ? AND user_id = ?", ids, viewer)
	if err != nil {
		return nil, err
	}
	saved, err := idSet(db, &SavedPost{}, "post_id", "post_id IN ? AND user_id = ?", ids, viewer)
	if err != nil {
		return nil, err
	}

	for _, p := range posts {
		view := models.Post{
			ID:            int64(p.ID),
			PostType:      models.PostTypeStatus,
			Author:        authorView(base, authors[p.AuthorID]),
			CreatedAt:     p.CreatedAt,
			UpdatedAt:     p.UpdatedAt,
			Title:         p.Title,
			Content:       p.Content,
			Media:         media[p.ID],
			Poll:          polls[p.ID],
			LikeCount:     likes[p.ID],
			CommentCount:  comments[p.ID],
			IsLiked:       liked[p.ID],
			ContentTypeID: int64(p.ContentTypeID()),
			ObjectID:      int64(p.ID),
			IsSaved:       saved[p.ID],
		}
		if view.Media == nil {
			view.Media = []models.Media{}
		}
		if p.GroupID != nil {
			view.PostType = models.PostTypeGroup
			g := groups[*p.GroupID]
			view.Group = &models.GroupRef{ID: int64(g.ID), Name: g.Name, Slug: g.Slug}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Server) postView(ctx context.Context, base string, viewer uint, p Post) (models.Post, error) {
	views, err := s.postViews(ctx, base, viewer, []Post{p})
	if err != nil {
		return models.Post{}, err
	}
	return views[0], nil
}

// pollViews returns the poll of each post that has one, keyed by post id.
func (s *Server) pollViews(ctx context.Context, viewer uint, postIDs []uint) (map[uint]*models.Poll, error) {
	db := s.db.WithContext(ctx)
	out := make(map[uint]*models.Poll)

	var polls []Poll
	if err := db.Where("post_id IN ?", postIDs).Find(&polls).Error; err != nil {
		return nil, err
	}
	if len(polls) == 0 {
		return out, nil
	}
	pollIDs := make([]uint, 0, len(polls))
	for _, p := range polls {
		pollIDs = append(pollIDs, p.ID)
	}

	var options []PollOption
	if err := db.Where("poll_id IN ?", pollIDs).Order("position, id").Find(&options).Error; err != nil {
		return nil, err
	}
	counts, err := countBy(db, &Vote{}, "option_id", "poll_id IN ?", pollIDs)
	if err != nil {
		return nil, err
	}
	var mine []Vote
	if err := db.Where("poll_id IN ? AND user_id = ?", pollIDs, viewer).Find(&mine).Error; err != nil {
		return nil, err
	}
	myVote := make(map[uint]int64, len(mine))
	for _, v := range mine {
		myVote[v.PollID] = int64(v.OptionID)
	}

	byPoll := make(map[uint]*models.Poll, len(polls))
	for _, p := range polls {
		view := &models.Poll{ID: int64(p.ID), Question: p.Question, Options: []models.PollOption{}}
		if v, ok := myVote[p.ID]; ok {
			view.UserVote = &v
		}
		byPoll[p.ID] = view
		out[p.PostID] = view
	}
	for _, o := range options {
		view := byPoll[o.PollID]
		n := counts[o.ID]
		view.Options = append(view.Options, models.PollOption{ID: int64(o.ID), Text: o.Text, VoteCount: n})
		view.TotalVotes += n
	}
	return out, nil
}

// groupViews renders groups as viewer sees them, in input order.
func (s *Server) groupViews(ctx context.Context, base string, viewer uint, groups []Group) ([]models.Group, error) {
	out := make([]models.Group, 0, len(groups))
	if len(groups) == 0 {
		return out, nil
	}
	db := s.db.WithContext(ctx)
	ids := make([]uint, 0, len(groups))
	creatorIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
		creatorIDs = append(creatorIDs, g.CreatorID)
	}
	creators, err := s.users.ListByIDs(ctx, creatorIDs)
	if err != nil {
		return nil, err
	}
	members, err := countBy(db, &Membership{}, "group_id", "group_id IN ?", ids)
	if err != nil {
		return nil, err
	}
	joined, err := idSet(db, &Membership{}, "group_id", "group_id IN ? AND user_id = ?", ids, viewer)
	if err != nil {
		return nil, err
	}
	requested, err := idSet(db, &JoinRequest{}, "group_id", "group_id IN ? AND user_id = ? AND status = ?", ids, viewer, RequestPending)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		out = append(out, models.Group{
			ID:           int64(g.ID),
			Name:         g.Name,
			Slug:         g.Slug,
			Description:  g.Description,
			Creator:      authorView(base, creators[g.CreatorID]),
			MemberCount:  members[g.ID],
			IsMember:     joined[g.ID],
			HasRequested: requested[g.ID],
			PrivacyLevel: models.PrivacyLevel(g.PrivacyLevel),
			CreatedAt:    g.CreatedAt,
		})
	}
	return out, nil
}

func (s *Server) groupView(ctx context.Context, base string, viewer uint, g Group) (models.Group, error) {
	views, err := s.groupViews(ctx, base, viewer, []Group{g})
	if err != nil {
		return models.Group{}, err
	}
	return views[0], nil
}

func (s *Server) commentViews(ctx context.Context, base string, comments []Comment) ([]models.Comment, error) {
	out := make([]models.Comment, 0, len(comments))
	ids := make([]uint, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.AuthorID)
	}
	authors, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		out = append(out, models.Comment{
			ID:        int64(c.ID),
			Author:    authorView(base, authors[c.AuthorID]),
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Server) notificationViews(ctx context.Context, base string, rows []Notification) ([]models.Notification, error) {
	out := make([]models.Notification, 0, len(rows))
	ids := make([]uint, 0, len(rows))
	for _, n := range rows {
		ids = append(ids, n.ActorID)
	}
	actors, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, n := range rows {
		view := models.Notification{
			ID:               int64(n.ID),
			Actor:            authorView(base, actors[n.ActorID]),
			Verb:             n.Verb,
			NotificationType: n.NotificationType,
			Timestamp:        n.CreatedAt,
			IsRead:           n.IsRead,
		}
		if n.TargetType != "" {
			view.Target = &models.ObjectRef{Type: n.TargetType, ID: int64(n.TargetID), DisplayText: n.TargetText}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Server) profileView(ctx context.Context, base string, viewer uint, u User) (models.Profile, error) {
	followers, following, err := s.users.FollowCounts(ctx, u.ID)
	if err != nil {
		return models.Profile{}, err
	}
	followed := false
	if viewer != u.ID {
		if followed, err = s.users.IsFollowing(ctx, viewer, u.ID); err != nil {
			return models.Profile{}, err
		}
	}
	return models.Profile{
		User:           userView(base, u, viewer == u.ID),
		DisplayName:    u.DisplayName,
		Headline:       u.Headline,
		Bio:            u.Bio,
		Location:       u.Location,
		Picture:        pictureURL(base, u),
		UpdatedAt:      u.UpdatedAt,
		IsFollowed:     followed,
		FollowersCount: int(followers),
		FollowingCount: int(following),
	}, nil
}
