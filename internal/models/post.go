package models

import "time"

// Post types produced by the API.
const (
	PostTypeStatus = "statuspost"
	PostTypeGroup  = "groupstatuspost"
)

// Media types attached to posts.
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// Author is the compact user reference embedded in posts.
type Author struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   string `json:"picture"`
}

// Media is a file attached to a post.
type Media struct {
	ID        int64  `json:"id"`
	MediaType string `json:"media_type"`
	FileURL   string `json:"file_url"`
}

// PollOption is one choice of a poll.
type PollOption struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}

// Poll is owned by exactly one post and is always replaced as a whole.
type Poll struct {
	ID         int64        `json:"id"`
	Question   string       `json:"question"`
	Options    []PollOption `json:"options"`
	TotalVotes int          `json:"total_votes"`
	UserVote   *int64       `json:"user_vote"`
}

// Clone returns a deep copy of the poll.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = append([]PollOption(nil), p.Options...)
	if p.UserVote != nil {
		v := *p.UserVote
		out.UserVote = &v
	}
	return &out
}

// GroupRef is the group a post was published in.
type GroupRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Post is the canonical content entity held by the entity cache.
type Post struct {
	ID            int64     `json:"id"`
	PostType      string    `json:"post_type"`
	Author        Author    `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Media         []Media   `json:"media"`
	Poll          *Poll     `json:"poll"`
	LikeCount     int       `json:"like_count"`
	CommentCount  int       `json:"comment_count"`
	IsLiked       bool      `json:"is_liked_by_user"`
	ContentTypeID int64     `json:"content_type_id"`
	ObjectID      int64     `json:"object_id"`
	Group         *GroupRef `json:"group"`
	IsSaved       bool      `json:"is_saved"`
}

// Clone returns a copy that shares no mutable state with p.
func (p Post) Clone() Post {
	out := p
	out.Media = append([]Media(nil), p.Media...)
	out.Poll = p.Poll.Clone()
	if p.Group != nil {
		g := *p.Group
		out.Group = &g
	}
	return out
}

// PostPatch is a partial post as received from the API or the push channel.
// Only fields present in the payload are applied by Merge.
type PostPatch struct {
	ID            int64               `json:"id"`
	PostType      Optional[string]    `json:"post_type,omitzero"`
	Author        Optional[Author]    `json:"author,omitzero"`
	CreatedAt     Optional[time.Time] `json:"created_at,omitzero"`
	UpdatedAt     Optional[time.Time] `json:"updated_at,omitzero"`
	Title         Optional[*string]   `json:"title,omitzero"`
	Content       Optional[*string]   `json:"content,omitzero"`
	Media         Optional[[]Media]   `json:"media,omitzero"`
	Poll          Optional[*Poll]     `json:"poll,omitzero"`
	LikeCount     Optional[int]       `json:"like_count,omitzero"`
	CommentCount  Optional[int]       `json:"comment_count,omitzero"`
	IsLiked       Optional[bool]      `json:"is_liked_by_user,omitzero"`
	ContentTypeID Optional[int64]     `json:"content_type_id,omitzero"`
	ObjectID      Optional[int64]     `json:"object_id,omitzero"`
	Group         Optional[*GroupRef] `json:"group,omitzero"`
	IsSaved       Optional[bool]      `json:"is_saved,omitzero"`
}

// Merge applies every present field of patch onto p (shallow merge).
func (p *Post) Merge(patch PostPatch) {
	p.ID = patch.ID
	if v, ok := patch.PostType.Get(); ok {
		p.PostType = v
	}
	if v, ok := patch.Author.Get(); ok {
		p.Author = v
	}
	if v, ok := patch.CreatedAt.Get(); ok {
		p.CreatedAt = v
	}
	if v, ok := patch.UpdatedAt.Get(); ok {
		p.UpdatedAt = v
	}
	if v, ok := patch.Title.Get(); ok {
		p.Title = deref(v)
	}
	if v, ok := patch.Content.Get(); ok {
		p.Content = deref(v)
	}
	if v, ok := patch.Media.Get(); ok {
		p.Media = append([]Media(nil), v...)
	}
	if v, ok := patch.Poll.Get(); ok {
		p.Poll = v.Clone()
	}
	if v, ok := patch.LikeCount.Get(); ok {
		p.LikeCount = v
	}
	if v, ok := patch.CommentCount.Get(); ok {
		p.CommentCount = v
	}
	if v, ok := patch.IsLiked.Get(); ok {
		p.IsLiked = v
	}
	if v, ok := patch.ContentTypeID.Get(); ok {
		p.ContentTypeID = v
	}
	if v, ok := patch.ObjectID.Get(); ok {
		p.ObjectID = v
	}
	if v, ok := patch.Group.Get(); ok {
		if v == nil {
			p.Group = nil
		} else {
			g := *v
			p.Group = &g
		}
	}
	if v, ok := patch.IsSaved.Get(); ok {
		p.IsSaved = v
	}
}

// Post resolves the patch on its own, leaving absent fields zero.
func (patch PostPatch) Post() Post {
	var p Post
	p.Merge(patch)
	return p
}

// PatchFromPost builds a patch with every field of p set.
func PatchFromPost(p Post) PostPatch {
	c := p.Clone()
	return PostPatch{
		ID:            c.ID,
		PostType:      Some(c.PostType),
		Author:        Some(c.Author),
		CreatedAt:     Some(c.CreatedAt),
		UpdatedAt:     Some(c.UpdatedAt),
		Title:         Some(&c.Title),
		Content:       Some(&c.Content),
		Media:         Some(c.Media),
		Poll:          Some(c.Poll),
		LikeCount:     Some(c.LikeCount),
		CommentCount:  Some(c.CommentCount),
		IsLiked:       Some(c.IsLiked),
		ContentTypeID: Some(c.ContentTypeID),
		ObjectID:      Some(c.ObjectID),
		Group:         Some(c.Group),
		IsSaved:       Some(c.IsSaved),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewPost is the input for creating a post.
type NewPost struct {
	Title     string
	Content   string
	GroupSlug string
	Poll      *NewPoll
	Media     []Upload
}

// NewPoll is the poll attached to a new post.
type NewPoll struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Upload is a prepared file ready to be sent as a multipart part.
type Upload struct {
	FieldName   string
	Filename    string
	ContentType string
	Data        []byte
}

// PostUpdate is the input for editing a post. Nil fields are left unchanged.
type PostUpdate struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}
