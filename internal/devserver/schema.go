package devserver

import (
	"time"
)

// Content type ids reported with every post. Likes and reports address a
// post as /content/{content_type_id}/{object_id}/.
const (
	ContentTypeStatusPost uint = 11
	ContentTypeGroupPost  uint = 12
)

// User is a registered account with its public profile fields.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;size:150;not null"`
	Email        string    `gorm:"size:254"`
	PasswordHash string    `gorm:"not null"`
	FirstName    string    `gorm:"size:150"`
	LastName     string    `gorm:"size:150"`
	DisplayName  string    `gorm:"size:150"`
	Headline     string    `gorm:"size:255"`
	Bio          string    `gorm:"type:text"`
	Location     string    `gorm:"size:100"`
	PictureID    *uint     `gorm:"index"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

// Follow is a directed follower -> following edge.
type Follow struct {
	ID          uint `gorm:"primaryKey"`
	FollowerID  uint `gorm:"uniqueIndex:idx_follow_pair;not null"`
	FollowingID uint `gorm:"uniqueIndex:idx_follow_pair;index;not null"`
	CreatedAt   time.Time
}

// Post is a status post, or a group status post when GroupID is set.
type Post struct {
	ID        uint   `gorm:"primaryKey"`
	AuthorID  uint   `gorm:"index;not null"`
	GroupID   *uint  `gorm:"index"`
	Title     string `gorm:"size:255"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentTypeID reports the content type the post is addressed by.
func (p Post) ContentTypeID() uint {
	if p.GroupID != nil {
		return ContentTypeGroupPost
	}
	return ContentTypeStatusPost
}

// Upload is a stored file. Post media set PostID; profile pictures do not.
type Upload struct {
	ID          uint   `gorm:"primaryKey"`
	OwnerID     uint   `gorm:"index;not null"`
	PostID      *uint  `gorm:"index"`
	MediaType   string `gorm:"size:16"`
	Filename    string `gorm:"size:255"`
	ContentType string `gorm:"size:100"`
	Data        []byte
	CreatedAt   time.Time
}

// Poll belongs to exactly one post.
type Poll struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"uniqueIndex;not null"`
	Question  string `gorm:"size:255"`
	CreatedAt time.Time
}

type PollOption struct {
	ID       uint   `gorm:"primaryKey"`
	PollID   uint   `gorm:"index;not null"`
	Text     string `gorm:"size:100"`
	Position int
}

// Vote is one user's choice on a poll.
type Vote struct {
	ID       uint `gorm:"primaryKey"`
	PollID   uint `gorm:"uniqueIndex:idx_vote_user;not null"`
	UserID   uint `gorm:"uniqueIndex:idx_vote_user;not null"`
	OptionID uint `gorm:"index;not null"`
}

type Like struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"uniqueIndex:idx_like_user_post;not null"`
	PostID    uint `gorm:"uniqueIndex:idx_like_user_post;index;not null"`
	CreatedAt time.Time
}

type SavedPost struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"uniqueIndex:idx_saved_user_post;not null"`
	PostID    uint `gorm:"uniqueIndex:idx_saved_user_post;not null"`
	CreatedAt time.Time
}

type Comment struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint   `gorm:"index;not null"`
	AuthorID  uint   `gorm:"index;not null"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is addressed to one recipient. Target fields describe the
// object the notification is about.
type Notification struct {
	ID               uint   `gorm:"primaryKey"`
	RecipientID      uint   `gorm:"index;not null"`
	ActorID          uint   `gorm:"not null"`
	Verb             string `gorm:"size:100"`
	NotificationType string `gorm:"size:32"`
	TargetType       string `gorm:"size:32"`
	TargetID         uint
	TargetText       string `gorm:"size:255"`
	IsRead           bool   `gorm:"index"`
	CreatedAt        time.Time
}

// Group is a community space.
type Group struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:100;not null"`
	Slug         string `gorm:"uniqueIndex;size:120;not null"`
	Description  string `gorm:"type:text"`
	CreatorID    uint   `gorm:"index;not null"`
	PrivacyLevel string `gorm:"size:16;default:public"`
	CreatedAt    time.Time
}

type Membership struct {
	ID        uint `gorm:"primaryKey"`
	GroupID   uint `gorm:"uniqueIndex:idx_membership;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_membership;index;not null"`
	CreatedAt time.Time
}

// Join request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
)

type JoinRequest struct {
	ID        uint   `gorm:"primaryKey"`
	GroupID   uint   `gorm:"index;not null"`
	UserID    uint   `gorm:"index;not null"`
	Status    string `gorm:"size:16;default:pending"`
	CreatedAt time.Time
}

type Report struct {
	ID            uint   `gorm:"primaryKey"`
	ReporterID    uint   `gorm:"index;not null"`
	ContentTypeID uint   `gorm:"not null"`
	ObjectID      uint   `gorm:"not null"`
	Reason        string `gorm:"size:32"`
	Details       string `gorm:"type:text"`
	CreatedAt     time.Time
}

// allModels lists every table in migration order.
func allModels() []interface{} {
	return []interface{}{
		&User{},
		&Follow{},
		&Post{},
		&Upload{},
		&Poll{},
		&PollOption{},
		&Vote{},
		&Like{},
		&SavedPost{},
		&Comment{},
		&Notification{},
		&Group{},
		&Membership{},
		&JoinRequest{},
		&Report{},
	}
}
