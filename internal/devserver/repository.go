package devserver

import (
	"context"
	"errors"
	"strings"

	"loopline/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines persistence operations for users and follows.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ListByIDs(ctx context.Context, ids []uint) (map[uint]User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	Search(ctx context.Context, query string, limit, offset int) ([]User, int64, error)
	Follow(ctx context.Context, followerID, followingID uint) (bool, error)
	Unfollow(ctx context.Context, followerID, followingID uint) (bool, error)
	IsFollowing(ctx context.Context, followerID, followingID uint) (bool, error)
	FollowerIDs(ctx context.Context, userID uint) ([]uint, error)
	FollowingIDs(ctx context.Context, userID uint) ([]uint, error)
	FollowCounts(ctx context.Context, userID uint) (followers, following int64, err error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("user", id)
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("user", username)
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListByIDs(ctx context.Context, ids []uint) (map[uint]User, error) {
	out := make(map[uint]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []User
	if err := r.db.WithContext(ctx).Where("id IN ?", uniqueIDs(ids)).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *userRepository) Create(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Update(ctx context.Context, user *User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// Search matches username, first name or last name, case-insensitively.
func (r *userRepository) Search(ctx context.Context, query string, limit, offset int) ([]User, int64, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	q := r.db.WithContext(ctx).Model(&User{}).
		Where("LOWER(username) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", pattern, pattern, pattern).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []User
	if err := q.Order("username").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Follow reports whether a new edge was created.
func (r *userRepository) Follow(ctx context.Context, followerID, followingID uint) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Follow{FollowerID: followerID, FollowingID: followingID})
	return res.RowsAffected > 0, res.Error
}

// Unfollow reports whether an edge was removed.
func (r *userRepository) Unfollow(ctx context.Context, followerID, followingID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&Follow{})
	return res.RowsAffected > 0, res.Error
}

func (r *userRepository) IsFollowing(ctx context.Context, followerID, followingID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Count(&n).Error
	return n > 0, err
}

func (r *userRepository) FollowerIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&Follow{}).Where("following_id = ?", userID).Pluck("follower_id", &ids).Error
	return ids, err
}

func (r *userRepository) FollowingIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&Follow{}).Where("follower_id = ?", userID).Pluck("following_id", &ids).Error
	return ids, err
}

func (r *userRepository) FollowCounts(ctx context.Context, userID uint) (int64, int64, error) {
	var followers, following int64
	if err := r.db.WithContext(ctx).Model(&Follow{}).Where("following_id = ?", userID).Count(&followers).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).Model(&Follow{}).Where("follower_id = ?", userID).Count(&following).Error; err != nil {
		return 0, 0, err
	}
	return followers, following, nil
}

// GroupRepository defines persistence operations for groups and membership.
type GroupRepository interface {
	GetBySlug(ctx context.Context, slug string) (*Group, error)
	List(ctx context.Context, limit, offset int) ([]Group, int64, error)
	Create(ctx context.Context, group *Group) error
	Delete(ctx context.Context, groupID uint) error
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	AddMember(ctx context.Context, groupID, userID uint) error
	RemoveMember(ctx context.Context, groupID, userID uint) (bool, error)
	Members(ctx context.Context, groupID uint, limit, offset int) ([]uint, int64, error)
	PendingRequest(ctx context.Context, groupID, userID uint) (*JoinRequest, error)
	CreateRequest(ctx context.Context, req *JoinRequest) error
	PendingRequests(ctx context.Context, groupID uint, limit, offset int) ([]JoinRequest, int64, error)
	GetRequest(ctx context.Context, groupID, requestID uint) (*JoinRequest, error)
	ApproveRequest(ctx context.Context, req *JoinRequest) error
	DenyRequest(ctx context.Context, req *JoinRequest) error
	TransferOwnership(ctx context.Context, groupID, newOwnerID uint) error
}

type groupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) GetBySlug(ctx context.Context, slug string) (*Group, error) {
	var g Group
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&g).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("group", slug)
		}
		return nil, err
	}
	return &g, nil
}

func (r *groupRepository) List(ctx context.Context, limit, offset int) ([]Group, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Group{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var groups []Group
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&groups).Error
	return groups, total, err
}

// Create stores the group and makes its creator the first member.
func (r *groupRepository) Create(ctx context.Context, group *Group) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		return tx.Create(&Membership{GroupID: group.ID, UserID: group.CreatorID}).Error
	})
}

// Delete removes the group with its members, requests and posts.
func (r *groupRepository) Delete(ctx context.Context, groupID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var postIDs []uint
		if err := tx.Model(&Post{}).Where("group_id = ?", groupID).Pluck("id", &postIDs).Error; err != nil {
			return err
		}
		if err := deletePosts(tx, postIDs); err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&JoinRequest{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Group{}, groupID).Error
	})
}

func (r *groupRepository) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Membership{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).Count(&n).Error
	return n > 0, err
}

func (r *groupRepository) AddMember(ctx context.Context, groupID, userID uint) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Membership{GroupID: groupID, UserID: userID}).Error
}

func (r *groupRepository) RemoveMember(ctx context.Context, groupID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&Membership{})
	return res.RowsAffected > 0, res.Error
}

// Members returns member user ids in join order.
func (r *groupRepository) Members(ctx context.Context, groupID uint, limit, offset int) ([]uint, int64, error) {
	q := r.db.WithContext(ctx).Model(&Membership{}).Where("group_id = ?", groupID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var ids []uint
	err := q.Order("id").Limit(limit).Offset(offset).Pluck("user_id", &ids).Error
	return ids, total, err
}

// PendingRequest returns nil when userID has no pending request.
func (r *groupRepository) PendingRequest(ctx context.Context, groupID, userID uint) (*JoinRequest, error) {
	var req JoinRequest
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, RequestPending).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *groupRepository) CreateRequest(ctx context.Context, req *JoinRequest) error {
	if req.Status == "" {
		req.Status = RequestPending
	}
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *groupRepository) PendingRequests(ctx context.Context, groupID uint, limit, offset int) ([]JoinRequest, int64, error) {
	q := r.db.WithContext(ctx).Model(&JoinRequest{}).
		Where("group_id = ? AND status = ?", groupID, RequestPending).
		Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var reqs []JoinRequest
	err := q.Order("created_at, id").Limit(limit).Offset(offset).Find(&reqs).Error
	return reqs, total, err
}

func (r *groupRepository) GetRequest(ctx context.Context, groupID, requestID uint) (*JoinRequest, error) {
	var req JoinRequest
	err := r.db.WithContext(ctx).Where("id = ? AND group_id = ?", requestID, groupID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("join request", requestID)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ApproveRequest adds the requester as a member and marks the request approved.
func (r *groupRepository) ApproveRequest(ctx context.Context, req *JoinRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Membership{GroupID: req.GroupID, UserID: req.UserID}).Error; err != nil {
			return err
		}
		req.Status = RequestApproved
		return tx.Model(&JoinRequest{}).Where("id = ?", req.ID).Update("status", RequestApproved).Error
	})
}

// DenyRequest deletes the request.
func (r *groupRepository) DenyRequest(ctx context.Context, req *JoinRequest) error {
	return r.db.WithContext(ctx).Delete(&JoinRequest{}, req.ID).Error
}

func (r *groupRepository) TransferOwnership(ctx context.Context, groupID, newOwnerID uint) error {
	return r.db.WithContext(ctx).Model(&Group{}).Where("id = ?", groupID).Update("creator_id", newOwnerID).Error
}

// deletePosts removes posts with everything that hangs off them.
func deletePosts(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var pollIDs []uint
	if err := tx.Model(&Poll{}).Where("post_id IN ?", ids).Pluck("id", &pollIDs).Error; err != nil {
		return err
	}
	if len(pollIDs) > 0 {
		if err := tx.Where("poll_id IN ?", pollIDs).Delete(&Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id IN ?", pollIDs).Delete(&PollOption{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", pollIDs).Delete(&Poll{}).Error; err != nil {
			return err
		}
	}
	for _, model := range []interface{}{&Like{}, &SavedPost{}, &Comment{}, &Upload{}} {
		if err := tx.Where("post_id IN ?", ids).Delete(model).Error; err != nil {
			return err
		}
	}
	return tx.Where("id IN ?", ids).Delete(&Post{}).Error
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
