package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HarnessPassword is the password of users created by username_prefix.
const HarnessPassword = "Loopline@123"

const defaultHarnessPassword = "password123"

// Prefixes of usernames the cleanup action removes.
var harnessPrefixes = []string{
	"creator_", "requester_", "member_", "user_", "auth_test_", "multitab_",
	"pollTester", "interaction_", "profileEditor", "pictureRemover", "pictureUploader",
	"user_with_posts_", "reactive_", "main_", "joiner_", "viewer_", "follower_",
	"denied_", "blocked_",
}

var harnessUsernames = []string{"userA", "userB", "userC"}

// Groups whose name ends in a timestamp were made by create_group.
var harnessGroupName = regexp.MustCompile(`\d{10,}$`)

type harnessRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type harnessError string

func (e harnessError) Error() string { return string(e) }

// Harness handles POST /api/e2e/, the test-data endpoint used by end-to-end
// suites. It is mounted only when the harness is enabled.
func (s *Server) Harness(c *fiber.Ctx) error {
	var req harnessRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, errors.New("invalid request body"))
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		req.Data = json.RawMessage("{}")
	}

	ctx := c.UserContext()
	var (
		status = fiber.StatusCreated
		out    any
		err    error
	)
	switch req.Action {
	case "create_user":
		out, err = s.harnessCreateUser(ctx, req.Data)
	case "create_group":
		out, err = s.harnessCreateGroup(ctx, req.Data)
	case "create_post":
		out, err = s.harnessCreatePost(ctx, req.Data)
	case "create_post_with_poll":
		out, err = s.harnessCreatePoll(ctx, req.Data)
	case "create_follow":
		out, err = s.harnessCreateFollow(ctx, req.Data)
	case "cleanup":
		status = fiber.StatusOK
		out, err = s.harnessCleanup(ctx)
	default:
		err = harnessError("Invalid action specified.")
	}
	if err != nil {
		s.log.WarnContext(ctx, "harness action failed", slog.String("action", req.Action), slog.String("error", err.Error()))
		var he harnessError
		if errors.As(err, &he) || models.IsNotFound(err) {
			return RespondWithError(c, fiber.StatusBadRequest, err)
		}
		return RespondWithError(c, fiber.StatusInternalServerError, models.NewTransientError(fiber.StatusInternalServerError, err))
	}
	return c.Status(status).JSON(out)
}

func decodeData(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return harnessError("invalid data: " + err.Error())
	}
	return nil
}

func (s *Server) harnessCreateUser(ctx context.Context, raw json.RawMessage) (any, error) {
	var data struct {
		UsernamePrefix string `json:"username_prefix"`
		Username       string `json:"username"`
		Password       string `json:"password"`
		Email          string `json:"email"`
	}
	if err := decodeData(raw, &data); err != nil {
		return nil, err
	}

	var user *User
	switch {
	case data.UsernamePrefix != "":
		username := fmt.Sprintf("%s_%d", data.UsernamePrefix, time.Now().UnixNano())
		created, err := s.createUser(ctx, username, "", HarnessPassword)
		if err != nil {
			return nil, err
		}
		user = created
	case data.Username != "":
		existing, err := s.users.GetByUsername(ctx, data.Username)
		switch {
		case err == nil:
			user = existing
		case models.IsNotFound(err):
			password := data.Password
			if password == "" {
				password = defaultHarnessPassword
			}
			if user, err = s.createUser(ctx, data.Username, data.Email, password); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	default:
		return nil, harnessError("Action 'create_user' requires either 'username' or 'username_prefix' in data.")
	}

	token, err := s.generateToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"id": user.ID, "username": user.Username, "token": token}, nil
}

func (s *Server) harnessCreateGroup(ctx context.Context, raw json.RawMessage) (any, error) {
	var data struct {
		CreatorPrefix string `json:"creator_username_prefix"`
		Name          string `json:"name"`
		IsPrivate     bool   `json:"is_private"`
	}
	if err := decodeData(raw, &data); err != nil {
		return nil, err
	}
	if data.CreatorPrefix == "" {
		return nil, harnessError("creator_username_prefix is required for create_group")
	}
	var creator User
	err := s.db.WithContext(ctx).Where(likePrefix, escapeLike(data.CreatorPrefix)+"%").
		Order("created_at DESC, id DESC").First(&creator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, harnessError("no user matches prefix " + data.CreatorPrefix)
	}
	if err != nil {
		return nil, err
	}

	name := data.Name
	if name == "" {
		name = "Default Test Group"
	}
	name = fmt.Sprintf("%s-%d", name, time.Now().Unix())
	privacy := models.PrivacyPublic
	if data.IsPrivate {
		privacy = models.PrivacyPrivate
	}
	slug, err := s.uniqueSlug(ctx, name)
	if err != nil {
		return nil, err
	}
	group := &Group{Name: name, Slug: slug, CreatorID: creator.ID, PrivacyLevel: string(privacy)}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, err
	}
	return fiber.Map{"name": group.Name, "slug": group.Slug}, nil
}

func (s *Server) harnessCreatePost(ctx context.Context, raw json.RawMessage) (any, error) {
	var data struct {
		Username string `json:"username"`
		Content  string `json:"content"`
	}
	if err := decodeData(raw, &data); err != nil {
		return nil, err
	}
	author, err := s.users.GetByUsername(ctx, data.Username)
	if err != nil {
		return nil, err
	}
	post, err := s.createPost(ctx, author.ID, nil, postInput{Content: data.Content})
	if err != nil {
		return nil, err
	}
	return fiber.Map{"message": "Post created.", "post_id": post.ID}, nil
}

func (s *Server) harnessCreatePoll(ctx context.Context, raw json.RawMessage) (any, error) {
	var data struct {
		Username     string   `json:"username"`
		PollQuestion string   `json:"poll_question"`
		PollOptions  []string `json:"poll_options"`
	}
	if err := decodeData(raw, &data); err != nil {
		return nil, err
	}
	author, err := s.users.GetByUsername(ctx, data.Username)
	if err != nil {
		return nil, err
	}
	question := data.PollQuestion
	if question == "" {
		question = "Default Poll Question"
	}
	in := postInput{Content: question, Poll: &models.NewPoll{Question: question, Options: data.PollOptions}}
	if err := in.validate(); err != nil {
		return nil, harnessError(models.UserMessage(err))
	}
	post, err := s.createPost(ctx, author.ID, nil, in)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"message": "Post with poll created.", "post_id": post.ID}, nil
}

func (s *Server) harnessCreateFollow(ctx context.Context, raw json.RawMessage) (any, error) {
	var data struct {
		Follower  string `json:"follower"`
		Following string `json:"following"`
	}
	if err := decodeData(raw, &data); err != nil {
		return nil, err
	}
	follower, err := s.users.GetByUsername(ctx, data.Follower)
	if err != nil {
		return nil, err
	}
	following, err := s.users.GetByUsername(ctx, data.Following)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.Follow(ctx, follower.ID, following.ID); err != nil {
		return nil, err
	}
	return fiber.Map{"message": "Follow relationship created."}, nil
}

// harnessCleanup removes test users with everything they own, and groups
// created by create_group.
func (s *Server) harnessCleanup(ctx context.Context) (any, error) {
	var usersDeleted, groupsDeleted int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&User{}).Where("username IN ?", harnessUsernames)
		for _, prefix := range harnessPrefixes {
			q = q.Or(likePrefix, escapeLike(prefix)+"%")
		}
		var userIDs []uint
		if err := q.Pluck("id", &userIDs).Error; err != nil {
			return err
		}

		var groups []Group
		if err := tx.Select("id", "name", "creator_id").Find(&groups).Error; err != nil {
			return err
		}
		doomed := make(map[uint]bool, len(userIDs))
		for _, id := range userIDs {
			doomed[id] = true
		}
		var groupIDs []uint
		for _, g := range groups {
			if harnessGroupName.MatchString(g.Name) || doomed[g.CreatorID] {
				groupIDs = append(groupIDs, g.ID)
			}
		}

		if err := deleteGroups(tx, groupIDs); err != nil {
			return err
		}
		if err := deleteUsers(tx, userIDs); err != nil {
			return err
		}
		usersDeleted, groupsDeleted = len(userIDs), len(groupIDs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"status":         "success",
		"message":        "Test data cleanup complete.",
		"users_deleted":  usersDeleted,
		"groups_deleted": groupsDeleted,
	}, nil
}

const likePrefix = "username LIKE ? ESCAPE '\\'"

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func deleteGroups(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var postIDs []uint
	if err := tx.Model(&Post{}).Where("group_id IN ?", ids).Pluck("id", &postIDs).Error; err != nil {
		return err
	}
	if err := deletePosts(tx, postIDs); err != nil {
		return err
	}
	if err := tx.Where("group_id IN ?", ids).Delete(&Membership{}).Error; err != nil {
		return err
	}
	if err := tx.Where("group_id IN ?", ids).Delete(&JoinRequest{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&Group{}).Error
}

// deleteUsers removes users with their posts and every row naming them.
func deleteUsers(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var postIDs []uint
	if err := tx.Model(&Post{}).Where("author_id IN ?", ids).Pluck("id", &postIDs).Error; err != nil {
		return err
	}
	if err := deletePosts(tx, postIDs); err != nil {
		return err
	}
	byUser := []struct {
		model any
		query string
	}{
		{&Follow{}, "follower_id IN ? OR following_id IN ?"},
		{&Notification{}, "recipient_id IN ? OR actor_id IN ?"},
	}
	for _, d := range byUser {
		if err := tx.Where(d.query, ids, ids).Delete(d.model).Error; err != nil {
			return err
		}
	}
	for _, model := range []any{&Like{}, &SavedPost{}, &Vote{}, &Membership{}, &JoinRequest{}, &Report{}} {
		col := "user_id"
		if _, ok := model.(*Report); ok {
			col = "reporter_id"
		}
		if err := tx.Where(col+" IN ?", ids).Delete(model).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("author_id IN ?", ids).Delete(&Comment{}).Error; err != nil {
		return err
	}
	if err := tx.Where("owner_id IN ?", ids).Delete(&Upload{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&User{}).Error
}
