package devserver

import (
	"strings"

	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
)

// threadPost resolves /comments/:type/:obj/ to the post the thread hangs off.
func (s *Server) threadPost(c *fiber.Ctx) (*Post, error) {
	obj, ok := paramID(c, "obj")
	if !ok {
		return nil, models.NewNotFoundError("object", c.Params("obj"))
	}
	post, err := s.loadPost(c, obj)
	if err != nil {
		return nil, err
	}
	if postTypeOf(*post) != c.Params("type") {
		return nil, models.NewNotFoundError(c.Params("type"), obj)
	}
	return post, nil
}

func commentBody(c *fiber.Ctx) (string, error) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return "", models.NewValidationError("Invalid request body", nil)
	}
	if strings.TrimSpace(req.Content) == "" {
		return "", fieldError("content", "This field may not be blank.")
	}
	return req.Content, nil
}

// ListComments handles GET /api/comments/:type/:obj/. The thread is returned
// as a plain array, newest first.
func (s *Server) ListComments(c *fiber.Ctx) error {
	post, err := s.threadPost(c)
	if err != nil {
		return dbError(c, err)
	}
	var rows []Comment
	if err := s.db.WithContext(c.UserContext()).Where("post_id = ?", post.ID).Order("id DESC").Find(&rows).Error; err != nil {
		return dbError(c, err)
	}
	views, err := s.commentViews(c.UserContext(), baseURL(c), rows)
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(views)
}

// CreateComment handles POST /api/comments/:type/:obj/.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	post, err := s.threadPost(c)
	if err != nil {
		return dbError(c, err)
	}
	content, err := commentBody(c)
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, err)
	}
	viewer := currentUserID(c)
	comment := Comment{PostID: post.ID, AuthorID: viewer, Content: content}
	if err := s.db.WithContext(c.UserContext()).Create(&comment).Error; err != nil {
		return dbError(c, err)
	}
	s.notify(c.UserContext(), baseURL(c), Notification{
		RecipientID:      post.AuthorID,
		ActorID:          viewer,
		Verb:             "commented on your post",
		NotificationType: models.NotificationComment,
		TargetType:       postTypeOf(*post),
		TargetID:         post.ID,
		TargetText:       excerpt(post.Content),
	})
	views, err := s.commentViews(c.UserContext(), baseURL(c), []Comment{comment})
	if err != nil {
		return dbError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(views[0])
}

func (s *Server) loadComment(c *fiber.Ctx) (*Comment, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, models.NewNotFoundError("comment", c.Params("id"))
	}
	var comment Comment
	if err := s.db.WithContext(c.UserContext()).First(&comment, id).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

// UpdateComment handles PUT /api/comments/:id/. Only the author may edit.
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	comment, err := s.loadComment(c)
	if err != nil {
		return dbError(c, err)
	}
	if comment.AuthorID != currentUserID(c) {
		return forbidden(c)
	}
	content, err := commentBody(c)
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, err)
	}
	comment.Content = content
	if err := s.db.WithContext(c.UserContext()).Save(comment).Error; err != nil {
		return dbError(c, err)
	}
	views, err := s.commentViews(c.UserContext(), baseURL(c), []Comment{*comment})
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(views[0])
}

// DeleteComment handles DELETE /api/comments/:id/. The comment's author and
// the post's author may delete.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	comment, err := s.loadComment(c)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	if comment.AuthorID != viewer {
		var post Post
		if err := s.db.WithContext(c.UserContext()).Select("id", "author_id").First(&post, comment.PostID).Error; err != nil {
			return dbError(c, err)
		}
		if post.AuthorID != viewer {
			return forbidden(c)
		}
	}
	if err := s.db.WithContext(c.UserContext()).Delete(&Comment{}, comment.ID).Error; err != nil {
		return dbError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
