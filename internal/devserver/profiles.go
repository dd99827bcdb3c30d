package devserver

import (
	"strings"

	"loopline/internal/media"
	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const profilePictureSize = 512

func (s *Server) userByParam(c *fiber.Ctx) (*User, error) {
	return s.users.GetByUsername(c.UserContext(), c.Params("username"))
}

func (s *Server) respondProfile(c *fiber.Ctx, u User) error {
	view, err := s.profileView(c.UserContext(), baseURL(c), currentUserID(c), u)
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(view)
}

// GetProfile handles GET /api/profiles/:username/.
func (s *Server) GetProfile(c *fiber.Ctx) error {
	user, err := s.userByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	return s.respondProfile(c, *user)
}

type profileUpdate struct {
	FirstName   *string `json:"first_name" form:"first_name"`
	LastName    *string `json:"last_name" form:"last_name"`
	DisplayName *string `json:"display_name" form:"display_name"`
	Headline    *string `json:"headline" form:"headline"`
	Bio         *string `json:"bio" form:"bio"`
	Location    *string `json:"location" form:"location"`
}

func (p profileUpdate) apply(u *User) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.DisplayName, p.DisplayName)
	set(&u.Headline, p.Headline)
	set(&u.Bio, p.Bio)
	set(&u.Location, p.Location)
}

// UpdateProfile handles PATCH /api/profiles/:username/. Text fields arrive
// as JSON or form values; a new picture arrives as the multipart "picture"
// file and is normalized before it is stored.
func (s *Server) UpdateProfile(c *fiber.Ctx) error {
	user, err := s.userByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	if user.ID != currentUserID(c) {
		return forbidden(c)
	}

	var req profileUpdate
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
		}
	}
	req.apply(user)

	var picture *Upload
	if isMultipart(c) {
		if fh, err := c.FormFile(media.FieldProfilePicture); err == nil {
			f, err := readFile(fh)
			if err != nil {
				return RespondWithError(c, fiber.StatusBadRequest, fieldError(media.FieldProfilePicture, "Upload a valid image."))
			}
			prepared, err := s.images.Prepare(media.FieldProfilePicture, f.Filename, f.ContentType, f.Data)
			if err != nil {
				if models.IsValidation(err) {
					return RespondWithError(c, fiber.StatusBadRequest, err)
				}
				return RespondWithError(c, fiber.StatusInternalServerError, models.NewTransientError(fiber.StatusInternalServerError, err))
			}
			picture = &Upload{
				OwnerID:     user.ID,
				MediaType:   models.MediaTypeImage,
				Filename:    prepared.Filename,
				ContentType: prepared.ContentType,
				Data:        prepared.Data,
			}
		}
	}

	err = s.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if picture != nil {
			if err := tx.Create(picture).Error; err != nil {
				return err
			}
			if user.PictureID != nil {
				if err := tx.Delete(&Upload{}, *user.PictureID).Error; err != nil {
					return err
				}
			}
			user.PictureID = &picture.ID
		}
		return tx.Save(user).Error
	})
	if err != nil {
		return dbError(c, err)
	}
	return s.respondProfile(c, *user)
}

// UserPosts handles GET /api/users/:username/posts/.
func (s *Server) UserPosts(c *fiber.Ctx) error {
	user, err := s.userByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	q := s.db.WithContext(c.UserContext()).Model(&Post{}).Where("author_id = ? AND group_id IS NULL", user.ID)
	return s.respondPostPage(c, q, defaultPageSize)
}

// Follow handles POST /api/users/:username/follow/.
func (s *Server) Follow(c *fiber.Ctx) error {
	target, err := s.userByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	if target.ID == viewer {
		return respondDetail(c, fiber.StatusBadRequest, "You cannot follow yourself.")
	}
	created, err := s.users.Follow(c.UserContext(), viewer, target.ID)
	if err != nil {
		return dbError(c, err)
	}
	if !created {
		return respondDetail(c, fiber.StatusOK, "You are already following "+target.Username+".")
	}
	actor, err := s.users.GetByID(c.UserContext(), viewer)
	if err != nil {
		return dbError(c, err)
	}
	s.notify(c.UserContext(), baseURL(c), Notification{
		RecipientID:      target.ID,
		ActorID:          viewer,
		Verb:             "started following you",
		NotificationType: models.NotificationFollow,
		TargetType:       "user",
		TargetID:         viewer,
		TargetText:       actor.Username,
	})
	return respondDetail(c, fiber.StatusCreated, "You are now following "+target.Username+".")
}

// Unfollow handles DELETE /api/users/:username/follow/.
func (s *Server) Unfollow(c *fiber.Ctx) error {
	target, err := s.userByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	removed, err := s.users.Unfollow(c.UserContext(), currentUserID(c), target.ID)
	if err != nil {
		return dbError(c, err)
	}
	if !removed {
		return respondDetail(c, fiber.StatusBadRequest, "You are not following "+target.Username+".")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SearchUsers handles GET /api/search/users/?q=. A blank query matches
// nobody.
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	page, size := pageParams(c, defaultPageSize)
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.JSON(numberedPage[models.User](c, nil, 0, page, size))
	}
	users, total, err := s.users.Search(c.UserContext(), query, size, (page-1)*size)
	if err != nil {
		return dbError(c, err)
	}
	views := make([]models.User, 0, len(users))
	for _, u := range users {
		views = append(views, userView(baseURL(c), u, false))
	}
	return c.JSON(numberedPage(c, views, total, page, size))
}
