package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minPollOptions = 2
	maxPollOptions = 10
)

// postInput is a parsed create-post request.
type postInput struct {
	Title   string
	Content string
	Poll    *models.NewPoll
	Files   []fileInput
}

type fileInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}

// parsePostInput accepts a JSON body or a multipart form whose poll_data
// field is a JSON string and whose files arrive in the "image" field.
func parsePostInput(c *fiber.Ctx) (postInput, error) {
	var in postInput
	if isMultipart(c) {
		in.Title = c.FormValue("title")
		in.Content = c.FormValue("content")
		if raw := c.FormValue("poll_data"); raw != "" {
			var poll models.NewPoll
			if err := json.Unmarshal([]byte(raw), &poll); err != nil {
				return in, fieldError("poll_data", "Invalid poll data.")
			}
			in.Poll = &poll
		}
		form, err := c.MultipartForm()
		if err != nil {
			return in, models.NewValidationError("Invalid multipart body", nil)
		}
		for _, fh := range form.File["image"] {
			f, err := readFile(fh)
			if err != nil {
				return in, fieldError("image", "Upload a valid file.")
			}
			in.Files = append(in.Files, f)
		}
	} else {
		var body struct {
			Title    string          `json:"title"`
			Content  string          `json:"content"`
			PollData *models.NewPoll `json:"poll_data"`
		}
		if err := c.BodyParser(&body); err != nil {
			return in, models.NewValidationError("Invalid request body", nil)
		}
		in.Title, in.Content, in.Poll = body.Title, body.Content, body.PollData
	}
	in.Title = strings.TrimSpace(in.Title)
	return in, in.validate()
}

func (in *postInput) validate() error {
	if strings.TrimSpace(in.Content) == "" && in.Poll == nil && len(in.Files) == 0 {
		return fieldError("content", "This field may not be blank.")
	}
	if in.Poll == nil {
		return nil
	}
	in.Poll.Question = strings.TrimSpace(in.Poll.Question)
	if in.Poll.Question == "" {
		return fieldError("poll_data", "A poll needs a question.")
	}
	options := make([]string, 0, len(in.Poll.Options))
	for _, o := range in.Poll.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) < minPollOptions || len(options) > maxPollOptions {
		return fieldError("poll_data", fmt.Sprintf("A poll needs between %d and %d options.", minPollOptions, maxPollOptions))
	}
	in.Poll.Options = options
	return nil
}

func readFile(fh *multipart.FileHeader) (fileInput, error) {
	f, err := fh.Open()
	if err != nil {
		return fileInput{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fileInput{}, err
	}
	return fileInput{Filename: fh.Filename, ContentType: fh.Header.Get(fiber.HeaderContentType), Data: data}, nil
}

func mediaTypeOf(contentType string) string {
	if strings.HasPrefix(contentType, "video/") {
		return models.MediaTypeVideo
	}
	return models.MediaTypeImage
}

// createPost stores a post with its poll and uploads in one transaction.
func (s *Server) createPost(ctx context.Context, authorID uint, groupID *uint, in postInput) (Post, error) {
	post := Post{AuthorID: authorID, GroupID: groupID, Title: in.Title, Content: in.Content}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		if in.Poll != nil {
			poll := Poll{PostID: post.ID, Question: in.Poll.Question}
			if err := tx.Create(&poll).Error; err != nil {
				return err
			}
			options := make([]PollOption, 0, len(in.Poll.Options))
			for i, text := range in.Poll.Options {
				options = append(options, PollOption{PollID: poll.ID, Text: text, Position: i})
			}
			if err := tx.Create(&options).Error; err != nil {
				return err
			}
		}
		for _, f := range in.Files {
			upload := Upload{
				OwnerID:     authorID,
				PostID:      &post.ID,
				MediaType:   mediaTypeOf(f.ContentType),
				Filename:    f.Filename,
				ContentType: f.ContentType,
				Data:        f.Data,
			}
			if err := tx.Create(&upload).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return post, err
}

// visiblePosts scopes a post query to what viewer may read: status posts,
// posts in public groups and posts in groups viewer belongs to.
func (s *Server) visiblePosts(ctx context.Context, viewer uint) *gorm.DB {
	db := s.db.WithContext(ctx)
	public := db.Model(&Group{}).Select("id").Where("privacy_level = ?", string(models.PrivacyPublic))
	joined := db.Model(&Membership{}).Select("group_id").Where("user_id = ?", viewer)
	return db.Model(&Post{}).Where("group_id IS NULL OR group_id IN (?) OR group_id IN (?)", public, joined)
}

func (s *Server) loadPost(c *fiber.Ctx, id uint) (*Post, error) {
	var post Post
	if err := s.visiblePosts(c.UserContext(), currentUserID(c)).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func (s *Server) respondPost(c *fiber.Ctx, status int, post Post) error {
	view, err := s.postView(c.UserContext(), baseURL(c), currentUserID(c), post)
	if err != nil {
		return dbError(c, err)
	}
	return c.Status(status).JSON(view)
}

// respondPostPage renders one numbered page of q, newest first.
func (s *Server) respondPostPage(c *fiber.Ctx, q *gorm.DB, defaultSize int) error {
	page, size := pageParams(c, defaultSize)
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return dbError(c, err)
	}
	var posts []Post
	if err := q.Session(&gorm.Session{}).Order("id DESC").Limit(size).Offset((page - 1) * size).Find(&posts).Error; err != nil {
		return dbError(c, err)
	}
	views, err := s.postViews(c.UserContext(), baseURL(c), currentUserID(c), posts)
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(numberedPage(c, views, total, page, size))
}

// Feed handles GET /api/feed/: status posts by the viewer and the people
// they follow, newest first, cursor paginated.
func (s *Server) Feed(c *fiber.Ctx) error {
	ctx := c.UserContext()
	viewer := currentUserID(c)
	authors, err := s.users.FollowingIDs(ctx, viewer)
	if err != nil {
		return dbError(c, err)
	}
	authors = append(authors, viewer)

	q := s.db.WithContext(ctx).Model(&Post{}).Where("group_id IS NULL AND author_id IN ?", authors)
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return dbError(c, err)
	}
	if cursor := decodeCursor(c.Query("cursor")); cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	var posts []Post
	if err := q.Order("id DESC").Limit(feedPageSize + 1).Find(&posts).Error; err != nil {
		return dbError(c, err)
	}
	more := len(posts) > feedPageSize
	if more {
		posts = posts[:feedPageSize]
	}
	views, err := s.postViews(ctx, baseURL(c), viewer, posts)
	if err != nil {
		return dbError(c, err)
	}
	var last uint
	if len(posts) > 0 {
		last = posts[len(posts)-1].ID
	}
	return c.JSON(cursorPage(c, views, total, last, more))
}

// ListPosts handles GET /api/posts/?search=.
func (s *Server) ListPosts(c *fiber.Ctx) error {
	q := s.visiblePosts(c.UserContext(), currentUserID(c))
	if term := strings.TrimSpace(c.Query("search")); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(content) LIKE ?)", like, like)
	}
	return s.respondPostPage(c, q, defaultPageSize)
}

// CreatePost handles POST /api/posts/.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	in, err := parsePostInput(c)
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, err)
	}
	post, err := s.createPost(c.UserContext(), currentUserID(c), nil, in)
	if err != nil {
		return dbError(c, err)
	}
	s.fanOutLivePost(c.UserContext(), baseURL(c), post)
	return s.respondPost(c, fiber.StatusCreated, post)
}

// SavedPosts handles GET /api/posts/saved/.
func (s *Server) SavedPosts(c *fiber.Ctx) error {
	viewer := currentUserID(c)
	saved := s.db.WithContext(c.UserContext()).Model(&SavedPost{}).Select("post_id").Where("user_id = ?", viewer)
	q := s.visiblePosts(c.UserContext(), viewer).Where("id IN (?)", saved)
	return s.respondPostPage(c, q, feedPageSize)
}

// GetPost handles GET /api/posts/:id/.
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return notFound(c)
	}
	post, err := s.loadPost(c, id)
	if err != nil {
		return dbError(c, err)
	}
	return s.respondPost(c, fiber.StatusOK, *post)
}

// UpdatePost handles PATCH /api/posts/:id/. Only the author may edit.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return notFound(c)
	}
	post, err := s.loadPost(c, id)
	if err != nil {
		return dbError(c, err)
	}
	if post.AuthorID != currentUserID(c) {
		return forbidden(c)
	}
	var req models.PostUpdate
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	if req.Title != nil {
		post.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		if strings.TrimSpace(*req.Content) == "" {
			return RespondWithError(c, fiber.StatusBadRequest, fieldError("content", "This field may not be blank."))
		}
		post.Content = *req.Content
	}
	if err := s.db.WithContext(c.UserContext()).Save(post).Error; err != nil {
		return dbError(c, err)
	}
	return s.respondPost(c, fiber.StatusOK, *post)
}

// DeletePost handles DELETE /api/posts/:id/. Only the author may delete.
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return notFound(c)
	}
	post, err := s.loadPost(c, id)
	if err != nil {
		return dbError(c, err)
	}
	if post.AuthorID != currentUserID(c) {
		return forbidden(c)
	}
	err = s.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		return deletePosts(tx, []uint{post.ID})
	})
	if err != nil {
		return dbError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleSave handles POST /api/posts/:id/save/.
func (s *Server) ToggleSave(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return notFound(c)
	}
	post, err := s.loadPost(c, id)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	db := s.db.WithContext(c.UserContext())
	res := db.Where("user_id = ? AND post_id = ?", viewer, post.ID).Delete(&SavedPost{})
	if res.Error != nil {
		return dbError(c, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Create(&SavedPost{UserID: viewer, PostID: post.ID}).Error; err != nil {
			return dbError(c, err)
		}
	}
	return s.respondPost(c, fiber.StatusOK, *post)
}

// contentPost resolves /content/:ct/:obj/ to a visible post.
func (s *Server) contentPost(c *fiber.Ctx) (*Post, error) {
	ct, ok := paramID(c, "ct")
	if !ok {
		return nil, models.NewNotFoundError("content type", c.Params("ct"))
	}
	obj, ok := paramID(c, "obj")
	if !ok {
		return nil, models.NewNotFoundError("object", c.Params("obj"))
	}
	post, err := s.loadPost(c, obj)
	if err != nil {
		return nil, err
	}
	if post.ContentTypeID() != ct {
		return nil, models.NewNotFoundError("object", obj)
	}
	return post, nil
}

// ToggleLike handles POST /api/content/:ct/:obj/like/.
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	post, err := s.contentPost(c)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	db := s.db.WithContext(c.UserContext())
	res := db.Where("user_id = ? AND post_id = ?", viewer, post.ID).Delete(&Like{})
	if res.Error != nil {
		return dbError(c, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Create(&Like{UserID: viewer, PostID: post.ID}).Error; err != nil {
			return dbError(c, err)
		}
		s.notify(c.UserContext(), baseURL(c), Notification{
			RecipientID:      post.AuthorID,
			ActorID:          viewer,
			Verb:             "liked your post",
			NotificationType: models.NotificationLike,
			TargetType:       postTypeOf(*post),
			TargetID:         post.ID,
			TargetText:       excerpt(post.Content),
		})
	}
	return s.respondPost(c, fiber.StatusOK, *post)
}

// Report handles POST /api/content/:ct/:obj/report/.
func (s *Server) Report(c *fiber.Ctx) error {
	post, err := s.contentPost(c)
	if err != nil {
		return dbError(c, err)
	}
	var req models.Report
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	if !models.ValidReportReason(req.Reason) {
		return RespondWithError(c, fiber.StatusBadRequest, fieldError("reason", fmt.Sprintf("%q is not a valid choice.", req.Reason)))
	}
	report := Report{
		ReporterID:    currentUserID(c),
		ContentTypeID: post.ContentTypeID(),
		ObjectID:      post.ID,
		Reason:        req.Reason,
		Details:       req.Details,
	}
	if err := s.db.WithContext(c.UserContext()).Create(&report).Error; err != nil {
		return dbError(c, err)
	}
	return respondDetail(c, fiber.StatusCreated, "Report submitted.")
}

// pollOption resolves /polls/:poll/options/:option/ to the option and the
// post owning the poll.
func (s *Server) pollOption(c *fiber.Ctx) (*PollOption, *Post, error) {
	pollID, ok := paramID(c, "poll")
	if !ok {
		return nil, nil, models.NewNotFoundError("poll", c.Params("poll"))
	}
	optionID, ok := paramID(c, "option")
	if !ok {
		return nil, nil, models.NewNotFoundError("option", c.Params("option"))
	}
	db := s.db.WithContext(c.UserContext())
	var option PollOption
	if err := db.Where("id = ? AND poll_id = ?", optionID, pollID).First(&option).Error; err != nil {
		return nil, nil, err
	}
	var poll Poll
	if err := db.First(&poll, pollID).Error; err != nil {
		return nil, nil, err
	}
	post, err := s.loadPost(c, poll.PostID)
	if err != nil {
		return nil, nil, err
	}
	return &option, post, nil
}

// Vote handles POST /api/polls/:poll/options/:option/vote/. A second vote
// moves the viewer's existing one.
func (s *Server) Vote(c *fiber.Ctx) error {
	option, post, err := s.pollOption(c)
	if err != nil {
		return dbError(c, err)
	}
	vote := Vote{PollID: option.PollID, UserID: currentUserID(c), OptionID: option.ID}
	err = s.db.WithContext(c.UserContext()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "poll_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"option_id"}),
	}).Create(&vote).Error
	if err != nil {
		return dbError(c, err)
	}
	return s.respondPost(c, fiber.StatusOK, *post)
}

// RetractVote handles DELETE /api/polls/:poll/options/:option/vote/.
func (s *Server) RetractVote(c *fiber.Ctx) error {
	option, post, err := s.pollOption(c)
	if err != nil {
		return dbError(c, err)
	}
	res := s.db.WithContext(c.UserContext()).
		Where("poll_id = ? AND user_id = ? AND option_id = ?", option.PollID, currentUserID(c), option.ID).
		Delete(&Vote{})
	if res.Error != nil {
		return dbError(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return respondDetail(c, fiber.StatusBadRequest, "You have not voted for this option.")
	}
	return s.respondPost(c, fiber.StatusOK, *post)
}

// ServeMedia handles GET /media/:id. Media URLs are public.
func (s *Server) ServeMedia(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return notFound(c)
	}
	var upload Upload
	if err := s.db.WithContext(c.UserContext()).First(&upload, id).Error; err != nil {
		return dbError(c, err)
	}
	if upload.ContentType != "" {
		c.Set(fiber.HeaderContentType, upload.ContentType)
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	return c.Send(upload.Data)
}

func postTypeOf(p Post) string {
	if p.GroupID != nil {
		return models.PostTypeGroup
	}
	return models.PostTypeStatus
}

// excerpt shortens text for notification targets.
func excerpt(text string) string {
	const limit = 50
	r := []rune(strings.TrimSpace(text))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
