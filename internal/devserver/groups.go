package devserver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"loopline/internal/featureflags"
	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases name and collapses everything but letters and digits
// into single dashes.
func slugify(name string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "group"
	}
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	return slug
}

// uniqueSlug appends -2, -3, ... until the slug is free.
func (s *Server) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	slug := base
	for i := 2; ; i++ {
		_, err := s.groups.GetBySlug(ctx, slug)
		if models.IsNotFound(err) {
			return slug, nil
		}
		if err != nil {
			return "", err
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Server) groupByParam(c *fiber.Ctx) (*Group, error) {
	return s.groups.GetBySlug(c.UserContext(), c.Params("slug"))
}

// canRead reports whether viewer may see the group's posts and members.
func (s *Server) canRead(ctx context.Context, g *Group, viewer uint) (bool, error) {
	if g.PrivacyLevel != string(models.PrivacyPrivate) {
		return true, nil
	}
	return s.groups.IsMember(ctx, g.ID, viewer)
}

func (s *Server) respondGroup(c *fiber.Ctx, status int, g Group) error {
	view, err := s.groupView(c.UserContext(), baseURL(c), currentUserID(c), g)
	if err != nil {
		return dbError(c, err)
	}
	return c.Status(status).JSON(view)
}

// ListGroups handles GET /api/groups/.
func (s *Server) ListGroups(c *fiber.Ctx) error {
	page, size := pageParams(c, defaultPageSize)
	groups, total, err := s.groups.List(c.UserContext(), size, (page-1)*size)
	if err != nil {
		return dbError(c, err)
	}
	views, err := s.groupViews(c.UserContext(), baseURL(c), currentUserID(c), groups)
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(numberedPage(c, views, total, page, size))
}

// CreateGroup handles POST /api/groups/. Private groups need the
// private_groups flag.
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	var req models.NewGroup
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	group, err := s.newGroup(c.UserContext(), currentUserID(c), req)
	if err != nil {
		if models.IsValidation(err) {
			return RespondWithError(c, fiber.StatusBadRequest, err)
		}
		return dbError(c, err)
	}
	return s.respondGroup(c, fiber.StatusCreated, *group)
}

// newGroup validates req and stores the group with creatorID as its first
// member.
func (s *Server) newGroup(ctx context.Context, creatorID uint, req models.NewGroup) (*Group, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fieldError("name", "This field may not be blank.")
	}
	switch req.PrivacyLevel {
	case "":
		req.PrivacyLevel = models.PrivacyPublic
	case models.PrivacyPublic:
	case models.PrivacyPrivate:
		if !s.flags.Enabled(featureflags.PrivateGroups, int64(creatorID)) {
			return nil, fieldError("privacy_level", "Private groups are not available.")
		}
	default:
		return nil, fieldError("privacy_level", fmt.Sprintf("%q is not a valid choice.", req.PrivacyLevel))
	}
	slug, err := s.uniqueSlug(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	group := &Group{
		Name:         req.Name,
		Slug:         slug,
		Description:  strings.TrimSpace(req.Description),
		CreatorID:    creatorID,
		PrivacyLevel: string(req.PrivacyLevel),
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup handles GET /api/groups/:slug/.
func (s *Server) GetGroup(c *fiber.Ctx) error {
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	return s.respondGroup(c, fiber.StatusOK, *group)
}

// DeleteGroup handles DELETE /api/groups/:slug/. Only the creator may delete.
func (s *Server) DeleteGroup(c *fiber.Ctx) error {
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	if group.CreatorID != currentUserID(c) {
		return forbidden(c)
	}
	if err := s.groups.Delete(c.UserContext(), group.ID); err != nil {
		return dbError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GroupPosts handles GET /api/groups/:slug/status-posts/.
func (s *Server) GroupPosts(c *fiber.Ctx) error {
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	ok, err := s.canRead(c.UserContext(), group, currentUserID(c))
	if err != nil {
		return dbError(c, err)
	}
	if !ok {
		return forbidden(c)
	}
	q := s.db.WithContext(c.UserContext()).Model(&Post{}).Where("group_id = ?", group.ID)
	return s.respondPostPage(c, q, defaultPageSize)
}

// CreateGroupPost handles POST /api/groups/:slug/status-posts/. Only members
// may post.
func (s *Server) CreateGroupPost(c *fiber.Ctx) error {
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	member, err := s.groups.IsMember(c.UserContext(), group.ID, viewer)
	if err != nil {
		return dbError(c, err)
	}
	if !member {
		return respondDetail(c, fiber.StatusForbidden, "You must be a member of this group to post.")
	}
	in, err := parsePostInput(c)
	if err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, err)
	}
	post, err := s.createPost(c.UserContext(), viewer, &group.ID, in)
	if err != nil {
		return dbError(c, err)
	}
	return s.respondPost(c, fiber.StatusCreated, post)
}

// GroupMembers handles GET /api/groups/:slug/members/.
func (s *Server) GroupMembers(c *fiber.Ctx) error {
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	ok, err := s.canRead(c.UserContext(), group, currentUserID(c))
	if err != nil {
		return dbError(c, err)
	}
	if !ok {
		return forbidden(c)
	}
	page, size := pageParams(c, maxPageSize)
	ids, total, err := s.groups.Members(c.UserContext(), group.ID, size, (page-1)*size)
	if err != nil {
		return dbError(c, err)
	}
	users, err := s.users.ListByIDs(c.UserContext(), ids)
	if err != nil {
		return dbError(c, err)
	}
	views := make([]models.Author, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			views = append(views, authorView(baseURL(c), u))
		}
	}
	return c.JSON(numberedPage(c, views, total, page, size))
}

// JoinGroup handles POST /api/groups/:slug/membership/. Public groups are
// joined at once; private groups get a join request the creator reviews.
func (s *Server) JoinGroup(c *fiber.Ctx) error {
	ctx := c.UserContext()
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	member, err := s.groups.IsMember(ctx, group.ID, viewer)
	if err != nil {
		return dbError(c, err)
	}
	if member {
		return respondDetail(c, fiber.StatusBadRequest, "You are already a member of this group.")
	}

	if group.PrivacyLevel != string(models.PrivacyPrivate) {
		if err := s.groups.AddMember(ctx, group.ID, viewer); err != nil {
			return dbError(c, err)
		}
		return c.JSON(models.JoinResult{Status: models.JoinStatusJoined, Detail: "You have joined " + group.Name + "."})
	}

	pending, err := s.groups.PendingRequest(ctx, group.ID, viewer)
	if err != nil {
		return dbError(c, err)
	}
	if pending != nil {
		return respondDetail(c, fiber.StatusBadRequest, "You have already requested to join this group.")
	}
	req := &JoinRequest{GroupID: group.ID, UserID: viewer}
	if err := s.groups.CreateRequest(ctx, req); err != nil {
		return dbError(c, err)
	}
	s.notify(ctx, baseURL(c), Notification{
		RecipientID:      group.CreatorID,
		ActorID:          viewer,
		Verb:             "requested to join",
		NotificationType: models.NotificationGroupJoinReq,
		TargetType:       "group",
		TargetID:         group.ID,
		TargetText:       group.Name,
	})
	return c.Status(fiber.StatusCreated).JSON(models.JoinResult{
		Status: models.JoinStatusRequestSent,
		Detail: "Your request to join " + group.Name + " has been sent.",
	})
}

// LeaveGroup handles DELETE /api/groups/:slug/membership/. The creator must
// transfer ownership before leaving.
func (s *Server) LeaveGroup(c *fiber.Ctx) error {
	group, err := s.groupByParam(c)
	if err != nil {
		return dbError(c, err)
	}
	viewer := currentUserID(c)
	if group.CreatorID == viewer {
		return respondDetail(c, fiber.StatusBadRequest, "The group creator cannot leave. Transfer ownership first.")
	}
	removed, err := s.groups.RemoveMember(c.UserContext(), group.ID, viewer)
	if err != nil {
		return dbError(c, err)
	}
	if !removed {
		return respondDetail(c, fiber.StatusBadRequest, "You are not a member of this group.")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// creatorGroup loads the group and refuses anyone but its creator.
func (s *Server) creatorGroup(c *fiber.Ctx) (*Group, bool, error) {
	group, err := s.groupByParam(c)
	if err != nil {
		return nil, false, err
	}
	return group, group.CreatorID == currentUserID(c), nil
}

// JoinRequests handles GET /api/groups/:slug/requests/.
func (s *Server) JoinRequests(c *fiber.Ctx) error {
	group, isCreator, err := s.creatorGroup(c)
	if err != nil {
		return dbError(c, err)
	}
	if !isCreator {
		return forbidden(c)
	}
	page, size := pageParams(c, defaultPageSize)
	reqs, total, err := s.groups.PendingRequests(c.UserContext(), group.ID, size, (page-1)*size)
	if err != nil {
		return dbError(c, err)
	}
	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.UserID)
	}
	users, err := s.users.ListByIDs(c.UserContext(), ids)
	if err != nil {
		return dbError(c, err)
	}
	views := make([]models.JoinRequest, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, models.JoinRequest{
			ID:        int64(r.ID),
			User:      authorView(baseURL(c), users[r.UserID]),
			CreatedAt: r.CreatedAt,
			Status:    r.Status,
		})
	}
	return c.JSON(numberedPage(c, views, total, page, size))
}

// ReviewJoinRequest handles PATCH /api/groups/:slug/requests/:id/ with
// {action: approve|deny}.
func (s *Server) ReviewJoinRequest(c *fiber.Ctx) error {
	ctx := c.UserContext()
	group, isCreator, err := s.creatorGroup(c)
	if err != nil {
		return dbError(c, err)
	}
	if !isCreator {
		return forbidden(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return notFound(c)
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := c.BodyParser(&body); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	req, err := s.groups.GetRequest(ctx, group.ID, id)
	if err != nil {
		return dbError(c, err)
	}
	if req.Status != RequestPending {
		return respondDetail(c, fiber.StatusBadRequest, "This request has already been reviewed.")
	}

	switch body.Action {
	case models.RequestActionApprove:
		if err := s.groups.ApproveRequest(ctx, req); err != nil {
			return dbError(c, err)
		}
		s.notify(ctx, baseURL(c), Notification{
			RecipientID:      req.UserID,
			ActorID:          currentUserID(c),
			Verb:             "approved your request to join",
			NotificationType: models.NotificationGroupJoinAccept,
			TargetType:       "group",
			TargetID:         group.ID,
			TargetText:       group.Name,
		})
		return respondDetail(c, fiber.StatusOK, "Request approved.")
	case models.RequestActionDeny:
		if err := s.groups.DenyRequest(ctx, req); err != nil {
			return dbError(c, err)
		}
		return respondDetail(c, fiber.StatusOK, "Request denied.")
	default:
		return RespondWithError(c, fiber.StatusBadRequest, fieldError("action", fmt.Sprintf("%q is not a valid choice.", body.Action)))
	}
}

// TransferOwnership handles POST /api/groups/:slug/transfer-ownership/. The
// new owner must already be a member.
func (s *Server) TransferOwnership(c *fiber.Ctx) error {
	ctx := c.UserContext()
	group, isCreator, err := s.creatorGroup(c)
	if err != nil {
		return dbError(c, err)
	}
	if !isCreator {
		return respondDetail(c, fiber.StatusForbidden, "Only the group creator can transfer ownership.")
	}
	var body struct {
		NewOwnerID int64 `json:"new_owner_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	newOwner := uint(body.NewOwnerID)
	if body.NewOwnerID <= 0 || newOwner == group.CreatorID {
		return RespondWithError(c, fiber.StatusBadRequest, fieldError("new_owner_id", "Choose another member."))
	}
	member, err := s.groups.IsMember(ctx, group.ID, newOwner)
	if err != nil {
		return dbError(c, err)
	}
	if !member {
		return RespondWithError(c, fiber.StatusBadRequest, fieldError("new_owner_id", "The new owner must be a member of the group."))
	}
	if err := s.groups.TransferOwnership(ctx, group.ID, newOwner); err != nil {
		return dbError(c, err)
	}
	return respondDetail(c, fiber.StatusOK, "Ownership transferred.")
}
