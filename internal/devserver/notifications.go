package devserver

import (
	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListNotifications handles GET /api/notifications/, newest first.
func (s *Server) ListNotifications(c *fiber.Ctx) error {
	page, size := pageParams(c, defaultPageSize)
	q := s.db.WithContext(c.UserContext()).Model(&Notification{}).Where("recipient_id = ?", currentUserID(c))
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return dbError(c, err)
	}
	var rows []Notification
	err := s.db.WithContext(c.UserContext()).
		Where("recipient_id = ?", currentUserID(c)).
		Order("id DESC").Limit(size).Offset((page - 1) * size).
		Find(&rows).Error
	if err != nil {
		return dbError(c, err)
	}
	views, err := s.notificationViews(c.UserContext(), baseURL(c), rows)
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(numberedPage(c, views, total, page, size))
}

// UnreadCount handles GET /api/notifications/unread-count/.
func (s *Server) UnreadCount(c *fiber.Ctx) error {
	var n int64
	err := s.db.WithContext(c.UserContext()).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", currentUserID(c), false).
		Count(&n).Error
	if err != nil {
		return dbError(c, err)
	}
	return c.JSON(models.UnreadCount{UnreadCount: int(n)})
}

// MarkRead handles POST /api/notifications/mark-as-read/. Ids that belong to
// someone else are ignored.
func (s *Server) MarkRead(c *fiber.Ctx) error {
	var req struct {
		NotificationIDs []int64 `json:"notification_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body", nil))
	}
	if len(req.NotificationIDs) == 0 {
		return RespondWithError(c, fiber.StatusBadRequest, fieldError("notification_ids", "This list may not be empty."))
	}
	err := s.db.WithContext(c.UserContext()).Model(&Notification{}).
		Where("recipient_id = ? AND id IN ?", currentUserID(c), req.NotificationIDs).
		Update("is_read", true).Error
	if err != nil {
		return dbError(c, err)
	}
	return respondDetail(c, fiber.StatusOK, "Notifications marked as read.")
}

// MarkAllRead handles POST /api/notifications/mark-all-as-read/.
func (s *Server) MarkAllRead(c *fiber.Ctx) error {
	err := s.db.WithContext(c.UserContext()).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", currentUserID(c), false).
		Update("is_read", true).Error
	if err != nil {
		return dbError(c, err)
	}
	return respondDetail(c, fiber.StatusOK, "All notifications marked as read.")
}
