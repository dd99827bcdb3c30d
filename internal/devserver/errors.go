package devserver

import (
	"errors"

	"loopline/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ErrorResponse is the body of a failed request that carries no field errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Messages the client shows verbatim.
const (
	msgPermissionDenied = "You do not have permission to perform this action."
	msgNotFound         = "Not found."
	msgAuthRequired     = "Authentication credentials were not provided."
	msgInvalidToken     = "Invalid token."
)

// RespondWithError writes err with status. Validation errors with field
// messages are written as a {field: [messages]} map; everything else as an
// ErrorResponse.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		if len(appErr.Fields) > 0 {
			return c.Status(status).JSON(appErr.Fields)
		}
		resp := ErrorResponse{Error: appErr.Message, Code: appErr.Code}
		if appErr.Err != nil && status < fiber.StatusInternalServerError {
			resp.Details = appErr.Err.Error()
		}
		return c.Status(status).JSON(resp)
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

// respondDetail writes the {detail} shape used for informational and
// permission responses.
func respondDetail(c *fiber.Ctx, status int, detail string) error {
	return c.Status(status).JSON(fiber.Map{"detail": detail})
}

func fieldError(field, msg string) *models.AppError {
	return models.NewValidationError(msg, map[string][]string{field: {msg}})
}

func forbidden(c *fiber.Ctx) error {
	return RespondWithError(c, fiber.StatusForbidden, models.NewForbiddenError(msgPermissionDenied))
}

func notFound(c *fiber.Ctx) error {
	e := models.NewNotFoundError("resource", "")
	e.Message = msgNotFound
	return RespondWithError(c, fiber.StatusNotFound, e)
}

// dbError maps a repository error to a response.
func dbError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || models.IsNotFound(err) {
		return notFound(c)
	}
	return RespondWithError(c, fiber.StatusInternalServerError, models.NewTransientError(fiber.StatusInternalServerError, err))
}
