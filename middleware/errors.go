package middleware

import (
	"errors"

	"schoolreg/apperrors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ErrorHandler renders every error returned by a handler as
// {"success":false,"error":msg,"code":status}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := apperrors.HTTPStatus(err)
	message := apperrors.PublicMessage(err)

	fields := logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}
	if code >= fiber.StatusInternalServerError {
		logrus.WithFields(fields).Error("Request error")
	} else {
		logrus.WithFields(fields).Warn("Request rejected")
	}

	body := fiber.Map{
		"success": false,
		"error":   message,
		"code":    code,
	}
	var ae *apperrors.AppError
	if errors.As(err, &ae) && len(ae.Fields) > 0 {
		body["fields"] = ae.Fields
	}
	return c.Status(code).JSON(body)
}
