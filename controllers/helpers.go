package controllers

import (
	"schoolreg/apperrors"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
)

// paramID reads a positive numeric route parameter.
func paramID(c *fiber.Ctx, name, label string) (uint, error) {
	id, ok := utils.ParseID(c.Params(name))
	if !ok {
		return 0, apperrors.Validation("Invalid %s ID", label)
	}
	return id, nil
}

// listResponse is the paginated list shape shared by the admin endpoints.
func listResponse(c *fiber.Ctx, key string, items interface{}, total int64, page, limit int) error {
	return c.JSON(fiber.Map{
		"success": true,
		key:       items,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// sendPDF writes a rendered document as an attachment.
func sendPDF(c *fiber.Ctx, fileName string, body []byte) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+fileName+`"`)
	return c.Send(body)
}
