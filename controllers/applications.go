package controllers

import (
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/reconciliation"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
)

type ApplicationController struct {
	engine *reconciliation.Engine
}

func NewApplicationController(engine *reconciliation.Engine) *ApplicationController {
	return &ApplicationController{engine: engine}
}

type SubmitApplicationRequest struct {
	FirstName string `json:"first_name" validate:"required,notblank,max=100"`
	LastName  string `json:"last_name" validate:"required,notblank,max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Phone     string `json:"phone" validate:"required,max=30"`
	CourseID  uint   `json:"course_id" validate:"required"`
}

// ListOpenCourses returns the courses accepting applications (PUBLIC endpoint)
func (ac *ApplicationController) ListOpenCourses(c *fiber.Ctx) error {
	var courses []models.Course
	if err := database.DB.Where("active = ?", true).Order("name ASC").Find(&courses).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"courses": courses,
		"total":   len(courses),
	})
}

// Submit issues an application number and holds the application until its fee is paid.
func (ac *ApplicationController) Submit(c *fiber.Ctx) error {
	var req SubmitApplicationRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	app, course, err := ac.engine.SubmitApplication(c.UserContext(), reconciliation.ApplicationInput{
		FirstName: utils.SanitizeString(req.FirstName),
		LastName:  utils.SanitizeString(req.LastName),
		Email:     req.Email,
		Phone:     req.Phone,
		CourseID:  req.CourseID,
	})
	if err != nil {
		return err
	}

	middleware.LogActivity(c, "CREATE", "applications", app.ID, fiber.Map{"application_number": app.ApplicationNumber})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":           true,
		"message":           "Application received. Pay the application fee to continue.",
		"applicationNumber": app.ApplicationNumber,
		"amountDue":         course.ApplicationFee,
		"course":            course.Name,
		"expiresAt":         app.ExpiresAt,
	})
}
