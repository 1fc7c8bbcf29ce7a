package controllers

import (
	"errors"
	"strings"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CourseController struct{}

type CourseRequest struct {
	Name              string  `json:"name" validate:"required,notblank,max=255"`
	Code              string  `json:"code" validate:"required,notblank,max=50"`
	Abbreviation      string  `json:"abbreviation" validate:"omitempty,max=20,alphanum"`
	CertificationType string  `json:"certification_type" validate:"omitempty,oneof=Certificate Diploma"`
	ApplicationFee    float64 `json:"application_fee" validate:"gte=0"`
	RegistrationFee   float64 `json:"registration_fee" validate:"gt=0"`
	Duration          string  `json:"duration" validate:"omitempty,max=100"`
	Schedule          string  `json:"schedule" validate:"omitempty,max=255"`
	Description       string  `json:"description"`
	Active            *bool   `json:"active"`
}

func (r CourseRequest) fields() map[string]interface{} {
	certification := r.CertificationType
	if certification == "" {
		certification = models.CertificationCertificate
	}
	fields := map[string]interface{}{
		"name":               strings.TrimSpace(r.Name),
		"code":               strings.ToUpper(strings.TrimSpace(r.Code)),
		"abbreviation":       strings.ToUpper(r.Abbreviation),
		"certification_type": certification,
		"application_fee":    r.ApplicationFee,
		"registration_fee":   r.RegistrationFee,
		"duration":           r.Duration,
		"schedule":           r.Schedule,
		"description":        r.Description,
	}
	if r.Active != nil {
		fields["active"] = *r.Active
	}
	return fields
}

// GetCourses lists courses
func (cc *CourseController) GetCourses(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	query := database.DB.Model(&models.Course{})
	if active := c.Query("active"); active != "" {
		query = query.Where("active = ?", active == "true")
	}
	if t := c.Query("certification_type"); t != "" {
		query = query.Where("certification_type = ?", t)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR code LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count courses")
	}
	var courses []models.Course
	if err := query.Order("name ASC").Offset(offset).Limit(limit).Find(&courses).Error; err != nil {
		return apperrors.Database(err, "failed to fetch courses")
	}
	return listResponse(c, "courses", courses, total, page, limit)
}

// GetCourse returns a course by ID
func (cc *CourseController) GetCourse(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "course")
	if err != nil {
		return err
	}
	var course models.Course
	if err := database.DB.First(&course, id).Error; err != nil {
		return apperrors.NotFound("Course not found")
	}
	return c.JSON(fiber.Map{"success": true, "course": course})
}

// CreateCourse adds a course
func (cc *CourseController) CreateCourse(c *fiber.Ctx) error {
	var req CourseRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	course := models.Course{
		Name:              strings.TrimSpace(req.Name),
		Code:              strings.ToUpper(strings.TrimSpace(req.Code)),
		Abbreviation:      strings.ToUpper(req.Abbreviation),
		CertificationType: req.CertificationType,
		ApplicationFee:    req.ApplicationFee,
		RegistrationFee:   req.RegistrationFee,
		Duration:          req.Duration,
		Schedule:          req.Schedule,
		Description:       req.Description,
		Active:            req.Active == nil || *req.Active,
	}
	if course.CertificationType == "" {
		course.CertificationType = models.CertificationCertificate
	}
	if err := database.DB.Create(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Course code %s already exists", course.Code)
		}
		return apperrors.Database(err, "failed to create course")
	}

	middleware.LogActivity(c, "CREATE", "courses", course.ID, fiber.Map{"code": course.Code})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Course created successfully",
		"course":  course,
	})
}

// UpdateCourse replaces a course's fields. Recorded payments keep their amounts.
func (cc *CourseController) UpdateCourse(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "course")
	if err != nil {
		return err
	}
	var req CourseRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var course models.Course
	if err := database.DB.First(&course, id).Error; err != nil {
		return apperrors.NotFound("Course not found")
	}
	fields := req.fields()
	if err := database.DB.Model(&course).Updates(fields).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Course code %s already exists", fields["code"])
		}
		return apperrors.Database(err, "failed to update course")
	}
	database.DB.First(&course, course.ID)

	middleware.LogActivity(c, "UPDATE", "courses", course.ID, fields)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Course updated successfully",
		"course":  course,
	})
}

// DeleteCourse removes a course that has no students enrolled.
func (cc *CourseController) DeleteCourse(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "course")
	if err != nil {
		return err
	}
	var course models.Course
	if err := database.DB.First(&course, id).Error; err != nil {
		return apperrors.NotFound("Course not found")
	}

	var enrolled int64
	database.DB.Model(&models.Student{}).Where("course_id = ?", id).Count(&enrolled)
	if enrolled > 0 {
		return apperrors.Conflict("Course has %d students; deactivate it instead", enrolled)
	}
	var pending int64
	database.DB.Model(&models.PendingApplication{}).Where("course_id = ?", id).Count(&pending)
	if pending > 0 {
		return apperrors.Conflict("Course has %d applications awaiting payment", pending)
	}

	if err := database.DB.Delete(&course).Error; err != nil {
		return apperrors.Database(err, "failed to delete course")
	}
	middleware.LogActivity(c, "DELETE", "courses", id, fiber.Map{"code": course.Code})
	return c.JSON(fiber.Map{"success": true, "message": "Course deleted successfully"})
}
