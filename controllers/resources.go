package controllers

import (
	"fmt"
	"strings"

	"schoolreg/apperrors"
	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/storage"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ResourceController publishes learning material. Documents may carry an uploaded file.
type ResourceController struct {
	storage storage.ObjectStore
}

func NewResourceController(store storage.ObjectStore) *ResourceController {
	return &ResourceController{storage: store}
}

type ResourceRequest struct {
	Title        string `json:"title" form:"title" validate:"required,notblank,max=255"`
	Description  string `json:"description" form:"description"`
	CourseID     *uint  `json:"course_id" form:"course_id"`
	ResourceType string `json:"resource_type" form:"resource_type" validate:"omitempty,oneof=document link video"`
	URL          string `json:"url" form:"url" validate:"omitempty,url,max=500"`
}

// uploadResourceFile stores the optional "file" part. An empty URL means no file was sent.
func (rc *ResourceController) uploadResourceFile(c *fiber.Ctx, ownerID uint) (string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil
	}
	if fh.Size > config.AppConfig.MaxFileSize {
		return "", apperrors.Validation("File is larger than the upload limit")
	}
	if !utils.IsValidFileExtension(fh.Filename, strings.Split(config.AppConfig.AllowedExtensions, ",")) {
		return "", apperrors.Validation("File type is not accepted")
	}
	if rc.storage == nil {
		return "", fmt.Errorf("file storage is not configured")
	}
	url, err := rc.storage.UploadFile(c.UserContext(), fh, "resources", ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to upload resource file: %v", err)
	}
	return url, nil
}

func checkCourse(courseID *uint) error {
	if courseID == nil {
		return nil
	}
	var n int64
	database.DB.Model(&models.Course{}).Where("id = ?", *courseID).Count(&n)
	if n == 0 {
		return apperrors.Validation("Course %d does not exist", *courseID)
	}
	return nil
}

// GetResources lists resources, optionally for one course
func (rc *ResourceController) GetResources(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	query := database.DB.Model(&models.Resource{})
	if courseID := c.Query("course_id"); courseID != "" {
		id, ok := utils.ParseID(courseID)
		if !ok {
			return apperrors.Validation("Invalid course ID")
		}
		query = query.Where("course_id = ?", id)
	}
	if t := c.Query("resource_type"); t != "" {
		query = query.Where("resource_type = ?", t)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count resources")
	}
	var resources []models.Resource
	if err := query.Preload("Course").Order("created_at DESC").Offset(offset).Limit(limit).Find(&resources).Error; err != nil {
		return apperrors.Database(err, "failed to fetch resources")
	}
	return listResponse(c, "resources", resources, total, page, limit)
}

// GetResource returns one resource
func (rc *ResourceController) GetResource(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "resource")
	if err != nil {
		return err
	}
	var resource models.Resource
	if err := database.DB.Preload("Course").First(&resource, id).Error; err != nil {
		return apperrors.NotFound("Resource not found")
	}
	return c.JSON(fiber.Map{"success": true, "resource": resource})
}

// CreateResource accepts JSON or multipart with an optional "file".
func (rc *ResourceController) CreateResource(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	var req ResourceRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := checkCourse(req.CourseID); err != nil {
		return err
	}

	resource := models.Resource{
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		CourseID:        req.CourseID,
		ResourceType:    req.ResourceType,
		URL:             req.URL,
		CreatedByUserID: user.ID,
	}
	if resource.ResourceType == "" {
		resource.ResourceType = "document"
	}

	fileURL, err := rc.uploadResourceFile(c, user.ID)
	if err != nil {
		return err
	}
	if fileURL != "" {
		resource.URL = fileURL
	}
	if resource.URL == "" {
		return apperrors.Validation("A url or a file is required")
	}

	if err := database.DB.Create(&resource).Error; err != nil {
		return apperrors.Database(err, "failed to create resource")
	}

	middleware.LogActivity(c, "CREATE", "resources", resource.ID, fiber.Map{"title": resource.Title})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"message":  "Resource created successfully",
		"resource": resource,
	})
}

// UpdateResource edits a resource. A new file replaces the stored one.
func (rc *ResourceController) UpdateResource(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "resource")
	if err != nil {
		return err
	}
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	var req ResourceRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := checkCourse(req.CourseID); err != nil {
		return err
	}

	var resource models.Resource
	if err := database.DB.First(&resource, id).Error; err != nil {
		return apperrors.NotFound("Resource not found")
	}
	oldURL := resource.URL

	updates := map[string]interface{}{
		"title":       strings.TrimSpace(req.Title),
		"description": req.Description,
		"course_id":   req.CourseID,
	}
	if req.ResourceType != "" {
		updates["resource_type"] = req.ResourceType
	}
	if req.URL != "" {
		updates["url"] = req.URL
	}
	fileURL, err := rc.uploadResourceFile(c, user.ID)
	if err != nil {
		return err
	}
	if fileURL != "" {
		updates["url"] = fileURL
	}

	if err := database.DB.Model(&resource).Updates(updates).Error; err != nil {
		return apperrors.Database(err, "failed to update resource")
	}
	if newURL, ok := updates["url"]; ok && newURL != oldURL {
		rc.removeStoredFile(c, oldURL)
	}
	database.DB.Preload("Course").First(&resource, resource.ID)

	middleware.LogActivity(c, "UPDATE", "resources", resource.ID, updates)
	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "Resource updated successfully",
		"resource": resource,
	})
}

// DeleteResource removes a resource and its stored file.
func (rc *ResourceController) DeleteResource(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "resource")
	if err != nil {
		return err
	}
	var resource models.Resource
	if err := database.DB.First(&resource, id).Error; err != nil {
		return apperrors.NotFound("Resource not found")
	}
	if err := database.DB.Delete(&resource).Error; err != nil {
		return apperrors.Database(err, "failed to delete resource")
	}
	rc.removeStoredFile(c, resource.URL)

	middleware.LogActivity(c, "DELETE", "resources", id, fiber.Map{"title": resource.Title})
	return c.JSON(fiber.Map{"success": true, "message": "Resource deleted successfully"})
}

// StudentResources lists material for the student's course plus general resources.
func (rc *ResourceController) StudentResources(c *fiber.Ctx) error {
	student, err := middleware.GetCurrentStudent(c)
	if err != nil {
		return err
	}
	var resources []models.Resource
	if err := database.DB.Where("course_id = ? OR course_id IS NULL", student.CourseID).
		Order("created_at DESC").Find(&resources).Error; err != nil {
		return apperrors.Database(err, "failed to fetch resources")
	}
	return c.JSON(fiber.Map{"success": true, "resources": resources})
}

// removeStoredFile deletes an object we uploaded. External links are left alone.
func (rc *ResourceController) removeStoredFile(c *fiber.Ctx, url string) {
	if rc.storage == nil || storage.KeyFromURL(url) == "" {
		return
	}
	if err := rc.storage.DeleteFile(c.UserContext(), url); err != nil {
		logrus.WithError(err).WithField("url", url).Warn("Failed to delete resource file")
	}
}
