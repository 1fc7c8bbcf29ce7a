package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StaffController manages staff HR profiles.
type StaffController struct{}

type StaffRequest struct {
	StaffNumber string `json:"staff_number" validate:"omitempty,max=50"`
	FirstName   string `json:"first_name" validate:"required,notblank,max=100"`
	LastName    string `json:"last_name" validate:"required,notblank,max=100"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,max=30"`
	Position    string `json:"position" validate:"omitempty,max=100"`
	Department  string `json:"department" validate:"omitempty,max=100"`
	Active      *bool  `json:"active"`
}

// GetStaff lists staff profiles
func (sc *StaffController) GetStaff(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	query := database.DB.Model(&models.Staff{})
	if dept := c.Query("department"); dept != "" {
		query = query.Where("department = ?", dept)
	}
	if active := c.Query("active"); active != "" {
		query = query.Where("active = ?", active == "true")
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + search + "%"
		query = query.Where("first_name LIKE ? OR last_name LIKE ? OR staff_number LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count staff")
	}
	var staff []models.Staff
	if err := query.Order("last_name ASC, first_name ASC").Offset(offset).Limit(limit).Find(&staff).Error; err != nil {
		return apperrors.Database(err, "failed to fetch staff")
	}
	return listResponse(c, "staff", staff, total, page, limit)
}

// GetStaffMember returns one staff profile
func (sc *StaffController) GetStaffMember(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "staff")
	if err != nil {
		return err
	}
	var staff models.Staff
	if err := database.DB.First(&staff, id).Error; err != nil {
		return apperrors.NotFound("Staff member not found")
	}
	return c.JSON(fiber.Map{"success": true, "staff": staff})
}

// CreateStaff adds a staff profile. A staff number is generated when none is supplied.
func (sc *StaffController) CreateStaff(c *fiber.Ctx) error {
	var req StaffRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	staff := models.Staff{
		StaffNumber: strings.ToUpper(strings.TrimSpace(req.StaffNumber)),
		FirstName:   utils.SanitizeString(req.FirstName),
		LastName:    utils.SanitizeString(req.LastName),
		Email:       strings.ToLower(req.Email),
		Phone:       req.Phone,
		Position:    req.Position,
		Department:  req.Department,
		Active:      req.Active == nil || *req.Active,
	}
	if staff.StaffNumber == "" {
		suffix, err := utils.GenerateRandomString(6)
		if err != nil {
			return err
		}
		staff.StaffNumber = fmt.Sprintf("STF/%d/%s", time.Now().Year(), strings.ToUpper(suffix))
	}

	if err := database.DB.Create(&staff).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Staff number %s already exists", staff.StaffNumber)
		}
		return apperrors.Database(err, "failed to create staff")
	}

	middleware.LogActivity(c, "CREATE", "staff", staff.ID, fiber.Map{"staff_number": staff.StaffNumber})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Staff member created successfully",
		"staff":   staff,
	})
}

// UpdateStaff replaces the editable fields of a staff profile. The staff number is fixed.
func (sc *StaffController) UpdateStaff(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "staff")
	if err != nil {
		return err
	}
	var req StaffRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var staff models.Staff
	if err := database.DB.First(&staff, id).Error; err != nil {
		return apperrors.NotFound("Staff member not found")
	}
	if req.StaffNumber != "" && !strings.EqualFold(req.StaffNumber, staff.StaffNumber) {
		return apperrors.Validation("Staff number cannot be changed")
	}

	updates := map[string]interface{}{
		"first_name": utils.SanitizeString(req.FirstName),
		"last_name":  utils.SanitizeString(req.LastName),
		"email":      strings.ToLower(req.Email),
		"phone":      req.Phone,
		"position":   req.Position,
		"department": req.Department,
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if err := database.DB.Model(&staff).Updates(updates).Error; err != nil {
		return apperrors.Database(err, "failed to update staff")
	}
	database.DB.First(&staff, staff.ID)

	middleware.LogActivity(c, "UPDATE", "staff", staff.ID, updates)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Staff member updated successfully",
		"staff":   staff,
	})
}

// DeleteStaff removes a staff profile. Profiles linked to a login account must be unlinked first.
func (sc *StaffController) DeleteStaff(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "staff")
	if err != nil {
		return err
	}
	var staff models.Staff
	if err := database.DB.First(&staff, id).Error; err != nil {
		return apperrors.NotFound("Staff member not found")
	}
	if staff.UserID != nil {
		return apperrors.Conflict("Delete the linked login account first")
	}
	if err := database.DB.Delete(&staff).Error; err != nil {
		return apperrors.Database(err, "failed to delete staff")
	}

	middleware.LogActivity(c, "DELETE", "staff", id, fiber.Map{"staff_number": staff.StaffNumber})
	return c.JSON(fiber.Map{"success": true, "message": "Staff member deleted successfully"})
}
