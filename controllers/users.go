package controllers

import (
	"errors"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// UserController manages staff login accounts.
type UserController struct{}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"required,staff_role"`
	StaffID  *uint  `json:"staff_id"`
}

type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Role     *string `json:"role" validate:"omitempty,staff_role"`
	Status   *string `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// only an Admin may hand out the Admin role
func checkRoleGrant(c *fiber.Ctx, role string) error {
	if role != models.RoleAdmin {
		return nil
	}
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return err
	}
	if claims.Role != models.RoleAdmin {
		return apperrors.Forbidden("Only an Admin can grant the Admin role")
	}
	return nil
}

// GetUsers returns staff accounts with pagination
func (uc *UserController) GetUsers(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit"))

	query := database.DB.Model(&models.User{})
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count users")
	}
	var users []models.User
	if err := query.Preload("Staff").Order("username ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return apperrors.Database(err, "failed to fetch users")
	}
	return listResponse(c, "users", users, total, page, limit)
}

// GetUser returns a specific staff account by ID
func (uc *UserController) GetUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "user")
	if err != nil {
		return err
	}
	var user models.User
	if err := database.DB.Preload("Staff").First(&user, id).Error; err != nil {
		return apperrors.NotFound("User not found")
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

// CreateUser creates a staff login account, optionally linked to a staff profile.
func (uc *UserController) CreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := checkRoleGrant(c, req.Role); err != nil {
		return err
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return err
	}
	user := models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		Role:         req.Role,
		Status:       "active",
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if req.StaffID == nil {
			return nil
		}
		res := tx.Model(&models.Staff{}).Where("id = ? AND user_id IS NULL", *req.StaffID).Update("user_id", user.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.Conflict("Staff profile not found or already linked to an account")
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Conflict("Username or email already exists")
	}
	if err != nil {
		var ae *apperrors.AppError
		if errors.As(err, &ae) {
			return ae
		}
		return apperrors.Database(err, "failed to create user")
	}

	database.DB.Preload("Staff").First(&user, user.ID)
	middleware.LogActivity(c, "CREATE", "users", user.ID, fiber.Map{"username": user.Username, "role": user.Role})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "User created successfully",
		"user":    user,
	})
}

// UpdateUser changes role, status, email or password of a staff account.
func (uc *UserController) UpdateUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "user")
	if err != nil {
		return err
	}
	var req UpdateUserRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var user models.User
	if err := database.DB.First(&user, id).Error; err != nil {
		return apperrors.NotFound("User not found")
	}
	if user.Role == models.RoleAdmin {
		if err := checkRoleGrant(c, models.RoleAdmin); err != nil {
			return err
		}
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Role != nil {
		if err := checkRoleGrant(c, *req.Role); err != nil {
			return err
		}
		updates["role"] = *req.Role
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Password != nil {
		hash, err := utils.HashPassword(*req.Password)
		if err != nil {
			return err
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		return apperrors.Validation("No changes supplied")
	}

	if err := database.DB.Model(&user).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("Email already exists")
		}
		return apperrors.Database(err, "failed to update user")
	}
	database.DB.Preload("Staff").First(&user, user.ID)

	delete(updates, "password_hash")
	middleware.LogActivity(c, "UPDATE", "users", user.ID, updates)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "User updated successfully",
		"user":    user,
	})
}

// DeleteUser removes a staff account. The staff profile is kept and unlinked.
func (uc *UserController) DeleteUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "user")
	if err != nil {
		return err
	}
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return err
	}
	if claims.PrincipalID == id {
		return apperrors.Validation("You cannot delete your own account")
	}

	var user models.User
	if err := database.DB.First(&user, id).Error; err != nil {
		return apperrors.NotFound("User not found")
	}
	if user.Role == models.RoleAdmin {
		if err := checkRoleGrant(c, models.RoleAdmin); err != nil {
			return err
		}
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Staff{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, id).Error
	})
	if err != nil {
		return apperrors.Database(err, "failed to delete user")
	}

	middleware.LogActivity(c, "DELETE", "users", id, fiber.Map{"username": user.Username})
	return c.JSON(fiber.Map{"success": true, "message": "User deleted successfully"})
}
