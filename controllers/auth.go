package controllers

import (
	"fmt"
	"time"

	"schoolreg/apperrors"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type AuthController struct{}

// LoginRequest represents the staff login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

// StaffLogin authenticates a staff account and sets the session cookie.
func (ac *AuthController) StaffLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}

	var user models.User
	if err := database.DB.Preload("Staff").Where("username = ? AND status = ?", req.Username, "active").First(&user).Error; err != nil {
		return apperrors.Unauthorized("Invalid credentials")
	}
	if err := utils.CheckPassword(req.Password, user.PasswordHash); err != nil {
		return apperrors.Unauthorized("Invalid credentials")
	}

	token, expiresAt, err := middleware.GenerateStaffToken(&user)
	if err != nil {
		return fmt.Errorf("failed to generate token: %v", err)
	}
	middleware.SetSessionCookie(c, token, expiresAt)

	now := time.Now()
	database.DB.Model(&user).Update("last_login_at", now)

	// no session yet, so the actor is recorded through the details
	middleware.LogActivity(c, "LOGIN", "auth", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Login successful",
		"token":     token,
		"expiresAt": expiresAt,
		"user":      user,
	})
}

// Logout blacklists the current session token until it expires and clears the cookie.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return err
	}
	if err := middleware.BlacklistToken(c.UserContext(), claims); err != nil {
		// the cookie is still cleared; the token just stays valid until expiry
		logrus.WithError(err).WithField("principal_id", claims.PrincipalID).Warn("Failed to blacklist session token")
	}
	middleware.ClearSessionCookie(c)
	middleware.LogActivity(c, "LOGOUT", "auth", claims.PrincipalID, fiber.Map{"username": claims.Username})

	return c.JSON(fiber.Map{"success": true, "message": "Logged out successfully"})
}

// Profile returns the logged-in staff account.
func (ac *AuthController) Profile(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// ChangePassword lets a staff member rotate their own password.
func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	var req ChangePasswordRequest
	if err := utils.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := utils.CheckPassword(req.CurrentPassword, user.PasswordHash); err != nil {
		return apperrors.Validation("Current password is incorrect")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := database.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("password_hash", hash).Error; err != nil {
		return apperrors.Database(err, "failed to update password")
	}

	middleware.LogActivity(c, "UPDATE", "password", user.ID, nil)
	return c.JSON(fiber.Map{"success": true, "message": "Password changed successfully"})
}
