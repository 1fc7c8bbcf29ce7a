package middleware

import (
	"context"
	"strings"
	"time"

	"schoolreg/apperrors"
	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Principal types carried in a session token.
const (
	PrincipalStaff   = "staff"
	PrincipalStudent = "student"
)

type Claims struct {
	PrincipalID   uint   `json:"pid"`
	PrincipalType string `json:"ptype"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed session token. The jti is what logout blacklists.
func GenerateToken(principalType string, id uint, username, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(config.AppConfig.JWTExpiresIn)
	claims := &Claims{
		PrincipalID:   id,
		PrincipalType: principalType,
		Username:      username,
		Role:          role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(config.AppConfig.JWTSecret))
	return signed, expiresAt, err
}

// GenerateStaffToken creates a session token for a staff login account.
func GenerateStaffToken(user *models.User) (string, time.Time, error) {
	return GenerateToken(PrincipalStaff, user.ID, user.Username, user.Role)
}

// GenerateStudentToken creates a session token for a student.
func GenerateStudentToken(student *models.Student) (string, time.Time, error) {
	username := student.Email
	if student.AdmissionNumber != nil {
		username = *student.AdmissionNumber
	}
	return GenerateToken(PrincipalStudent, student.ID, username, models.RoleStudent)
}

// ParseToken validates the signature and expiry of a session token.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, apperrors.Unauthorized("Invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.Unauthorized("Invalid token claims")
	}
	return claims, nil
}

// SetSessionCookie stores the token in an HttpOnly cookie.
func SetSessionCookie(c *fiber.Ctx, token string, expiresAt time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     config.AppConfig.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   config.AppConfig.AppEnv == "production",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     config.AppConfig.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
	})
}

// tokenFromRequest reads the session cookie, then the Authorization header, then ?token= (websocket clients).
func tokenFromRequest(c *fiber.Ctx) string {
	if token := c.Cookies(config.AppConfig.SessionCookieName); token != "" {
		return token
	}
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		if token := strings.TrimPrefix(authHeader, "Bearer "); token != authHeader {
			return token
		}
	}
	return c.Query("token")
}

func blacklistKey(jti string) string {
	return "jwt:blacklist:" + jti
}

// BlacklistToken revokes a token until it would have expired anyway.
func BlacklistToken(ctx context.Context, claims *Claims) error {
	rdb := database.GetRedisClient()
	if rdb == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return rdb.Set(ctx, blacklistKey(claims.ID), "1", ttl).Err()
}

func isBlacklisted(ctx context.Context, jti string) bool {
	rdb := database.GetRedisClient()
	if rdb == nil || jti == "" {
		return false
	}
	n, err := rdb.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		logrus.WithError(err).Warn("Token blacklist lookup failed")
		return false
	}
	return n > 0
}

// JWTMiddleware validates the session token and loads the principal.
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			return apperrors.Unauthorized("Authentication required")
		}

		claims, err := ParseToken(tokenString)
		if err != nil {
			return err
		}
		if isBlacklisted(c.UserContext(), claims.ID) {
			return apperrors.Unauthorized("Session has been logged out")
		}

		switch claims.PrincipalType {
		case PrincipalStaff:
			var user models.User
			if err := database.DB.Preload("Staff").Where("id = ? AND status = ?", claims.PrincipalID, "active").First(&user).Error; err != nil {
				return apperrors.Unauthorized("User not found or inactive")
			}
			c.Locals("user", &user)
		case PrincipalStudent:
			var student models.Student
			if err := database.DB.Preload("Course").First(&student, claims.PrincipalID).Error; err != nil {
				return apperrors.Unauthorized("Student not found")
			}
			if student.Status == models.StudentSuspended {
				return apperrors.Forbidden("Student account is suspended")
			}
			c.Locals("student", &student)
		default:
			return apperrors.Unauthorized("Invalid token claims")
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// RequireStaff lets only staff sessions through.
func RequireStaff() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := GetCurrentClaims(c)
		if err != nil {
			return err
		}
		if claims.PrincipalType != PrincipalStaff || !IsStaffRole(claims.Role) {
			return apperrors.Forbidden("Staff access required")
		}
		return c.Next()
	}
}

// RequireStudent lets only student sessions through.
func RequireStudent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := GetCurrentClaims(c)
		if err != nil {
			return err
		}
		if claims.PrincipalType != PrincipalStudent {
			return apperrors.Forbidden("Student session required")
		}
		return c.Next()
	}
}

// RequireCapability checks the staff role against the access policy.
func RequireCapability(action, resource string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := GetCurrentClaims(c)
		if err != nil {
			return err
		}
		if claims.PrincipalType != PrincipalStaff || !Can(claims.Role, action, resource) {
			return apperrors.Forbidden("Insufficient permissions")
		}
		return c.Next()
	}
}

// GetCurrentUser returns the current authenticated staff user
func GetCurrentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return nil, apperrors.Unauthorized("User not found in context")
	}
	return user, nil
}

// GetCurrentStudent returns the current authenticated student
func GetCurrentStudent(c *fiber.Ctx) (*models.Student, error) {
	student, ok := c.Locals("student").(*models.Student)
	if !ok {
		return nil, apperrors.Unauthorized("Student not found in context")
	}
	return student, nil
}

// GetCurrentClaims returns the current JWT claims
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok {
		return nil, apperrors.Unauthorized("Claims not found in context")
	}
	return claims, nil
}
