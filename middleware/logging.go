package middleware

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schoolreg/database"
	"schoolreg/models"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ActivityQueueKey is the sorted set of cached activity-log keys, scored by unix time.
const ActivityQueueKey = "logs:queue"

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = 0 // written later by the error handler
		}
		logrus.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}).Info("HTTP Request")

		return err
	}
}

// actor identifies who made the request.
func actor(c *fiber.Ctx) (uint, string) {
	claims, err := GetCurrentClaims(c)
	if err != nil {
		return 0, "system"
	}
	return claims.PrincipalID, claims.PrincipalType
}

// LogActivity records an activity log, cached in Redis first with a database fallback.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	actorID, actorType := actor(c)

	now := time.Now()
	activityLog := models.ActivityLog{
		BaseModel:  models.BaseModel{CreatedAt: now, UpdatedAt: now},
		ActorID:    actorID,
		ActorType:  actorType,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  c.IP(),
		UserAgent:  c.Get("User-Agent"),
	}

	requestDetails := map[string]interface{}{
		"original_details": details,
		"integrity_hash":   integrityHash(activityLog),
		"request_id":       c.Get("X-Request-ID", requestID(now)),
		"forwarded_for":    c.Get("X-Forwarded-For"),
		"method":           c.Method(),
		"path":             c.Path(),
		"status_code":      c.Response().StatusCode(),
	}
	if raw, err := json.Marshal(requestDetails); err == nil {
		activityLog.Details = raw
	}

	go func(al models.ActivityLog) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LogActivity goroutine")
			}
		}()

		if err := cacheActivityLog(context.Background(), database.GetRedisClient(), al); err != nil {
			logrus.WithError(err).Debug("Activity log not cached, saving directly to database")
			if database.DB == nil {
				logrus.Error("database.DB is nil; cannot save activity log")
				return
			}
			if dbErr := database.DB.Create(&al).Error; dbErr != nil {
				logrus.WithError(dbErr).Error("Failed to save activity log to database")
			}
		}
	}(activityLog)
}

// integrityHash creates a hash for tamper detection
func integrityHash(log models.ActivityLog) string {
	data := fmt.Sprintf("%s:%d:%s:%s:%d:%s:%s",
		log.ActorType,
		log.ActorID,
		log.Action,
		log.Resource,
		log.ResourceID,
		log.IPAddress,
		log.CreatedAt.Format(time.RFC3339),
	)
	return fmt.Sprintf("%x", md5.Sum([]byte(data)))
}

func requestID(now time.Time) string {
	return fmt.Sprintf("req_%d", now.UnixNano())
}

// cacheActivityLog stores an activity log in Redis with a 24-hour TTL and queues its key.
func cacheActivityLog(ctx context.Context, rdb *redis.Client, log models.ActivityLog) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	logData, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %v", err)
	}

	cacheKey := fmt.Sprintf("log:%s:%d:%s:%d", log.ActorType, log.ActorID, log.Action, time.Now().UnixNano())
	if err := rdb.Set(ctx, cacheKey, logData, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to cache log: %v", err)
	}

	if err := rdb.ZAdd(ctx, ActivityQueueKey, &redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: cacheKey,
	}).Err(); err != nil {
		logrus.WithError(err).Error("Failed to add log to processing queue")
	}
	return nil
}

// ActivityAction maps an HTTP method to a logged action; ok is false for reads.
func ActivityAction(method string) (string, bool) {
	switch method {
	case fiber.MethodPost:
		return "CREATE", true
	case fiber.MethodPut, fiber.MethodPatch:
		return "UPDATE", true
	case fiber.MethodDelete:
		return "DELETE", true
	}
	return "", false
}

// ActivityResource picks the resource name out of /api/<resource>/... or /api/admin/<resource>/...
func ActivityResource(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[1] == "admin" {
		return parts[2]
	}
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// LogActivityMiddleware automatically logs mutating requests
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.Contains(c.Path(), "/login") {
			return c.Next()
		}

		err := c.Next()

		action, ok := ActivityAction(c.Method())
		if !ok || err != nil || c.Response().StatusCode() >= 400 {
			return err
		}

		var resourceID uint
		if id, parseErr := strconv.ParseUint(c.Params("id"), 10, 64); parseErr == nil {
			resourceID = uint(id)
		}
		LogActivity(c, action, ActivityResource(c.Path()), resourceID, nil)
		return err
	}
}
