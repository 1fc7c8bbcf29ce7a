package controllers

import (
	"strconv"
	"time"

	"schoolreg/apperrors"
	"schoolreg/config"
	"schoolreg/database"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/services/activitylog"
	"schoolreg/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LogController reads the activity log and manages its archives.
type LogController struct {
	logs *activitylog.Service
}

func NewLogController(logs *activitylog.Service) *LogController {
	return &LogController{logs: logs}
}

type LogsStatsResponse struct {
	Total             int64                     `json:"total"`
	TotalToday        int64                     `json:"total_today"`
	TotalThisWeek     int64                     `json:"total_this_week"`
	TotalThisMonth    int64                     `json:"total_this_month"`
	ActionBreakdown   map[string]int64          `json:"action_breakdown"`
	ResourceBreakdown map[string]int64          `json:"resource_breakdown"`
	ActorBreakdown    map[string]int64          `json:"actor_breakdown"`
	RecentActivity    []activitylog.ArchivedLog `json:"recent_activity"`
}

func logFilters(c *fiber.Ctx) func(*gorm.DB) *gorm.DB {
	return func(query *gorm.DB) *gorm.DB {
		if actorType := c.Query("actor_type"); actorType != "" {
			query = query.Where("actor_type = ?", actorType)
		}
		if actorID := c.Query("actor_id"); actorID != "" {
			query = query.Where("actor_id = ?", actorID)
		}
		if action := c.Query("action"); action != "" {
			query = query.Where("action = ?", action)
		}
		if resource := c.Query("resource"); resource != "" {
			query = query.Where("resource = ?", resource)
		}
		if ipAddress := c.Query("ip_address"); ipAddress != "" {
			query = query.Where("ip_address = ?", ipAddress)
		}
		if startDate := c.Query("start_date"); startDate != "" {
			if parsed, err := time.Parse("2006-01-02", startDate); err == nil {
				query = query.Where("created_at >= ?", parsed)
			}
		}
		if endDate := c.Query("end_date"); endDate != "" {
			if parsed, err := time.Parse("2006-01-02", endDate); err == nil {
				query = query.Where("created_at < ?", parsed.Add(24*time.Hour))
			}
		}
		return query
	}
}

func decodeLogs(rows []models.ActivityLog) []activitylog.ArchivedLog {
	out := make([]activitylog.ArchivedLog, len(rows))
	for i, row := range rows {
		out[i] = activitylog.ToArchived(row)
	}
	return out
}

// GetLogs retrieves paginated activity logs with filters
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c.Query("page"), c.Query("limit", "50"))

	var total int64
	if err := database.DB.Model(&models.ActivityLog{}).Scopes(logFilters(c)).Count(&total).Error; err != nil {
		return apperrors.Database(err, "failed to count logs")
	}
	var rows []models.ActivityLog
	if err := database.DB.Scopes(logFilters(c)).Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return apperrors.Database(err, "failed to retrieve logs")
	}
	return listResponse(c, "logs", decodeLogs(rows), total, page, limit)
}

// GetLogStats summarizes recent activity
func (lc *LogController) GetLogStats(c *fiber.Ctx) error {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	thisWeek := today.AddDate(0, 0, -int(today.Weekday()))
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	stats := LogsStatsResponse{
		ActionBreakdown:   make(map[string]int64),
		ResourceBreakdown: make(map[string]int64),
		ActorBreakdown:    make(map[string]int64),
	}

	base := func() *gorm.DB { return database.DB.Model(&models.ActivityLog{}) }
	if err := base().Count(&stats.Total).Error; err != nil {
		return apperrors.Database(err, "failed to count logs")
	}
	base().Where("created_at >= ?", today).Count(&stats.TotalToday)
	base().Where("created_at >= ?", thisWeek).Count(&stats.TotalThisWeek)
	base().Where("created_at >= ?", thisMonth).Count(&stats.TotalThisMonth)

	type bucket struct {
		Key   string
		Count int64
	}
	breakdown := func(column string, into map[string]int64) {
		var buckets []bucket
		base().Select(column+" AS `key`, COUNT(*) AS count").
			Where("created_at >= ?", thisMonth).
			Group(column).Scan(&buckets)
		for _, b := range buckets {
			into[b.Key] = b.Count
		}
	}
	breakdown("action", stats.ActionBreakdown)
	breakdown("resource", stats.ResourceBreakdown)
	breakdown("actor_type", stats.ActorBreakdown)

	var recent []models.ActivityLog
	database.DB.Order("created_at DESC").Limit(10).Find(&recent)
	stats.RecentActivity = decodeLogs(recent)

	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

// GetLog retrieves a single log entry by ID
func (lc *LogController) GetLog(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "log")
	if err != nil {
		return err
	}
	var row models.ActivityLog
	if err := database.DB.First(&row, id).Error; err != nil {
		return apperrors.NotFound("Log not found")
	}
	return c.JSON(fiber.Map{"success": true, "log": activitylog.ToArchived(row)})
}

// ListArchives returns the uploaded log archives.
func (lc *LogController) ListArchives(c *fiber.Ctx) error {
	archives, err := lc.logs.ListArchives(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "archives": archives})
}

// DownloadArchive streams one zip archive from object storage.
func (lc *LogController) DownloadArchive(c *fiber.Ctx) error {
	id, err := paramID(c, "id", "archive")
	if err != nil {
		return err
	}
	body, fileName, err := lc.logs.OpenArchive(c.UserContext(), id)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+fileName+`"`)
	return c.SendStream(body)
}

// ArchiveNow archives logs older than ?days= (default LOG_RETENTION_DAYS) on demand.
func (lc *LogController) ArchiveNow(c *fiber.Ctx) error {
	days := config.AppConfig.LogRetentionDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.Validation("days must be a number")
		}
		days = n
	}
	if _, err := lc.logs.FlushCachedLogs(c.UserContext(), 0); err != nil {
		return err
	}
	archive, err := lc.logs.ArchiveOldLogs(c.UserContext(), days)
	if err != nil {
		return err
	}
	if archive == nil {
		return c.JSON(fiber.Map{"success": true, "message": "No logs to archive"})
	}

	middleware.LogActivity(c, "ARCHIVE", "logs", archive.ID, fiber.Map{"days": days, "records": archive.RecordCount})
	return c.JSON(fiber.Map{"success": true, "archive": archive})
}
