// Package activitylog moves cached activity logs into MySQL and archives old rows to S3.
package activitylog

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"schoolreg/apperrors"
	"schoolreg/middleware"
	"schoolreg/models"
	"schoolreg/storage"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MinArchiveAgeDays is the youngest age ArchiveOldLogs accepts.
const MinArchiveAgeDays = 7

// Service handles flushing cached logs and archiving old logs.
type Service struct {
	db    *gorm.DB
	redis *redis.Client
	store storage.ObjectStore
	now   func() time.Time
}

// ArchivedLog is the exported representation stored inside archives
type ArchivedLog struct {
	ID         uint           `json:"id"`
	ActorID    uint           `json:"actor_id"`
	ActorType  string         `json:"actor_type"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID uint           `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewService wires the flusher. store may be nil, in which case archiving is refused.
func NewService(db *gorm.DB, rdb *redis.Client, store storage.ObjectStore) *Service {
	return &Service{db: db, redis: rdb, store: store, now: time.Now}
}

// FlushCachedLogs moves every queued log older than minAge from Redis into the database.
func (s *Service) FlushCachedLogs(ctx context.Context, minAge time.Duration) (int, error) {
	if s.redis == nil {
		return 0, nil
	}

	cutoff := s.now().Add(-minAge)
	keys, err := s.redis.ZRangeByScore(ctx, middleware.ActivityQueueKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queued logs: %v", err)
	}

	var processed, failed int
	for _, key := range keys {
		raw, err := s.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			// expired before we got to it; drop the dangling queue entry
			s.redis.ZRem(ctx, middleware.ActivityQueueKey, key)
			continue
		}
		if err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to read cached log")
			failed++
			continue
		}

		var entry models.ActivityLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to decode cached log")
			failed++
			continue
		}
		entry.ID = 0
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to save cached log")
			failed++
			continue
		}

		pipe := s.redis.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, middleware.ActivityQueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Failed to remove flushed log from cache")
		}
		processed++
	}

	logrus.WithFields(logrus.Fields{"flushed": processed, "errors": failed}).Info("Activity log flush finished")
	return processed, nil
}

// ArchiveOldLogs zips logs older than daysOld, uploads them and deletes the archived rows.
func (s *Service) ArchiveOldLogs(ctx context.Context, daysOld int) (*models.LogArchive, error) {
	if daysOld < MinArchiveAgeDays {
		return nil, apperrors.Validation("minimum archive age is %d days", MinArchiveAgeDays)
	}
	if s.store == nil {
		return nil, fmt.Errorf("object storage is not configured")
	}

	cutoff := s.now().AddDate(0, 0, -daysOld)
	var rows []models.ActivityLog
	if err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, apperrors.Database(err, "failed to fetch logs for archiving")
	}
	if len(rows) == 0 {
		logrus.Info("No logs to archive")
		return nil, nil
	}

	logs := make([]ArchivedLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, ToArchived(r))
	}

	fileName := fmt.Sprintf("activity_logs_%s.zip", cutoff.Format("2006-01-02"))
	buf, err := BuildArchive(logs, fileName, s.now())
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("logs/archived/%d/%02d/%s", cutoff.Year(), cutoff.Month(), fileName)
	if err := s.store.PutObject(ctx, key, buf.Bytes(), "application/zip"); err != nil {
		return nil, fmt.Errorf("failed to upload archive: %v", err)
	}

	archive := &models.LogArchive{
		FileName:    fileName,
		S3Key:       key,
		StartDate:   logs[0].CreatedAt,
		EndDate:     cutoff,
		RecordCount: len(logs),
		FileSize:    int64(buf.Len()),
		Status:      "completed",
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("created_at < ?", cutoff).Delete(&models.ActivityLog{}).Error; err != nil {
			return err
		}
		return tx.Create(archive).Error
	})
	if err != nil {
		return nil, apperrors.Database(err, "failed to finalize log archive")
	}

	logrus.WithFields(logrus.Fields{"key": key, "records": len(logs)}).Info("Archived activity logs")
	return archive, nil
}

// ListArchives returns archive metadata, newest first.
func (s *Service) ListArchives(ctx context.Context) ([]models.LogArchive, error) {
	var archives []models.LogArchive
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, apperrors.Database(err, "failed to retrieve archived logs")
	}
	return archives, nil
}

// OpenArchive streams one archive from object storage.
func (s *Service) OpenArchive(ctx context.Context, id uint) (io.ReadCloser, string, error) {
	var archive models.LogArchive
	if err := s.db.WithContext(ctx).First(&archive, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", apperrors.NotFound("archive not found")
		}
		return nil, "", apperrors.Database(err, "failed to retrieve archive")
	}
	if s.store == nil {
		return nil, "", fmt.Errorf("object storage is not configured")
	}
	body, err := s.store.GetObject(ctx, archive.S3Key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download archive: %v", err)
	}
	return body, archive.FileName, nil
}

// ToArchived decodes the stored details of a log row.
func ToArchived(l models.ActivityLog) ArchivedLog {
	out := ArchivedLog{
		ID:         l.ID,
		ActorID:    l.ActorID,
		ActorType:  l.ActorType,
		Action:     l.Action,
		Resource:   l.Resource,
		ResourceID: l.ResourceID,
		IPAddress:  l.IPAddress,
		UserAgent:  l.UserAgent,
		CreatedAt:  l.CreatedAt,
	}
	if !l.Details.IsNull() {
		var details map[string]any
		if err := json.Unmarshal(l.Details, &details); err == nil {
			out.Details = details
		}
	}
	return out
}

// BuildArchive writes activity_logs.json, metadata.json and activity_logs.csv into a zip.
func BuildArchive(logs []ArchivedLog, fileName string, now time.Time) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	logsFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create logs file in ZIP: %v", err)
	}
	enc := json.NewEncoder(logsFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"export_date":    now.UTC(),
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode logs to JSON: %v", err)
	}

	metaFile, err := zw.Create("metadata.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata file in ZIP: %v", err)
	}
	meta := map[string]any{
		"file_name":      fileName,
		"created_at":     now.UTC(),
		"record_count":   len(logs),
		"schema_version": "1.0",
	}
	if len(logs) > 0 {
		meta["date_range"] = map[string]any{
			"start": logs[0].CreatedAt,
			"end":   logs[len(logs)-1].CreatedAt,
		}
	}
	if err := json.NewEncoder(metaFile).Encode(meta); err != nil {
		return nil, fmt.Errorf("failed to encode metadata to JSON: %v", err)
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file in ZIP: %v", err)
	}
	w := csv.NewWriter(csvFile)
	w.Write([]string{"ID", "Actor ID", "Actor Type", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, l := range logs {
		details := ""
		if l.Details != nil {
			if b, err := json.Marshal(l.Details); err == nil {
				details = string(b)
			}
		}
		w.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			strconv.FormatUint(uint64(l.ActorID), 10),
			l.ActorType,
			l.Action,
			l.Resource,
			strconv.FormatUint(uint64(l.ResourceID), 10),
			l.IPAddress,
			l.UserAgent,
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			details,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %v", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ZIP writer: %v", err)
	}
	return buf, nil
}
