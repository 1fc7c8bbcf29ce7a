package notifications

import (
	"time"

	"schoolreg/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GroupSource lists the LINE groups that receive staff notices besides the configured one.
type GroupSource interface {
	ActiveGroupIDs() ([]string, error)
}

// LineGroupRegistry keeps the line_groups table in step with the bot's join and leave events.
type LineGroupRegistry struct {
	db *gorm.DB
}

func NewLineGroupRegistry(db *gorm.DB) *LineGroupRegistry {
	return &LineGroupRegistry{db: db}
}

// Joined records (or reactivates) a group the bot was added to.
func (r *LineGroupRegistry) Joined(groupID, groupName string) error {
	group := models.LineGroup{
		GroupID:      groupID,
		GroupName:    groupName,
		IsActive:     true,
		LastJoinedAt: time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "group_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"group_name":     groupName,
			"is_active":      true,
			"last_joined_at": group.LastJoinedAt,
			"last_left_at":   nil,
			"updated_at":     group.LastJoinedAt,
		}),
	}).Create(&group).Error
}

// Left deactivates a group; unknown groups are ignored.
func (r *LineGroupRegistry) Left(groupID string) error {
	now := time.Now()
	return r.db.Model(&models.LineGroup{}).
		Where("group_id = ?", groupID).
		Updates(map[string]interface{}{"is_active": false, "last_left_at": &now}).Error
}

func (r *LineGroupRegistry) ActiveGroupIDs() ([]string, error) {
	var ids []string
	err := r.db.Model(&models.LineGroup{}).Where("is_active = ?", true).Pluck("group_id", &ids).Error
	return ids, err
}
