package dal

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cakeday/models"
)

// ClaimAnnouncement records that a greeting is about to be sent. It returns
// false when the same greeting was already claimed for that day.
func ClaimAnnouncement(ctx context.Context, a models.Announcement, db *gorm.DB) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&a)
	if result.Error != nil {
		return false, storageError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseAnnouncement drops a claim so the greeting is retried on the next
// pass.
func ReleaseAnnouncement(ctx context.Context, a models.Announcement, db *gorm.DB) error {
	err := db.WithContext(ctx).
		Where("user_id = ? AND guild_id = ? AND kind = ? AND day = ?", a.UserID, a.GuildID, a.Kind, a.Day).
		Delete(&models.Announcement{}).Error
	return storageError(err)
}

// PruneAnnouncements deletes claims for days before the given YYYY-MM-DD day.
func PruneAnnouncements(ctx context.Context, before string, db *gorm.DB) (int64, error) {
	result := db.WithContext(ctx).Where("day < ?", before).Delete(&models.Announcement{})
	if result.Error != nil {
		return 0, storageError(result.Error)
	}
	return result.RowsAffected, nil
}
