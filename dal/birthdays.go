package dal

import (
	"context"

	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cakeday/models"
)

// SetBirthday inserts the birthday for the given user & guild, or replaces
// just the date when one is already stored.
func SetBirthday(ctx context.Context, userID, guildID, key string, db *gorm.DB) error {
	record := models.Birthday{
		UserID:          userID,
		GuildID:         guildID,
		Birthday:        key,
		AnnounceInGuild: true,
		ReceiveDM:       true,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"birthday", "updated_at"}),
	}).Create(&record).Error
	return storageError(err)
}

// GetBirthday gets the birthday record for the given user & guild.
func GetBirthday(ctx context.Context, userID, guildID string, db *gorm.DB) (*models.Birthday, error) {
	var record models.Birthday
	err := db.WithContext(ctx).
		Where("user_id = ? AND guild_id = ?", userID, guildID).
		Take(&record).Error
	if err != nil {
		return nil, storageError(err)
	}
	return &record, nil
}

// ClearBirthday removes the record for one guild only.
func ClearBirthday(ctx context.Context, userID, guildID string, db *gorm.DB) error {
	result := db.WithContext(ctx).
		Where("user_id = ? AND guild_id = ?", userID, guildID).
		Delete(&models.Birthday{})
	if result.Error != nil {
		return storageError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeUser removes everything stored about a user in every guild and
// returns how many birthday records were deleted.
func PurgeUser(ctx context.Context, userID string, db *gorm.DB) (int64, error) {
	var removed int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ?", userID).Delete(&models.Birthday{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return tx.Where("user_id = ?", userID).Delete(&models.Announcement{}).Error
	})
	if err != nil {
		return 0, storageError(err)
	}
	return removed, nil
}

// SetBirthYear stores the birth year on an existing record.
func SetBirthYear(ctx context.Context, userID, guildID string, year int, db *gorm.DB) error {
	result := db.WithContext(ctx).Model(&models.Birthday{}).
		Where("user_id = ? AND guild_id = ?", userID, guildID).
		Update("birth_year", year)
	if result.Error != nil {
		return storageError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleUserSetting flips a preference, or sets it to *value when value is
// not nil, and returns the stored result. It never creates a record.
func ToggleUserSetting(
	ctx context.Context,
	userID, guildID string,
	setting models.UserSetting,
	value *bool,
	db *gorm.DB,
) (bool, error) {
	if !setting.Valid() {
		return false, errors.Errorf("unknown user setting %q", setting)
	}

	var enabled bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.Birthday
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND guild_id = ?", userID, guildID).
			Take(&record).Error
		if err != nil {
			return err
		}

		enabled = !record.Value(setting)
		if value != nil {
			enabled = *value
		}
		return tx.Model(&models.Birthday{}).
			Where("user_id = ? AND guild_id = ?", userID, guildID).
			Update(string(setting), enabled).Error
	})
	if err != nil {
		return false, storageError(err)
	}
	return enabled, nil
}

// BirthdaysOn lists records in every guild whose birthday is one of keys.
func BirthdaysOn(ctx context.Context, keys []string, db *gorm.DB) ([]models.Birthday, error) {
	var records []models.Birthday
	err := db.WithContext(ctx).
		Where("birthday IN ?", keys).
		Order("guild_id, user_id").
		Find(&records).Error
	return records, storageError(err)
}

// GuildBirthdaysOn lists a guild's records whose birthday is one of keys.
func GuildBirthdaysOn(ctx context.Context, guildID string, keys []string, db *gorm.DB) ([]models.Birthday, error) {
	var records []models.Birthday
	err := db.WithContext(ctx).
		Where("guild_id = ? AND birthday IN ?", guildID, keys).
		Order("user_id").
		Find(&records).Error
	return records, storageError(err)
}

// GuildBirthdays lists every record in a guild ordered by date.
func GuildBirthdays(ctx context.Context, guildID string, db *gorm.DB) ([]models.Birthday, error) {
	var records []models.Birthday
	err := db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("birthday, user_id").
		Find(&records).Error
	return records, storageError(err)
}
