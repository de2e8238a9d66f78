package dal

import (
	"context"

	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cakeday/models"
)

// SetGuildSetting inserts or updates one guild setting.
func SetGuildSetting(ctx context.Context, guildID, name, value string, db *gorm.DB) error {
	setting := models.Setting{GuildID: guildID, Name: name, Value: value}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "setting"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&setting).Error
	return storageError(err)
}

// GetGuildSetting returns the stored value, or ErrNotFound when the guild
// never set it.
func GetGuildSetting(ctx context.Context, guildID, name string, db *gorm.DB) (string, error) {
	var setting models.Setting
	err := db.WithContext(ctx).
		Where("guild_id = ? AND setting = ?", guildID, name).
		Take(&setting).Error
	if err != nil {
		return "", storageError(err)
	}
	return setting.Value, nil
}

// GuildSettings returns every setting of a guild keyed by name.
func GuildSettings(ctx context.Context, guildID string, db *gorm.DB) (map[string]string, error) {
	var settings []models.Setting
	err := db.WithContext(ctx).Where("guild_id = ?", guildID).Find(&settings).Error
	if err != nil {
		return nil, storageError(err)
	}

	values := make(map[string]string, len(settings))
	for _, s := range settings {
		values[s.Name] = s.Value
	}
	return values, nil
}

// DeleteGuildSetting removes a setting so its default applies again.
func DeleteGuildSetting(ctx context.Context, guildID, name string, db *gorm.DB) error {
	err := db.WithContext(ctx).
		Where("guild_id = ? AND setting = ?", guildID, name).
		Delete(&models.Setting{}).Error
	return storageError(err)
}

// ToggleGuildSetting flips a boolean setting. A missing setting counts as off.
func ToggleGuildSetting(ctx context.Context, guildID, name string, db *gorm.DB) (bool, error) {
	var enabled bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := GetGuildSetting(ctx, guildID, name, tx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		enabled = !models.SettingEnabled(current)
		value := models.SettingOff
		if enabled {
			value = models.SettingOn
		}
		return SetGuildSetting(ctx, guildID, name, value, tx)
	})
	if err != nil {
		return false, err
	}
	return enabled, nil
}
