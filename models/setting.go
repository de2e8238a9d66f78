package models

// Setting is one guild-scoped configuration value.
type Setting struct {
	GuildID string `gorm:"primaryKey;size:32"`
	Name    string `gorm:"column:setting;primaryKey;size:50"`
	Value   string `gorm:"type:text"`
}

func (Setting) TableName() string { return "settings" }

// Known setting names.
const (
	SettingAnnounceChannel = "announce_channel"
	SettingCommandChannel  = "command_channel"
	SettingTimezone        = "timezone"
	SettingMentionEveryone = "mention_everyone"
	SettingRoleID          = "role_id"
	SettingRoleMention     = "role_mention"
)

// Stored representation of boolean settings.
const (
	SettingOn  = "1"
	SettingOff = "0"
)

// SettingEnabled reports whether a stored boolean setting is on.
func SettingEnabled(value string) bool {
	return value == SettingOn
}
