package models

import "time"

// Birthday represents a user's birthday within one guild.
type Birthday struct {
	UserID          string `gorm:"primaryKey;size:32"`
	GuildID         string `gorm:"primaryKey;size:32"`
	Birthday        string `gorm:"type:char(4);not null;index"` // MMDD
	BirthYear       *int
	AnnounceInGuild bool `gorm:"not null;default:true"`
	ReceiveDM       bool `gorm:"column:receive_dm;not null;default:true"`
	ShareAge        bool `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName keeps the table name stable across model renames.
func (Birthday) TableName() string { return "users" }

// UserSetting names one of the per-user boolean preferences. The value is
// the column it is stored in.
type UserSetting string

// Per-user preferences.
const (
	AnnounceInGuild UserSetting = "announce_in_guild"
	ReceiveDM       UserSetting = "receive_dm"
	ShareAge        UserSetting = "share_age"
)

// Valid reports whether s is a known preference.
func (s UserSetting) Valid() bool {
	switch s {
	case AnnounceInGuild, ReceiveDM, ShareAge:
		return true
	}
	return false
}

// Value reads the preference s from b.
func (b *Birthday) Value(s UserSetting) bool {
	switch s {
	case AnnounceInGuild:
		return b.AnnounceInGuild
	case ReceiveDM:
		return b.ReceiveDM
	case ShareAge:
		return b.ShareAge
	}
	return false
}
