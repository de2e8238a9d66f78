package models

import "time"

// AnnouncementKind says where a birthday greeting went.
type AnnouncementKind string

const (
	AnnouncementDM    AnnouncementKind = "dm"
	AnnouncementGuild AnnouncementKind = "guild"
)

// Announcement records that a greeting was sent for a user on a calendar
// day. DM rows leave GuildID empty so a user is greeted once per day no matter
// how many guilds they registered in.
type Announcement struct {
	UserID    string           `gorm:"primaryKey;size:32"`
	GuildID   string           `gorm:"primaryKey;size:32"`
	Kind      AnnouncementKind `gorm:"primaryKey;size:8"`
	Day       string           `gorm:"primaryKey;size:10;index"` // YYYY-MM-DD
	CreatedAt time.Time
}

func (Announcement) TableName() string { return "announcements" }
