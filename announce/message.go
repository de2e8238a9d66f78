package announce

import (
	"fmt"
	"strings"
	"time"

	"cakeday/birthday"
	"cakeday/models"
)

// DirectText is the greeting sent to a user by DM.
func DirectText(record models.Birthday, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Happy Birthday, <@%s>! 🎉🎂🎈", record.UserID)
	if age, ok := sharedAge(record, at); ok {
		fmt.Fprintf(&b, "\nYou're turning %d today! 🎂", age)
	}
	return b.String()
}

// GuildMessage builds the channel post for a record, honouring the guild's
// mention settings.
func GuildMessage(record models.Birthday, settings map[string]string, at time.Time) Message {
	msg := Message{UserID: record.UserID}

	var b strings.Builder
	if roleID := settings[models.SettingRoleID]; roleID != "" && models.SettingEnabled(settings[models.SettingRoleMention]) {
		msg.RoleID = roleID
		fmt.Fprintf(&b, "<@&%s>, ", roleID)
	}
	if models.SettingEnabled(settings[models.SettingMentionEveryone]) {
		msg.MentionEveryone = true
		b.WriteString("@everyone, ")
	}

	fmt.Fprintf(&b, "🎉 Today is <@%s>'s birthday!", record.UserID)
	if age, ok := sharedAge(record, at); ok {
		fmt.Fprintf(&b, " They're turning %d today!", age)
	}
	b.WriteString(" Wish them a happy birthday! 🎂🎈")

	msg.Content = b.String()
	return msg
}

func sharedAge(record models.Birthday, at time.Time) (int, bool) {
	if !record.ShareAge || record.BirthYear == nil {
		return 0, false
	}
	return birthday.Age(*record.BirthYear, at), true
}
