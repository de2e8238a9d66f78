package announce

import "github.com/juju/errors"

// ErrDeliveryFailed is returned when a greeting could not be delivered.
const ErrDeliveryFailed = errors.ConstError("delivery failed")

// Messenger is the chat platform the announcer talks to.
type Messenger interface {
	// GuildIDs lists the guilds the bot is currently in.
	GuildIDs() []string

	// IsMember reports whether the user is still in the guild.
	IsMember(guildID, userID string) bool

	DirectMessage(userID, content string) error
	ChannelMessage(channelID string, msg Message) error
}

// Message is a channel post together with the mentions it may ping.
type Message struct {
	Content         string
	UserID          string
	RoleID          string
	MentionEveryone bool
}
