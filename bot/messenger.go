package bot

import (
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"cakeday/announce"
)

// GuildIDs lists the guilds in the state cache.
func (bot *Bot) GuildIDs() []string {
	bot.session.State.RLock()
	defer bot.session.State.RUnlock()

	ids := make([]string, 0, len(bot.session.State.Guilds))
	for _, guild := range bot.session.State.Guilds {
		ids = append(ids, guild.ID)
	}
	return ids
}

// IsMember reports whether the user is still in the guild. Lookups that fail
// for any reason other than the member being unknown count as present.
func (bot *Bot) IsMember(guildID, userID string) bool {
	if _, err := bot.session.State.Member(guildID, userID); err == nil {
		return true
	}

	_, err := bot.session.GuildMember(guildID, userID)
	if err == nil {
		return true
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return false
	}

	bot.log.Warn("Failed to look up member",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Error(err))
	return true
}

// DirectMessage sends content to the user's DM channel.
func (bot *Bot) DirectMessage(userID, content string) error {
	channel, err := bot.session.UserChannelCreate(userID)
	if err != nil {
		return errors.Annotatef(err, "opening DM channel with %s", userID)
	}
	if _, err := bot.session.ChannelMessageSend(channel.ID, content); err != nil {
		return errors.Annotatef(err, "sending DM to %s", userID)
	}
	return nil
}

// ChannelMessage posts msg, allowing only the mentions it asks for.
func (bot *Bot) ChannelMessage(channelID string, msg announce.Message) error {
	allowed := &discordgo.MessageAllowedMentions{}
	if msg.UserID != "" {
		allowed.Users = []string{msg.UserID}
	}
	if msg.RoleID != "" {
		allowed.Roles = []string{msg.RoleID}
	}
	if msg.MentionEveryone {
		allowed.Parse = append(allowed.Parse, discordgo.AllowedMentionTypeEveryone)
	}

	_, err := bot.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         msg.Content,
		AllowedMentions: allowed,
	})
	if err != nil {
		return errors.Annotatef(err, "posting to channel %s", channelID)
	}
	return nil
}
