package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"cakeday/birthday"
	"cakeday/dal"
	"cakeday/discordutils"
	"cakeday/models"
)

// SetAnnounceChannel sets the channel to use for announcements.
func (bot *Bot) SetAnnounceChannel(ctx context.Context, i *discordgo.InteractionCreate) string {
	channel := optionMap(i)["channel"].ChannelValue(nil)
	return bot.setChannelReply(ctx, i.GuildID, models.SettingAnnounceChannel, channel.ID,
		"Birthday announcements will now be sent to <#%s>.")
}

// SetCommandChannel restricts user commands to one channel.
func (bot *Bot) SetCommandChannel(ctx context.Context, i *discordgo.InteractionCreate) string {
	channel := optionMap(i)["channel"].ChannelValue(nil)
	return bot.setChannelReply(ctx, i.GuildID, models.SettingCommandChannel, channel.ID,
		"Birthday commands will now only be processed in <#%s>.")
}

func (bot *Bot) setChannelReply(ctx context.Context, guildID, setting, channelID, format string) string {
	if err := dal.SetGuildSetting(ctx, guildID, setting, channelID, bot.db); err != nil {
		bot.log.Error("Failed to set channel",
			zap.String("guild_id", guildID),
			zap.String("setting", setting),
			zap.Error(err))
		return "There was an error setting the channel. Please try again later."
	}
	return fmt.Sprintf(format, channelID)
}

// ToggleEveryone flips @everyone mentions in announcements.
func (bot *Bot) ToggleEveryone(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.toggleEveryoneReply(ctx, i.GuildID)
}

func (bot *Bot) toggleEveryoneReply(ctx context.Context, guildID string) string {
	enabled, err := dal.ToggleGuildSetting(ctx, guildID, models.SettingMentionEveryone, bot.db)
	if err != nil {
		bot.log.Error("Failed to toggle @everyone", zap.String("guild_id", guildID), zap.Error(err))
		return "There was an error toggling @everyone mentions. Please try again later."
	}
	return fmt.Sprintf("@everyone mentions in birthday announcements are now %s.", onOff(enabled))
}

// SetTimezone sets the timezone used to decide when a day starts.
func (bot *Bot) SetTimezone(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.setTimezoneReply(ctx, i.GuildID, optionMap(i)["timezone"].StringValue())
}

func (bot *Bot) setTimezoneReply(ctx context.Context, guildID, raw string) string {
	loc, err := birthday.ParseTimezone(raw)
	if err != nil {
		return "Invalid timezone. Please use a valid timezone identifier (e.g., 'America/New_York')."
	}

	if err := dal.SetGuildSetting(ctx, guildID, models.SettingTimezone, loc.String(), bot.db); err != nil {
		bot.log.Error("Failed to set timezone", zap.String("guild_id", guildID), zap.Error(err))
		return "There was an error setting the timezone. Please try again later."
	}
	return fmt.Sprintf("Server timezone has been set to %s.", loc.String())
}

// SetRole sets the role pinged in announcements, or stops pinging when no
// role is given.
func (bot *Bot) SetRole(ctx context.Context, i *discordgo.InteractionCreate) string {
	option, ok := optionMap(i)["role"]
	if !ok {
		return bot.setRoleReply(ctx, i.GuildID, nil)
	}

	roleID := option.RoleValue(nil, "").ID
	role := &discordgo.Role{ID: roleID}
	if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
		if r, ok := resolved.Roles[roleID]; ok {
			role = r
		}
	}
	return bot.setRoleReply(ctx, i.GuildID, role)
}

func (bot *Bot) setRoleReply(ctx context.Context, guildID string, role *discordgo.Role) string {
	failed := func(err error) string {
		bot.log.Error("Failed to set role", zap.String("guild_id", guildID), zap.Error(err))
		return "There was an error setting the role. Please try again later."
	}

	if role == nil {
		if err := dal.SetGuildSetting(ctx, guildID, models.SettingRoleMention, models.SettingOff, bot.db); err != nil {
			return failed(err)
		}
		return "Birthday announcements will no longer ping a role."
	}

	if discordutils.RoleAllowsAdminPermissions(role) {
		return "That role allows admin permissions, that's a bad idea."
	}

	if err := dal.SetGuildSetting(ctx, guildID, models.SettingRoleID, role.ID, bot.db); err != nil {
		return failed(err)
	}
	if err := dal.SetGuildSetting(ctx, guildID, models.SettingRoleMention, models.SettingOn, bot.db); err != nil {
		return failed(err)
	}
	return fmt.Sprintf("Birthday announcements will now ping <@&%s>.", role.ID)
}

// ClearUserBirthday removes another member's birthday in this guild.
func (bot *Bot) ClearUserBirthday(ctx context.Context, i *discordgo.InteractionCreate) string {
	user := optionMap(i)["user"].UserValue(nil)
	return bot.clearUserBirthdayReply(ctx, i.GuildID, user.ID)
}

func (bot *Bot) clearUserBirthdayReply(ctx context.Context, guildID, userID string) string {
	err := dal.ClearBirthday(ctx, userID, guildID, bot.db)
	switch {
	case errors.Is(err, dal.ErrNotFound):
		return fmt.Sprintf("<@%s> doesn't have a birthday set in this server.", userID)
	case err != nil:
		bot.log.Error("Failed to clear user birthday",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Sprintf("There was an error clearing <@%s>'s birthday. Please try again later.", userID)
	}
	return fmt.Sprintf("<@%s>'s birthday has been cleared from this server.", userID)
}

// ForceAnnounce greets a user immediately.
func (bot *Bot) ForceAnnounce(ctx context.Context, i *discordgo.InteractionCreate) string {
	user := optionMap(i)["user"].UserValue(nil)
	return bot.forceAnnounceReply(ctx, i.GuildID, user.ID)
}

func (bot *Bot) forceAnnounceReply(ctx context.Context, guildID, userID string) string {
	if bot.forcer == nil {
		return "Announcements are not running."
	}

	report, err := bot.forcer.ForceAnnounce(ctx, guildID, userID)
	if err != nil {
		bot.log.Error("Failed to force announcement",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Sprintf("Failed to prepare a birthday record for <@%s>.", userID)
	}

	lines := []string{fmt.Sprintf("Force announcement results for <@%s>:", userID)}
	if report.Created {
		lines = append(lines, "- Created a birthday record for today")
	}
	lines = append(lines, "- DM: "+outcome(report.DirectSkipped, report.DirectError))
	lines = append(lines, "- Server announcement: "+outcome(report.GuildSkipped, report.GuildError))
	return strings.Join(lines, "\n")
}

func outcome(skipped bool, err error) string {
	if skipped {
		return "⏭️ skipped (user setting)"
	}
	if err == nil {
		return "✅ sent"
	}
	return "❌ " + err.Error()
}
