package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"cakeday/birthday"
	"cakeday/dal"
	"cakeday/discordutils"
	"cakeday/models"
)

type commandHandler = func(context.Context, *discordgo.InteractionCreate) string

type access int

const (
	accessUser access = iota
	accessAdmin
	accessOwner
	accessAnyone
)

var commandAccess = map[string]access{
	"birthdayhelp":       accessAnyone,
	"setannouncechannel": accessAdmin,
	"setcommandchannel":  accessAdmin,
	"toggleeveryone":     accessAdmin,
	"settimezone":        accessAdmin,
	"setrole":            accessAdmin,
	"clearuserbirthday":  accessAdmin,
	"forceannounce":      accessOwner,
}

func accessFor(name string) access {
	if a, ok := commandAccess[name]; ok {
		return a
	}
	return accessUser
}

var dmPermission = false

var botCommands = []*discordgo.ApplicationCommand{
	{
		Name:        "setbirthday",
		Description: "Set your birthday (MMDD or DDMM format).",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "date",
				Description: "Your birthday, for example 1225 for December 25.",
				Required:    true,
			},
		},
	}, {
		Name:        "clearbirthday",
		Description: "Clear your birthday in this server.",
	}, {
		Name:        "setbirthyear",
		Description: "Set your birth year so your age can be shown.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "year",
				Description: "Your birth year, for example 1995.",
				Required:    true,
			},
		},
	}, {
		Name:        "toggledms",
		Description: "Toggle birthday DMs.",
	}, {
		Name:        "toggleannounce",
		Description: "Toggle birthday announcements in this server.",
	}, {
		Name:        "toggleshareage",
		Description: "Toggle showing your age in birthday announcements.",
	}, {
		Name:        "birthday",
		Description: "Look up a birthday.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "The user to look up. Defaults to you.",
				Required:    false,
			},
		},
	}, {
		Name:        "nextbirthday",
		Description: "Show the next upcoming birthday in this server.",
	}, {
		Name:        "forgetme",
		Description: "Remove everything stored about you in every server.",
	}, {
		Name:        "birthdayhelp",
		Description: "Show the birthday commands.",
	}, {
		Name:        "setannouncechannel",
		Description: "Set the channel for birthday announcements.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "The channel to use.",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
				Required:     true,
			},
		},
	}, {
		Name:        "setcommandchannel",
		Description: "Restrict birthday commands to one channel.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "The channel to use.",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				Required:     true,
			},
		},
	}, {
		Name:        "toggleeveryone",
		Description: "Toggle @everyone mentions in birthday announcements.",
	}, {
		Name:        "settimezone",
		Description: "Set the server timezone, for example America/New_York.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "timezone",
				Description: "An IANA timezone name.",
				Required:    true,
			},
		},
	}, {
		Name:        "setrole",
		Description: "Set the role pinged in birthday announcements. Leave empty to stop pinging.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "The role to ping.",
				Required:    false,
			},
		},
	}, {
		Name:        "clearuserbirthday",
		Description: "Clear a member's birthday in this server.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "The member whose birthday to clear.",
				Required:    true,
			},
		},
	}, {
		Name:        "forceannounce",
		Description: "Force birthday announcements for a user.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "The user to announce.",
				Required:    true,
			},
		},
	},
}

// commands returns the command definitions with the configured prefix
// applied.
func (bot *Bot) commands() []*discordgo.ApplicationCommand {
	commands := make([]*discordgo.ApplicationCommand, len(botCommands))
	for i, command := range botCommands {
		c := *command
		c.Name = bot.cfg.CommandPrefix + command.Name
		c.DMPermission = &dmPermission
		commands[i] = &c
	}
	return commands
}

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, option := range options {
		m[option.Name] = option
	}
	return m
}

// commandChannelGate refuses commands issued outside the guild's command
// channel, if one is set.
func (bot *Bot) commandChannelGate(ctx context.Context, guildID, channelID string) (string, bool) {
	commandChannel, err := dal.GetGuildSetting(ctx, guildID, models.SettingCommandChannel, bot.db)
	if err != nil {
		if !errors.Is(err, dal.ErrNotFound) {
			bot.log.Warn("Failed to read command channel", zap.String("guild_id", guildID), zap.Error(err))
		}
		return "", true
	}
	if commandChannel == "" || commandChannel == channelID {
		return "", true
	}
	return fmt.Sprintf("Please use <#%s> for birthday commands.", commandChannel), false
}

// SetBirthday saves the caller's birthday and warns them about privacy.
func (bot *Bot) SetBirthday(ctx context.Context, i *discordgo.InteractionCreate) string {
	userID := i.Member.User.ID
	raw := optionMap(i)["date"].StringValue()

	reply, saved := bot.setBirthdayReply(ctx, userID, i.GuildID, raw)
	if saved {
		if err := bot.DirectMessage(userID, bot.privacyWarning()); err != nil {
			bot.log.Debug("Privacy warning DM failed", zap.String("user_id", userID), zap.Error(err))
			reply = bot.privacyFallback(userID) + "\n\n" + reply
		}
	}
	return reply
}

func (bot *Bot) setBirthdayReply(ctx context.Context, userID, guildID, raw string) (string, bool) {
	key, err := birthday.Normalize(raw)
	if err != nil {
		return replyInvalidBirthday, false
	}

	if refusal, ok := bot.changeAllowed(userID, guildID); !ok {
		return refusal, false
	}

	if err := dal.SetBirthday(ctx, userID, guildID, key, bot.db); err != nil {
		bot.log.Error("Failed to set birthday",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return "There was an error setting your birthday. Please try again later.", false
	}
	bot.recordChange(userID, guildID)

	return fmt.Sprintf(
		"Your birthday has been set to %s. You can use %s to disable server announcements or %s to disable DM messages.",
		birthday.Display(key), bot.cmd("toggleannounce"), bot.cmd("toggledms"),
	), true
}

// ClearBirthday removes the caller's birthday in this guild.
func (bot *Bot) ClearBirthday(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.clearBirthdayReply(ctx, i.Member.User.ID, i.GuildID)
}

func (bot *Bot) clearBirthdayReply(ctx context.Context, userID, guildID string) string {
	if refusal, ok := bot.changeAllowed(userID, guildID); !ok {
		return refusal
	}

	err := dal.ClearBirthday(ctx, userID, guildID, bot.db)
	switch {
	case errors.Is(err, dal.ErrNotFound):
		return "You don't have a birthday set in this server."
	case err != nil:
		bot.log.Error("Failed to clear birthday",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return "There was an error clearing your birthday. Please try again later."
	}
	bot.recordChange(userID, guildID)
	return "Your birthday has been cleared from this server."
}

// SetBirthYear saves the caller's birth year on their existing record.
func (bot *Bot) SetBirthYear(ctx context.Context, i *discordgo.InteractionCreate) string {
	userID := i.Member.User.ID
	raw := optionMap(i)["year"].StringValue()

	reply, saved := bot.setBirthYearReply(ctx, userID, i.GuildID, raw)
	if saved {
		if err := bot.DirectMessage(userID, bot.birthYearWarning()); err != nil {
			bot.log.Debug("Privacy warning DM failed", zap.String("user_id", userID), zap.Error(err))
			reply = bot.birthYearFallback(userID) + "\n\n" + reply
		}
	}
	return reply
}

func (bot *Bot) setBirthYearReply(ctx context.Context, userID, guildID, raw string) (string, bool) {
	year, err := birthday.ValidateYear(raw, bot.clock.Now())
	if err != nil {
		return "Invalid birth year. Please provide a valid year.", false
	}

	err = dal.SetBirthYear(ctx, userID, guildID, year, bot.db)
	switch {
	case errors.Is(err, dal.ErrNotFound):
		return fmt.Sprintf("Please set your birthday first using %s.", bot.cmd("setbirthday")), false
	case err != nil:
		bot.log.Error("Failed to set birth year",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
		return "There was an error setting your birth year. Please try again later.", false
	}

	return fmt.Sprintf(
		"Your birth year has been set to %d. You can use %s to control whether your age is shown in birthday announcements.",
		year, bot.cmd("toggleshareage"),
	), true
}

// ToggleDMs flips whether the caller receives birthday DMs.
func (bot *Bot) ToggleDMs(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.toggleReply(ctx, i.Member.User.ID, i.GuildID, models.ReceiveDM)
}

// ToggleAnnounce flips whether the caller's birthday is announced in this guild.
func (bot *Bot) ToggleAnnounce(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.toggleReply(ctx, i.Member.User.ID, i.GuildID, models.AnnounceInGuild)
}

// ToggleShareAge flips whether the caller's age is shown.
func (bot *Bot) ToggleShareAge(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.toggleReply(ctx, i.Member.User.ID, i.GuildID, models.ShareAge)
}

var toggleReplies = map[models.UserSetting]string{
	models.ReceiveDM:       "Birthday DMs are now %s.",
	models.AnnounceInGuild: "Server birthday announcements are now %s.",
	models.ShareAge:        "Age sharing in birthday announcements is now %s.",
}

func (bot *Bot) toggleReply(ctx context.Context, userID, guildID string, setting models.UserSetting) string {
	failed := func(err error) string {
		bot.log.Error("Failed to toggle user setting",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("setting", string(setting)),
			zap.Error(err))
		return "There was an error changing that setting. Please try again later."
	}
	noRecord := fmt.Sprintf("Please set your birthday first using %s.", bot.cmd("setbirthday"))

	if setting == models.ShareAge {
		record, err := dal.GetBirthday(ctx, userID, guildID, bot.db)
		switch {
		case errors.Is(err, dal.ErrNotFound):
			return noRecord
		case err != nil:
			return failed(err)
		case record.BirthYear == nil:
			return fmt.Sprintf("Please set your birth year first using %s.", bot.cmd("setbirthyear"))
		}
	}

	enabled, err := dal.ToggleUserSetting(ctx, userID, guildID, setting, nil, bot.db)
	switch {
	case errors.Is(err, dal.ErrNotFound):
		return noRecord
	case err != nil:
		return failed(err)
	}
	return fmt.Sprintf(toggleReplies[setting], onOff(enabled))
}

// Birthday looks up a birthday in this guild.
func (bot *Bot) Birthday(ctx context.Context, i *discordgo.InteractionCreate) string {
	userID := i.Member.User.ID
	if option, ok := optionMap(i)["user"]; ok {
		userID = option.UserValue(nil).ID
	}
	return bot.birthdayReply(ctx, i.GuildID, userID, userID == i.Member.User.ID)
}

func (bot *Bot) birthdayReply(ctx context.Context, guildID, userID string, self bool) string {
	record, err := dal.GetBirthday(ctx, userID, guildID, bot.db)
	switch {
	case errors.Is(err, dal.ErrNotFound):
		if self {
			return fmt.Sprintf("You haven't registered your birthday with me yet. Use %s to add it.", bot.cmd("setbirthday"))
		}
		return fmt.Sprintf("<@%s> hasn't registered their birthday with me yet.", userID)
	case err != nil:
		bot.log.Error("Failed to look up birthday", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return replyGenericFailure
	}

	reply := fmt.Sprintf("I've got <@%s>'s birthday down as %s.", userID, birthday.Display(record.Birthday))
	if self {
		reply += fmt.Sprintf(" Server announcements are %s and birthday DMs are %s.",
			onOff(record.AnnounceInGuild), onOff(record.ReceiveDM))
	}
	return reply
}

// NextBirthday finds the soonest upcoming birthday in this guild.
func (bot *Bot) NextBirthday(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.nextBirthdayReply(ctx, i.GuildID)
}

func (bot *Bot) nextBirthdayReply(ctx context.Context, guildID string) string {
	records, err := dal.GuildBirthdays(ctx, guildID, bot.db)
	if err != nil {
		bot.log.Error("Failed to list birthdays", zap.String("guild_id", guildID), zap.Error(err))
		return replyGenericFailure
	}
	if len(records) == 0 {
		return "Nobody in this server has registered a birthday yet."
	}

	tz, err := dal.GetGuildSetting(ctx, guildID, models.SettingTimezone, bot.db)
	if err != nil && !errors.Is(err, dal.ErrNotFound) {
		bot.log.Warn("Failed to read timezone", zap.String("guild_id", guildID), zap.Error(err))
	}
	now := bot.clock.Now().In(birthday.Location(tz))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var soonest time.Time
	var users []string
	for _, record := range records {
		next, ok := birthday.Next(record.Birthday, now)
		if !ok {
			continue
		}
		switch {
		case len(users) == 0 || next.Before(soonest):
			soonest = next
			users = []string{record.UserID}
		case next.Equal(soonest):
			users = append(users, record.UserID)
		}
	}
	if len(users) == 0 {
		return "Nobody in this server has registered a birthday yet."
	}
	sort.Strings(users)

	mentions := make([]string, len(users))
	for i, userID := range users {
		mentions[i] = fmt.Sprintf("<@%s>", userID)
	}

	when := humanize.RelTime(soonest, today, "ago", "from now")
	if soonest.Equal(today) {
		when = "today"
	}

	return fmt.Sprintf("The next birthday is %s on %s (%s).",
		strings.Join(mentions, ", "), soonest.Format(birthday.DisplayFormat), when)
}

// ForgetMe removes the caller from every guild.
func (bot *Bot) ForgetMe(ctx context.Context, i *discordgo.InteractionCreate) string {
	return bot.forgetMeReply(ctx, i.Member.User.ID)
}

func (bot *Bot) forgetMeReply(ctx context.Context, userID string) string {
	removed, err := dal.PurgeUser(ctx, userID, bot.db)
	if err != nil {
		bot.log.Error("Failed to purge user", zap.String("user_id", userID), zap.Error(err))
		return "I'm unable to delete your data right now. Please try again later."
	}
	if removed == 0 {
		return "I don't have anything stored about you."
	}

	bot.log.Info("Purged user", zap.String("user_id", userID), zap.Int64("records", removed))
	return fmt.Sprintf("I have erased your birthday from %s.", pluralServers(removed))
}

func pluralServers(n int64) string {
	if n == 1 {
		return "1 server"
	}
	return fmt.Sprintf("%d servers", n)
}

// Help lists the commands available to the caller.
func (bot *Bot) Help(_ context.Context, i *discordgo.InteractionCreate) string {
	isOwner := bot.cfg.OwnerID != "" && i.Member.User.ID == bot.cfg.OwnerID
	isAdmin := discordutils.MemberIsBirthdayAdmin(bot.guild(i.GuildID), i.Member, bot.cfg.AdminRole, bot.cfg.OwnerID)
	return bot.helpReply(isAdmin, isOwner)
}

// changeAllowed enforces the cooldown between birthday changes.
func (bot *Bot) changeAllowed(userID, guildID string) (string, bool) {
	if bot.cfg.ChangeCooldown <= 0 {
		return "", true
	}

	bot.mu.Lock()
	lastChange, ok := bot.lastChange[userID+"/"+guildID]
	bot.mu.Unlock()
	if !ok {
		return "", true
	}

	now := bot.clock.Now()
	nextChange := lastChange.Add(bot.cfg.ChangeCooldown)
	if !now.Before(nextChange) {
		return "", true
	}

	return fmt.Sprintf(
		"You last changed your birthday on %s at %s. You can change it again %s.",
		lastChange.UTC().Format(time.DateOnly),
		lastChange.UTC().Format(time.TimeOnly),
		humanize.RelTime(nextChange, now, "ago", "from now"),
	), false
}

func (bot *Bot) recordChange(userID, guildID string) {
	if bot.cfg.ChangeCooldown <= 0 {
		return
	}
	bot.mu.Lock()
	defer bot.mu.Unlock()
	bot.lastChange[userID+"/"+guildID] = bot.clock.Now()
}
