package bot

import (
	"fmt"
	"strings"
)

const (
	replyGuildOnly       = "Birthday commands only work inside a server."
	replyNoPermission    = "You don't have permission to use this command."
	replyOwnerOnly       = "This command is restricted to the bot owner only."
	replyGenericFailure  = "Something went wrong on my end. Please try again later."
	replyInvalidBirthday = "Invalid birthday format. Please use MMDD or DDMM format (e.g., 1225 for December 25)."
)

func (bot *Bot) cmd(name string) string {
	return "`/" + bot.cfg.CommandPrefix + name + "`"
}

func (bot *Bot) privacyWarning() string {
	return fmt.Sprintf(`⚠️ **Privacy Warning**:
You are about to share personal information with this bot. This data is stored in a database but remember:
- Sharing your birthday can potentially reveal personal information
- Server birthday announcements can be seen by all server members
- You can disable announcements at any time using %s and %s
- You can remove everything I store about you with %s

Your data will only be used for birthday announcements as configured by your preferences.`,
		bot.cmd("toggleannounce"), bot.cmd("toggledms"), bot.cmd("forgetme"))
}

func (bot *Bot) birthYearWarning() string {
	return bot.privacyWarning() + fmt.Sprintf(
		"\nAdding your birth year allows the bot to calculate your age. Use %s to control whether your age is shared in birthday announcements.",
		bot.cmd("toggleshareage"))
}

func (bot *Bot) privacyFallback(userID string) string {
	return fmt.Sprintf(
		"⚠️ **<@%s>**: I couldn't send you a privacy warning via DM because you have DMs disabled.\n\n"+
			"Please note that by setting your birthday, you're sharing personal information. "+
			"You can disable announcements at any time using %s and %s.",
		userID, bot.cmd("toggleannounce"), bot.cmd("toggledms"))
}

func (bot *Bot) birthYearFallback(userID string) string {
	return fmt.Sprintf(
		"⚠️ **<@%s>**: I couldn't send you a privacy warning via DM because you have DMs disabled.\n\n"+
			"Please note that adding your birth year allows the bot to calculate your age. "+
			"You can control whether your age is shared using %s.",
		userID, bot.cmd("toggleshareage"))
}

func (bot *Bot) helpReply(isAdmin, isOwner bool) string {
	var b strings.Builder

	b.WriteString("🎂 **Birthday Bot Commands**\n")
	for _, command := range botCommands {
		if accessFor(command.Name) == accessUser || command.Name == "birthdayhelp" {
			fmt.Fprintf(&b, "%s - %s\n", bot.cmd(command.Name), command.Description)
		}
	}

	if isAdmin {
		b.WriteString("\n**Admin Commands**\n")
		for _, command := range botCommands {
			if accessFor(command.Name) == accessAdmin {
				fmt.Fprintf(&b, "%s - %s\n", bot.cmd(command.Name), command.Description)
			}
		}
		fmt.Fprintf(&b, "\nAdmin commands can be used by administrators or members with the '%s' role.\n", bot.cfg.AdminRole)
	}

	if isOwner {
		b.WriteString("\n**Bot Owner Commands**\n")
		for _, command := range botCommands {
			if accessFor(command.Name) == accessOwner {
				fmt.Fprintf(&b, "%s - %s\n", bot.cmd(command.Name), command.Description)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
