package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cakeday/announce"
	"cakeday/config"
	"cakeday/dal"
	"cakeday/discordutils"
)

// Forcer sends a birthday greeting on demand.
type Forcer interface {
	ForceAnnounce(ctx context.Context, guildID, userID string) (announce.ForceReport, error)
}

// Bot represents an instance of the birthday discord bot.
type Bot struct {
	session            *discordgo.Session
	db                 *gorm.DB
	log                *zap.Logger
	cfg                config.Discord
	clock              clock.Clock
	forcer             Forcer
	registeredCommands []*discordgo.ApplicationCommand
	commandHandlers    map[string]commandHandler

	mu         sync.Mutex
	lastChange map[string]time.Time
}

// New creates a bot. The gateway connection is only made by Open.
func New(cfg config.Discord, db *gorm.DB, clk clock.Clock, log *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Annotate(err, "creating discord session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages

	bot := &Bot{
		session:    session,
		db:         db,
		log:        log,
		cfg:        cfg,
		clock:      clk,
		lastChange: make(map[string]time.Time),
	}

	bot.commandHandlers = map[string]commandHandler{
		"setbirthday":        bot.SetBirthday,
		"clearbirthday":      bot.ClearBirthday,
		"setbirthyear":       bot.SetBirthYear,
		"toggledms":          bot.ToggleDMs,
		"toggleannounce":     bot.ToggleAnnounce,
		"toggleshareage":     bot.ToggleShareAge,
		"birthday":           bot.Birthday,
		"nextbirthday":       bot.NextBirthday,
		"forgetme":           bot.ForgetMe,
		"birthdayhelp":       bot.Help,
		"setannouncechannel": bot.SetAnnounceChannel,
		"setcommandchannel":  bot.SetCommandChannel,
		"toggleeveryone":     bot.ToggleEveryone,
		"settimezone":        bot.SetTimezone,
		"setrole":            bot.SetRole,
		"clearuserbirthday":  bot.ClearUserBirthday,
		"forceannounce":      bot.ForceAnnounce,
	}

	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onGuildDelete)
	session.AddHandler(bot.onMemberRemove)
	session.AddHandler(bot.onInteraction)

	return bot, nil
}

// SetAnnouncer wires the announcer used by forceannounce.
func (bot *Bot) SetAnnouncer(forcer Forcer) {
	bot.forcer = forcer
}

// Open connects to the gateway and registers the slash commands.
func (bot *Bot) Open() error {
	if err := bot.session.Open(); err != nil {
		return errors.Annotate(err, "opening discord session")
	}
	if err := bot.registerCommands(); err != nil {
		bot.session.Close()
		return err
	}
	return nil
}

func (bot *Bot) registerCommands() error {
	for _, command := range bot.commands() {
		newCommand, err := bot.session.ApplicationCommandCreate(
			bot.session.State.User.ID,
			bot.cfg.GuildID,
			command,
		)
		if err != nil {
			return errors.Annotatef(err, "creating %s command", command.Name)
		}
		bot.registeredCommands = append(bot.registeredCommands, newCommand)
		bot.log.Debug("Created command", zap.String("command", command.Name))
	}
	bot.log.Info("Registered commands", zap.Int("count", len(bot.registeredCommands)))
	return nil
}

// Shutdown shuts down the bot cleanly.
func (bot *Bot) Shutdown() {
	bot.log.Info("Shutting down")

	for _, command := range bot.registeredCommands {
		err := bot.session.ApplicationCommandDelete(
			bot.session.State.User.ID,
			bot.cfg.GuildID,
			command.ID,
		)
		if err != nil {
			bot.log.Warn("Failed to delete command", zap.String("command", command.Name), zap.Error(err))
		} else {
			bot.log.Debug("Deleted command", zap.String("command", command.Name))
		}
	}

	if err := bot.session.Close(); err != nil {
		bot.log.Warn("Failed to close discord session", zap.Error(err))
	}
}

func (bot *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	bot.log.Info("Bot is up",
		zap.String("user", r.User.Username),
		zap.String("user_id", r.User.ID),
		zap.Int("guilds", len(r.Guilds)))
}

func (bot *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	bot.log.Info("Joined guild", zap.String("guild", g.Name), zap.String("guild_id", g.ID))
}

func (bot *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	bot.log.Info("Left guild", zap.String("guild_id", g.ID))
}

func (bot *Bot) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.User == nil {
		return
	}
	bot.memberLeft(context.Background(), m.GuildID, m.User.ID)
}

// memberLeft clears a departed member's record in that guild.
func (bot *Bot) memberLeft(ctx context.Context, guildID, userID string) {
	if !bot.cfg.CleanupOnLeave {
		return
	}

	log := bot.log.With(zap.String("guild_id", guildID), zap.String("user_id", userID))
	err := dal.ClearBirthday(ctx, userID, guildID, bot.db)
	switch {
	case err == nil:
		log.Info("Cleared birthday of departed member")
	case errors.Is(err, dal.ErrNotFound):
	default:
		log.Error("Failed to clear birthday of departed member", zap.Error(err))
	}
}

func (bot *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := strings.TrimPrefix(i.ApplicationCommandData().Name, bot.cfg.CommandPrefix)
	handler, ok := bot.commandHandlers[name]
	if !ok {
		return
	}

	discordutils.AckInteraction(i.Interaction, s, bot.log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply := bot.dispatch(ctx, name, i, handler)
	discordutils.SendFollowup(reply, i.Interaction, s, bot.log)
}

// dispatch applies the access rules of a command before running it.
func (bot *Bot) dispatch(ctx context.Context, name string, i *discordgo.InteractionCreate, handler commandHandler) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			bot.log.Error("Command panicked", zap.String("command", name), zap.Any("panic", r), zap.Stack("stack"))
			reply = replyGenericFailure
		}
	}()

	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return replyGuildOnly
	}

	userID := i.Member.User.ID
	isAdmin := discordutils.MemberIsBirthdayAdmin(bot.guild(i.GuildID), i.Member, bot.cfg.AdminRole, bot.cfg.OwnerID)

	switch accessFor(name) {
	case accessOwner:
		if bot.cfg.OwnerID == "" || userID != bot.cfg.OwnerID {
			return replyOwnerOnly
		}
	case accessAdmin:
		if !isAdmin {
			return replyNoPermission
		}
	case accessUser:
		if !isAdmin {
			if refusal, ok := bot.commandChannelGate(ctx, i.GuildID, i.ChannelID); !ok {
				return refusal
			}
		}
	}

	bot.log.Debug("Handling command",
		zap.String("command", name),
		zap.String("guild_id", i.GuildID),
		zap.String("user_id", userID))

	return handler(ctx, i)
}

// guild looks the guild up in the state cache first and asks the API if it
// is missing.
func (bot *Bot) guild(guildID string) *discordgo.Guild {
	if guild, err := bot.session.State.Guild(guildID); err == nil {
		return guild
	}
	guild, err := bot.session.Guild(guildID)
	if err != nil {
		bot.log.Warn("Failed to look up guild", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	return guild
}
