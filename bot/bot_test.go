package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cakeday/announce"
	"cakeday/config"
	"cakeday/dal"
	"cakeday/models"
)

var testNow = time.Date(2026, time.October, 17, 15, 0, 0, 0, time.UTC)

type testBot struct {
	*Bot
	ctx   context.Context
	clock *testclock.Clock
}

func newTestBot(t *testing.T, configure ...func(*config.Discord)) *testBot {
	t.Helper()

	db, err := dal.Open(context.Background(), config.Database{
		Driver:         config.DriverSQLite,
		DSN:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:   1,
		ConnectRetries: 1,
		RetryDelay:     10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dal.Close(db) })

	cfg := config.Default().Discord
	cfg.Token = "test-token"
	cfg.OwnerID = "owner"
	for _, f := range configure {
		f(&cfg)
	}

	clk := testclock.NewClock(testNow)
	bot, err := New(cfg, db, clk, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, bot.session.State.GuildAdd(&discordgo.Guild{
		ID:      "g1",
		OwnerID: "guild-owner",
		Roles: []*discordgo.Role{
			{ID: "r-admin", Name: "Staff", Permissions: discordgo.PermissionAdministrator},
			{ID: "r-birthday", Name: "birthday"},
		},
	}))

	return &testBot{Bot: bot, ctx: context.Background(), clock: clk}
}

func interaction(name, userID, channelID string, roles []string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: channelID,
		Member:    &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    name,
			Options: options,
		},
	}}
}

func userOption(userID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  "user",
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: userID,
	}
}

type fakeForcer struct {
	report announce.ForceReport
	err    error
	calls  []string
}

func (f *fakeForcer) ForceAnnounce(_ context.Context, guildID, userID string) (announce.ForceReport, error) {
	f.calls = append(f.calls, guildID+"/"+userID)
	return f.report, f.err
}

func TestCommandTable(t *testing.T) {
	b := newTestBot(t, func(cfg *config.Discord) { cfg.CommandPrefix = "bday-" })

	defined := make(map[string]bool)
	for _, command := range b.commands() {
		require.True(t, strings.HasPrefix(command.Name, "bday-"), command.Name)
		name := strings.TrimPrefix(command.Name, "bday-")
		defined[name] = true

		assert.Contains(t, b.commandHandlers, name, "no handler for %s", name)
		require.NotNil(t, command.DMPermission)
		assert.False(t, *command.DMPermission)
		assert.LessOrEqual(t, len(command.Description), 100, name)
	}
	for name := range b.commandHandlers {
		assert.True(t, defined[name], "no definition for %s", name)
	}

	// The shared definitions must not be modified by prefixing.
	assert.Equal(t, "setbirthday", botCommands[0].Name)
}

func TestSetBirthdayReply(t *testing.T) {
	b := newTestBot(t)

	reply, saved := b.setBirthdayReply(b.ctx, "u1", "g1", "31/01")
	assert.True(t, saved)
	assert.Contains(t, reply, "January 31")

	record, err := dal.GetBirthday(b.ctx, "u1", "g1", b.db)
	require.NoError(t, err)
	assert.Equal(t, "0131", record.Birthday)

	reply, saved = b.setBirthdayReply(b.ctx, "u1", "g1", "1332")
	assert.False(t, saved)
	assert.Equal(t, replyInvalidBirthday, reply)

	record, err = dal.GetBirthday(b.ctx, "u1", "g1", b.db)
	require.NoError(t, err)
	assert.Equal(t, "0131", record.Birthday, "invalid input must not write")
}

func TestChangeCooldown(t *testing.T) {
	b := newTestBot(t, func(cfg *config.Discord) { cfg.ChangeCooldown = 24 * time.Hour })

	_, saved := b.setBirthdayReply(b.ctx, "u1", "g1", "0314")
	require.True(t, saved)

	reply, saved := b.setBirthdayReply(b.ctx, "u1", "g1", "0315")
	assert.False(t, saved)
	assert.Contains(t, reply, "2026-10-17")
	assert.Contains(t, reply, "from now")

	// Other guilds are not affected.
	_, saved = b.setBirthdayReply(b.ctx, "u1", "g2", "0315")
	assert.True(t, saved)

	b.clock.Advance(25 * time.Hour)
	_, saved = b.setBirthdayReply(b.ctx, "u1", "g1", "0315")
	assert.True(t, saved)
}

func TestClearBirthdayReply(t *testing.T) {
	b := newTestBot(t)

	assert.Equal(t, "You don't have a birthday set in this server.", b.clearBirthdayReply(b.ctx, "u1", "g1"))

	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))
	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g2", "0314", b.db))
	assert.Equal(t, "Your birthday has been cleared from this server.", b.clearBirthdayReply(b.ctx, "u1", "g1"))

	_, err := dal.GetBirthday(b.ctx, "u1", "g2", b.db)
	assert.NoError(t, err)
}

func TestSetBirthYearReply(t *testing.T) {
	b := newTestBot(t)

	reply, saved := b.setBirthYearReply(b.ctx, "u1", "g1", "1990")
	assert.False(t, saved)
	assert.Equal(t, "Please set your birthday first using `/setbirthday`.", reply)

	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))

	reply, saved = b.setBirthYearReply(b.ctx, "u1", "g1", "2027")
	assert.False(t, saved)
	assert.Equal(t, "Invalid birth year. Please provide a valid year.", reply)

	reply, saved = b.setBirthYearReply(b.ctx, "u1", "g1", "1990")
	assert.True(t, saved)
	assert.Contains(t, reply, "1990")

	record, err := dal.GetBirthday(b.ctx, "u1", "g1", b.db)
	require.NoError(t, err)
	require.NotNil(t, record.BirthYear)
	assert.Equal(t, 1990, *record.BirthYear)
}

func TestToggleReply(t *testing.T) {
	b := newTestBot(t)

	assert.Equal(t, "Please set your birthday first using `/setbirthday`.",
		b.toggleReply(b.ctx, "u1", "g1", models.ReceiveDM))

	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))

	assert.Equal(t, "Birthday DMs are now disabled.", b.toggleReply(b.ctx, "u1", "g1", models.ReceiveDM))
	assert.Equal(t, "Birthday DMs are now enabled.", b.toggleReply(b.ctx, "u1", "g1", models.ReceiveDM))
	assert.Equal(t, "Server birthday announcements are now disabled.",
		b.toggleReply(b.ctx, "u1", "g1", models.AnnounceInGuild))

	assert.Equal(t, "Please set your birth year first using `/setbirthyear`.",
		b.toggleReply(b.ctx, "u1", "g1", models.ShareAge))

	require.NoError(t, dal.SetBirthYear(b.ctx, "u1", "g1", 1990, b.db))
	assert.Equal(t, "Age sharing in birthday announcements is now enabled.",
		b.toggleReply(b.ctx, "u1", "g1", models.ShareAge))
}

func TestBirthdayReply(t *testing.T) {
	b := newTestBot(t)

	assert.Contains(t, b.birthdayReply(b.ctx, "g1", "u1", true), "haven't registered")
	assert.Equal(t, "<@u2> hasn't registered their birthday with me yet.", b.birthdayReply(b.ctx, "g1", "u2", false))

	require.NoError(t, dal.SetBirthday(b.ctx, "u2", "g1", "1225", b.db))
	assert.Equal(t, "I've got <@u2>'s birthday down as December 25.", b.birthdayReply(b.ctx, "g1", "u2", false))
	assert.Equal(t,
		"I've got <@u2>'s birthday down as December 25. Server announcements are enabled and birthday DMs are enabled.",
		b.birthdayReply(b.ctx, "g1", "u2", true))
}

func TestNextBirthdayReply(t *testing.T) {
	b := newTestBot(t)

	assert.Equal(t, "Nobody in this server has registered a birthday yet.", b.nextBirthdayReply(b.ctx, "g1"))

	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0101", b.db))
	require.NoError(t, dal.SetBirthday(b.ctx, "u3", "g1", "1020", b.db))
	require.NoError(t, dal.SetBirthday(b.ctx, "u2", "g1", "1020", b.db))
	require.NoError(t, dal.SetBirthday(b.ctx, "u4", "g2", "1018", b.db))

	assert.Equal(t, "The next birthday is <@u2>, <@u3> on October 20 (3 days from now).", b.nextBirthdayReply(b.ctx, "g1"))

	require.NoError(t, dal.SetBirthday(b.ctx, "u5", "g1", "1017", b.db))
	assert.Equal(t, "The next birthday is <@u5> on October 17 (today).", b.nextBirthdayReply(b.ctx, "g1"))

	// In Kiritimati it is already October 18, so u5's birthday has passed.
	require.NoError(t, dal.SetGuildSetting(b.ctx, "g1", models.SettingTimezone, "Pacific/Kiritimati", b.db))
	assert.Equal(t, "The next birthday is <@u2>, <@u3> on October 20 (2 days from now).", b.nextBirthdayReply(b.ctx, "g1"))
}

func TestForgetMeReply(t *testing.T) {
	b := newTestBot(t)

	assert.Equal(t, "I don't have anything stored about you.", b.forgetMeReply(b.ctx, "u1"))

	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))
	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g2", "0314", b.db))
	assert.Equal(t, "I have erased your birthday from 2 servers.", b.forgetMeReply(b.ctx, "u1"))

	_, err := dal.GetBirthday(b.ctx, "u1", "g2", b.db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))
}

func TestAdminReplies(t *testing.T) {
	b := newTestBot(t)

	assert.Equal(t, "Birthday announcements will now be sent to <#c1>.",
		b.setChannelReply(b.ctx, "g1", models.SettingAnnounceChannel, "c1", "Birthday announcements will now be sent to <#%s>."))
	value, err := dal.GetGuildSetting(b.ctx, "g1", models.SettingAnnounceChannel, b.db)
	require.NoError(t, err)
	assert.Equal(t, "c1", value)

	assert.Equal(t, "@everyone mentions in birthday announcements are now enabled.", b.toggleEveryoneReply(b.ctx, "g1"))
	assert.Equal(t, "@everyone mentions in birthday announcements are now disabled.", b.toggleEveryoneReply(b.ctx, "g1"))

	assert.Contains(t, b.setTimezoneReply(b.ctx, "g1", "Mars/Base"), "Invalid timezone")
	_, err = dal.GetGuildSetting(b.ctx, "g1", models.SettingTimezone, b.db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))

	assert.Equal(t, "Server timezone has been set to America/New_York.", b.setTimezoneReply(b.ctx, "g1", "America/New_York"))

	assert.Equal(t, "Server timezone has been set to Asia/Tokyo.", b.setTimezoneReply(b.ctx, "g1", "asia/tokyo"))
	value, err = dal.GetGuildSetting(b.ctx, "g1", models.SettingTimezone, b.db)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", value)
}

func TestSetRoleReply(t *testing.T) {
	b := newTestBot(t)

	admin := &discordgo.Role{ID: "r-admin", Permissions: discordgo.PermissionAdministrator}
	assert.Equal(t, "That role allows admin permissions, that's a bad idea.", b.setRoleReply(b.ctx, "g1", admin))

	assert.Equal(t, "Birthday announcements will now ping <@&r1>.", b.setRoleReply(b.ctx, "g1", &discordgo.Role{ID: "r1"}))
	settings, err := dal.GuildSettings(b.ctx, "g1", b.db)
	require.NoError(t, err)
	assert.Equal(t, "r1", settings[models.SettingRoleID])
	assert.Equal(t, models.SettingOn, settings[models.SettingRoleMention])

	assert.Equal(t, "Birthday announcements will no longer ping a role.", b.setRoleReply(b.ctx, "g1", nil))
	settings, err = dal.GuildSettings(b.ctx, "g1", b.db)
	require.NoError(t, err)
	assert.Equal(t, models.SettingOff, settings[models.SettingRoleMention])
}

func TestClearUserBirthdayReply(t *testing.T) {
	b := newTestBot(t)

	assert.Equal(t, "<@u1> doesn't have a birthday set in this server.", b.clearUserBirthdayReply(b.ctx, "g1", "u1"))

	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))
	assert.Equal(t, "<@u1>'s birthday has been cleared from this server.", b.clearUserBirthdayReply(b.ctx, "g1", "u1"))
}

func TestForceAnnounceReply(t *testing.T) {
	b := newTestBot(t)
	assert.Equal(t, "Announcements are not running.", b.forceAnnounceReply(b.ctx, "g1", "u1"))

	forcer := &fakeForcer{report: announce.ForceReport{
		Created:    true,
		GuildError: errors.New("no announcement channel set: delivery failed"),
	}}
	b.SetAnnouncer(forcer)

	reply := b.forceAnnounceReply(b.ctx, "g1", "u1")
	assert.Equal(t, []string{"g1/u1"}, forcer.calls)
	assert.Equal(t, "Force announcement results for <@u1>:\n"+
		"- Created a birthday record for today\n"+
		"- DM: ✅ sent\n"+
		"- Server announcement: ❌ no announcement channel set: delivery failed", reply)

	forcer.report = announce.ForceReport{DirectSkipped: true, GuildSkipped: true}
	assert.Equal(t, "Force announcement results for <@u1>:\n"+
		"- DM: ⏭️ skipped (user setting)\n"+
		"- Server announcement: ⏭️ skipped (user setting)", b.forceAnnounceReply(b.ctx, "g1", "u1"))

	forcer.err = dal.ErrStorageUnavailable
	assert.Equal(t, "Failed to prepare a birthday record for <@u1>.", b.forceAnnounceReply(b.ctx, "g1", "u1"))
}

func TestDispatchAccess(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, dal.SetGuildSetting(b.ctx, "g1", models.SettingCommandChannel, "c-bday", b.db))

	run := func(i *discordgo.InteractionCreate) string {
		name := i.ApplicationCommandData().Name
		return b.dispatch(b.ctx, name, i, b.commandHandlers[name])
	}

	// User commands outside the command channel are refused for members.
	assert.Equal(t, "Please use <#c-bday> for birthday commands.",
		run(interaction("birthday", "u1", "c-general", nil)))
	assert.Contains(t, run(interaction("birthday", "u1", "c-bday", nil)), "haven't registered")

	// Admins may use them anywhere.
	assert.Contains(t, run(interaction("birthday", "u1", "c-general", []string{"r-birthday"})), "haven't registered")

	// Admin commands.
	assert.Equal(t, replyNoPermission, run(interaction("toggleeveryone", "u1", "c-bday", nil)))
	assert.Contains(t, run(interaction("toggleeveryone", "u1", "c-general", []string{"r-admin"})), "now enabled")
	assert.Contains(t, run(interaction("toggleeveryone", "guild-owner", "c-general", nil)), "now disabled")

	// Owner commands.
	assert.Equal(t, replyOwnerOnly, run(interaction("forceannounce", "u1", "c-bday", []string{"r-admin"}, userOption("u2"))))
	assert.Equal(t, "Announcements are not running.",
		run(interaction("forceannounce", "owner", "c-general", nil, userOption("u2"))))

	// Help ignores the command channel.
	help := run(interaction("birthdayhelp", "u1", "c-general", nil))
	assert.Contains(t, help, "`/setbirthday`")
	assert.NotContains(t, help, "Admin Commands")

	// Outside a guild.
	dm := interaction("birthday", "u1", "c-dm", nil)
	dm.GuildID = ""
	dm.Member = nil
	assert.Equal(t, replyGuildOnly, run(dm))
}

func TestHelpReply(t *testing.T) {
	b := newTestBot(t, func(cfg *config.Discord) { cfg.CommandPrefix = "bday-" })

	user := b.helpReply(false, false)
	assert.Contains(t, user, "`/bday-setbirthday`")
	assert.NotContains(t, user, "`/bday-settimezone`")
	assert.NotContains(t, user, "`/bday-forceannounce`")

	admin := b.helpReply(true, false)
	assert.Contains(t, admin, "`/bday-settimezone`")
	assert.Contains(t, admin, "'birthday' role")
	assert.NotContains(t, admin, "`/bday-forceannounce`")

	owner := b.helpReply(true, true)
	assert.Contains(t, owner, "`/bday-forceannounce`")
}

func TestMemberLeft(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))
	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g2", "0314", b.db))

	b.memberLeft(b.ctx, "g1", "u1")
	b.memberLeft(b.ctx, "g1", "nobody")

	_, err := dal.GetBirthday(b.ctx, "u1", "g1", b.db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))
	_, err = dal.GetBirthday(b.ctx, "u1", "g2", b.db)
	assert.NoError(t, err)
}

func TestMemberLeftKeepsRecordWhenDisabled(t *testing.T) {
	b := newTestBot(t, func(cfg *config.Discord) { cfg.CleanupOnLeave = false })
	require.NoError(t, dal.SetBirthday(b.ctx, "u1", "g1", "0314", b.db))

	b.memberLeft(b.ctx, "g1", "u1")

	_, err := dal.GetBirthday(b.ctx, "u1", "g1", b.db)
	assert.NoError(t, err)
}

func TestGuildIDs(t *testing.T) {
	b := newTestBot(t)
	assert.Equal(t, []string{"g1"}, b.GuildIDs())
}
