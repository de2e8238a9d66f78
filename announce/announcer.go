// Package announce sends birthday greetings. One pass greets everyone whose
// birthday falls on the current day, by DM on the UTC day and in each guild
// on that guild's local day. A ledger of sent greetings keeps repeated
// passes on the same day from greeting anyone twice.
package announce

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cakeday/birthday"
	"cakeday/config"
	"cakeday/dal"
	"cakeday/models"
)

// Announcer runs announcement passes against a Messenger.
type Announcer struct {
	db        *gorm.DB
	messenger Messenger
	clock     clock.Clock
	log       *zap.Logger
	metrics   *Collector
	interval  time.Duration
	retention time.Duration
}

// PassReport counts what a single pass did.
type PassReport struct {
	DirectMessages int
	GuildPosts     int
	Skipped        int
	Failures       int
}

// guildDay is a guild together with its settings and the local time of the
// pass.
type guildDay struct {
	id       string
	settings map[string]string
	local    time.Time
}

// New creates an Announcer.
func New(
	db *gorm.DB,
	messenger Messenger,
	clk clock.Clock,
	cfg config.Announce,
	log *zap.Logger,
) *Announcer {
	return &Announcer{
		db:        db,
		messenger: messenger,
		clock:     clk,
		log:       log,
		metrics:   NewMetricsCollector(),
		interval:  cfg.Interval,
		retention: cfg.LedgerRetention,
	}
}

// Metrics returns the announcer's prometheus collector.
func (a *Announcer) Metrics() *Collector {
	return a.metrics
}

// Run performs a pass straight away and then once per interval until ctx is
// cancelled. A pass that is in progress when ctx is cancelled is finished
// first.
func (a *Announcer) Run(ctx context.Context) {
	a.log.Info("Started announcer", zap.Duration("interval", a.interval))
	for {
		a.RunPass(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			a.log.Info("Stopped announcer")
			return
		case <-a.clock.After(a.interval):
		}
	}
}

// DueDate returns the MMDD key of the day at falls on in the guild's
// configured timezone.
func (a *Announcer) DueDate(ctx context.Context, guildID string, at time.Time) string {
	return birthday.DueDate(a.location(ctx, guildID), at)
}

func (a *Announcer) location(ctx context.Context, guildID string) *time.Location {
	name, err := dal.GetGuildSetting(ctx, guildID, models.SettingTimezone, a.db)
	if err != nil && !errors.Is(err, dal.ErrNotFound) {
		a.log.Warn("Failed to read timezone, using UTC", zap.String("guild_id", guildID), zap.Error(err))
	}
	return a.guildLocation(guildID, name)
}

// guildLocation resolves a guild's stored timezone, warning when a configured
// zone is unusable.
func (a *Announcer) guildLocation(guildID, name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := birthday.ParseTimezone(name)
	if err != nil {
		a.log.Warn("Invalid guild timezone, using UTC",
			zap.String("guild_id", guildID),
			zap.String("timezone", name),
			zap.Error(err))
		return time.UTC
	}
	return loc
}

// RunPass greets everyone who is due right now and has not been greeted yet
// today.
func (a *Announcer) RunPass(ctx context.Context) (report PassReport) {
	start := a.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			report.Failures++
			a.log.Error("Announcement pass panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		a.metrics.passes.Inc()
		a.metrics.passDuration.Observe(a.clock.Now().Sub(start).Seconds())
		a.log.Info("Finished announcement pass",
			zap.Int("direct_messages", report.DirectMessages),
			zap.Int("guild_posts", report.GuildPosts),
			zap.Int("skipped", report.Skipped),
			zap.Int("failures", report.Failures))
	}()

	utc := start.UTC()
	guilds := a.guildDays(ctx, start, &report)

	a.runUTCPhase(ctx, utc, guilds, &report)
	a.runLocalPhase(ctx, utc, guilds, &report)
	a.prune(ctx, utc)

	return report
}

func (a *Announcer) guildDays(ctx context.Context, now time.Time, report *PassReport) map[string]*guildDay {
	guilds := make(map[string]*guildDay)
	for _, guildID := range a.messenger.GuildIDs() {
		settings, err := dal.GuildSettings(ctx, guildID, a.db)
		if err != nil {
			report.Failures++
			a.log.Error("Failed to load guild settings", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		loc := a.guildLocation(guildID, settings[models.SettingTimezone])
		guilds[guildID] = &guildDay{
			id:       guildID,
			settings: settings,
			local:    now.In(loc),
		}
	}
	return guilds
}

// runUTCPhase sends DMs for everyone due on the UTC day and covers the
// guilds whose local day is the UTC day.
func (a *Announcer) runUTCPhase(ctx context.Context, utc time.Time, guilds map[string]*guildDay, report *PassReport) {
	records, err := dal.BirthdaysOn(ctx, birthday.DueKeys(utc), a.db)
	if err != nil {
		report.Failures++
		a.log.Error("Failed to load birthdays for UTC day", zap.Error(err))
		return
	}

	seen := make(map[string]bool)
	for _, record := range records {
		if record.ReceiveDM && !seen[record.UserID] {
			seen[record.UserID] = true
			a.greetByDM(ctx, record, utc, report)
		}

		guild, ok := guilds[record.GuildID]
		if ok && sameDay(guild.local, utc) {
			a.greetInGuild(ctx, guild, record, report)
		}
	}
}

// runLocalPhase covers the guilds whose local day differs from the UTC day.
func (a *Announcer) runLocalPhase(ctx context.Context, utc time.Time, guilds map[string]*guildDay, report *PassReport) {
	for _, guild := range guilds {
		if sameDay(guild.local, utc) {
			continue
		}

		records, err := dal.GuildBirthdaysOn(ctx, guild.id, birthday.DueKeys(guild.local), a.db)
		if err != nil {
			report.Failures++
			a.log.Error("Failed to load guild birthdays", zap.String("guild_id", guild.id), zap.Error(err))
			continue
		}
		for _, record := range records {
			a.greetInGuild(ctx, guild, record, report)
		}
	}
}

func (a *Announcer) greetByDM(ctx context.Context, record models.Birthday, utc time.Time, report *PassReport) {
	claim := models.Announcement{
		UserID: record.UserID,
		Kind:   models.AnnouncementDM,
		Day:    birthday.DayKey(utc),
	}
	a.deliver(ctx, claim, report, func() error {
		return a.messenger.DirectMessage(record.UserID, DirectText(record, utc))
	})
}

func (a *Announcer) greetInGuild(ctx context.Context, guild *guildDay, record models.Birthday, report *PassReport) {
	channelID := guild.settings[models.SettingAnnounceChannel]
	if !record.AnnounceInGuild || channelID == "" {
		report.Skipped++
		return
	}
	if !a.messenger.IsMember(guild.id, record.UserID) {
		report.Skipped++
		a.log.Debug("Skipping birthday of departed member",
			zap.String("guild_id", guild.id),
			zap.String("user_id", record.UserID))
		return
	}

	claim := models.Announcement{
		UserID:  record.UserID,
		GuildID: guild.id,
		Kind:    models.AnnouncementGuild,
		Day:     birthday.DayKey(guild.local),
	}
	a.deliver(ctx, claim, report, func() error {
		return a.messenger.ChannelMessage(channelID, GuildMessage(record, guild.settings, guild.local))
	})
}

// deliver claims the ledger entry, sends, and releases the claim again when
// sending fails so that the next pass retries.
func (a *Announcer) deliver(ctx context.Context, claim models.Announcement, report *PassReport, send func() error) {
	log := a.log.With(
		zap.String("user_id", claim.UserID),
		zap.String("guild_id", claim.GuildID),
		zap.String("kind", string(claim.Kind)),
		zap.String("day", claim.Day))

	claimed, err := dal.ClaimAnnouncement(ctx, claim, a.db)
	if err != nil {
		report.Failures++
		log.Error("Failed to claim announcement", zap.Error(err))
		return
	}
	if !claimed {
		report.Skipped++
		return
	}

	if err := send(); err != nil {
		report.Failures++
		a.metrics.failures.WithLabelValues(string(claim.Kind)).Inc()
		log.Warn("Failed to deliver birthday greeting", zap.Error(err))

		if err := dal.ReleaseAnnouncement(ctx, claim, a.db); err != nil {
			log.Error("Failed to release announcement claim", zap.Error(err))
		}
		return
	}

	a.metrics.sent.WithLabelValues(string(claim.Kind)).Inc()
	switch claim.Kind {
	case models.AnnouncementDM:
		report.DirectMessages++
	case models.AnnouncementGuild:
		report.GuildPosts++
	}
	log.Info("Delivered birthday greeting")
}

func (a *Announcer) prune(ctx context.Context, utc time.Time) {
	if a.retention <= 0 {
		return
	}
	cutoff := birthday.DayKey(utc.Add(-a.retention))
	removed, err := dal.PruneAnnouncements(ctx, cutoff, a.db)
	if err != nil {
		a.log.Error("Failed to prune announcement ledger", zap.Error(err))
		return
	}
	if removed > 0 {
		a.log.Debug("Pruned announcement ledger", zap.Int64("removed", removed), zap.String("before", cutoff))
	}
}

// ForceReport describes the outcome of ForceAnnounce.
type ForceReport struct {
	Created     bool
	DirectError error
	GuildError  error

	// DirectSkipped and GuildSkipped are set when the user turned that
	// channel off. Nothing is sent on a skipped channel.
	DirectSkipped bool
	GuildSkipped  bool
}

// ForceAnnounce greets a user right now regardless of date and ledger. A
// record dated today in the guild's timezone is created when the user has
// none. Channels the user opted out of are skipped.
func (a *Announcer) ForceAnnounce(ctx context.Context, guildID, userID string) (ForceReport, error) {
	var report ForceReport

	settings, err := dal.GuildSettings(ctx, guildID, a.db)
	if err != nil {
		return report, err
	}
	now := a.clock.Now().In(a.guildLocation(guildID, settings[models.SettingTimezone]))

	record, err := dal.GetBirthday(ctx, userID, guildID, a.db)
	if errors.Is(err, dal.ErrNotFound) {
		if err := dal.SetBirthday(ctx, userID, guildID, now.Format(birthday.KeyFormat), a.db); err != nil {
			return report, err
		}
		report.Created = true
		record, err = dal.GetBirthday(ctx, userID, guildID, a.db)
	}
	if err != nil {
		return report, err
	}

	if !record.ReceiveDM {
		report.DirectSkipped = true
	} else if err := a.messenger.DirectMessage(userID, DirectText(*record, now)); err != nil {
		report.DirectError = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		a.metrics.failures.WithLabelValues(string(models.AnnouncementDM)).Inc()
	} else {
		a.metrics.sent.WithLabelValues(string(models.AnnouncementDM)).Inc()
	}

	channelID := settings[models.SettingAnnounceChannel]
	if !record.AnnounceInGuild {
		report.GuildSkipped = true
	} else if channelID == "" {
		report.GuildError = errors.Annotate(ErrDeliveryFailed, "no announcement channel set")
	} else if err := a.messenger.ChannelMessage(channelID, GuildMessage(*record, settings, now)); err != nil {
		report.GuildError = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		a.metrics.failures.WithLabelValues(string(models.AnnouncementGuild)).Inc()
	} else {
		a.metrics.sent.WithLabelValues(string(models.AnnouncementGuild)).Inc()
	}

	a.log.Info("Forced birthday announcement",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Bool("created", report.Created),
		zap.Bool("dm_skipped", report.DirectSkipped),
		zap.Bool("guild_skipped", report.GuildSkipped),
		zap.NamedError("dm_error", report.DirectError),
		zap.NamedError("guild_error", report.GuildError))

	return report, nil
}

func sameDay(a, b time.Time) bool {
	return birthday.DayKey(a) == birthday.DayKey(b)
}
