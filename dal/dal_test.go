package dal_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cakeday/config"
	"cakeday/dal"
	"cakeday/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := dal.Open(context.Background(), config.Database{
		Driver:         config.DriverSQLite,
		DSN:            filepath.Join(t.TempDir(), "data", "test.db"),
		MaxOpenConns:   1,
		ConnectRetries: 1,
		RetryDelay:     10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err, "Failed to open test database")

	t.Cleanup(func() {
		require.NoError(t, dal.Close(db))
	})
	return db
}

func TestSetBirthdayPreservesOtherFields(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, dal.SetBirthday(ctx, "u1", "g1", "0314", db))
	require.NoError(t, dal.SetBirthYear(ctx, "u1", "g1", 1990, db))
	_, err := dal.ToggleUserSetting(ctx, "u1", "g1", models.ShareAge, nil, db)
	require.NoError(t, err)
	_, err = dal.ToggleUserSetting(ctx, "u1", "g1", models.ReceiveDM, nil, db)
	require.NoError(t, err)

	require.NoError(t, dal.SetBirthday(ctx, "u1", "g1", "1225", db))

	record, err := dal.GetBirthday(ctx, "u1", "g1", db)
	require.NoError(t, err)
	assert.Equal(t, "1225", record.Birthday)
	require.NotNil(t, record.BirthYear)
	assert.Equal(t, 1990, *record.BirthYear)
	assert.True(t, record.ShareAge)
	assert.False(t, record.ReceiveDM)
	assert.True(t, record.AnnounceInGuild)
}

func TestGetBirthday(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := dal.GetBirthday(ctx, "u1", "g1", db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))

	require.NoError(t, dal.SetBirthday(ctx, "u1", "g1", "0101", db))
	record, err := dal.GetBirthday(ctx, "u1", "g1", db)
	require.NoError(t, err)

	assert.Nil(t, record.BirthYear)
	assert.True(t, record.AnnounceInGuild)
	assert.True(t, record.ReceiveDM)
	assert.False(t, record.ShareAge)
}

func TestClearBirthdayIsScopedToGuild(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, dal.SetBirthday(ctx, "u1", "gA", "0314", db))
	require.NoError(t, dal.SetBirthday(ctx, "u1", "gB", "0314", db))

	require.NoError(t, dal.ClearBirthday(ctx, "u1", "gA", db))

	_, err := dal.GetBirthday(ctx, "u1", "gA", db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))
	_, err = dal.GetBirthday(ctx, "u1", "gB", db)
	assert.NoError(t, err)

	err = dal.ClearBirthday(ctx, "u1", "gA", db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))
}

func TestPurgeUser(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, dal.SetBirthday(ctx, "u1", "gA", "0314", db))
	require.NoError(t, dal.SetBirthday(ctx, "u1", "gB", "0314", db))
	require.NoError(t, dal.SetBirthday(ctx, "u2", "gA", "0314", db))
	_, err := dal.ClaimAnnouncement(ctx, models.Announcement{
		UserID: "u1", Kind: models.AnnouncementDM, Day: "2026-03-14",
	}, db)
	require.NoError(t, err)

	removed, err := dal.PurgeUser(ctx, "u1", db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	records, err := dal.BirthdaysOn(ctx, []string{"0314"}, db)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u2", records[0].UserID)

	claimed, err := dal.ClaimAnnouncement(ctx, models.Announcement{
		UserID: "u1", Kind: models.AnnouncementDM, Day: "2026-03-14",
	}, db)
	require.NoError(t, err)
	assert.True(t, claimed, "purge should forget previous announcements")
}

func TestSetBirthYearRequiresRecord(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	err := dal.SetBirthYear(ctx, "u1", "g1", 1990, db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))
}

func TestToggleUserSetting(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := dal.ToggleUserSetting(ctx, "u1", "g1", models.ReceiveDM, nil, db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))

	_, err = dal.GetBirthday(ctx, "u1", "g1", db)
	assert.True(t, errors.Is(err, dal.ErrNotFound), "toggle must not create a record")

	require.NoError(t, dal.SetBirthday(ctx, "u1", "g1", "0314", db))

	enabled, err := dal.ToggleUserSetting(ctx, "u1", "g1", models.ReceiveDM, nil, db)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = dal.ToggleUserSetting(ctx, "u1", "g1", models.ReceiveDM, nil, db)
	require.NoError(t, err)
	assert.True(t, enabled)

	off := false
	enabled, err = dal.ToggleUserSetting(ctx, "u1", "g1", models.AnnounceInGuild, &off, db)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = dal.ToggleUserSetting(ctx, "u1", "g1", models.AnnounceInGuild, &off, db)
	require.NoError(t, err)
	assert.False(t, enabled, "explicit value is set, not flipped")

	record, err := dal.GetBirthday(ctx, "u1", "g1", db)
	require.NoError(t, err)
	assert.False(t, record.AnnounceInGuild)
	assert.True(t, record.ReceiveDM)

	_, err = dal.ToggleUserSetting(ctx, "u1", "g1", models.UserSetting("birthday"), nil, db)
	assert.Error(t, err)
}

func TestBirthdaysOn(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, dal.SetBirthday(ctx, "u1", "gA", "0228", db))
	require.NoError(t, dal.SetBirthday(ctx, "u2", "gA", "0229", db))
	require.NoError(t, dal.SetBirthday(ctx, "u3", "gB", "0228", db))
	require.NoError(t, dal.SetBirthday(ctx, "u4", "gB", "0301", db))

	records, err := dal.BirthdaysOn(ctx, []string{"0228", "0229"}, db)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = dal.GuildBirthdaysOn(ctx, "gB", []string{"0228", "0229"}, db)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u3", records[0].UserID)

	records, err = dal.GuildBirthdays(ctx, "gA", db)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0228", records[0].Birthday)
	assert.Equal(t, "0229", records[1].Birthday)
}

func TestGuildSettings(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := dal.GetGuildSetting(ctx, "g1", models.SettingTimezone, db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))

	require.NoError(t, dal.SetGuildSetting(ctx, "g1", models.SettingTimezone, "Asia/Tokyo", db))
	require.NoError(t, dal.SetGuildSetting(ctx, "g1", models.SettingTimezone, "Europe/Paris", db))
	require.NoError(t, dal.SetGuildSetting(ctx, "g1", models.SettingAnnounceChannel, "c1", db))
	require.NoError(t, dal.SetGuildSetting(ctx, "g2", models.SettingAnnounceChannel, "c2", db))

	value, err := dal.GetGuildSetting(ctx, "g1", models.SettingTimezone, db)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", value)

	settings, err := dal.GuildSettings(ctx, "g1", db)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		models.SettingTimezone:        "Europe/Paris",
		models.SettingAnnounceChannel: "c1",
	}, settings)

	require.NoError(t, dal.DeleteGuildSetting(ctx, "g1", models.SettingTimezone, db))
	_, err = dal.GetGuildSetting(ctx, "g1", models.SettingTimezone, db)
	assert.True(t, errors.Is(err, dal.ErrNotFound))
}

func TestToggleGuildSetting(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	enabled, err := dal.ToggleGuildSetting(ctx, "g1", models.SettingMentionEveryone, db)
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = dal.ToggleGuildSetting(ctx, "g1", models.SettingMentionEveryone, db)
	require.NoError(t, err)
	assert.False(t, enabled)

	value, err := dal.GetGuildSetting(ctx, "g1", models.SettingMentionEveryone, db)
	require.NoError(t, err)
	assert.Equal(t, models.SettingOff, value)
}

func TestAnnouncementLedger(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	claim := models.Announcement{UserID: "u1", GuildID: "g1", Kind: models.AnnouncementGuild, Day: "2026-03-14"}

	claimed, err := dal.ClaimAnnouncement(ctx, claim, db)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = dal.ClaimAnnouncement(ctx, claim, db)
	require.NoError(t, err)
	assert.False(t, claimed)

	dm := models.Announcement{UserID: "u1", Kind: models.AnnouncementDM, Day: "2026-03-14"}
	claimed, err = dal.ClaimAnnouncement(ctx, dm, db)
	require.NoError(t, err)
	assert.True(t, claimed, "dm and guild claims are independent")

	require.NoError(t, dal.ReleaseAnnouncement(ctx, claim, db))
	claimed, err = dal.ClaimAnnouncement(ctx, claim, db)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = dal.ClaimAnnouncement(ctx, dm, db)
	require.NoError(t, err)
	assert.False(t, claimed, "releasing the guild claim leaves the dm claim")
}

func TestPruneAnnouncements(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	for _, day := range []string{"2026-03-01", "2026-03-07", "2026-03-14"} {
		_, err := dal.ClaimAnnouncement(ctx, models.Announcement{
			UserID: "u1", GuildID: "g1", Kind: models.AnnouncementGuild, Day: day,
		}, db)
		require.NoError(t, err)
	}

	removed, err := dal.PruneAnnouncements(ctx, "2026-03-07", db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	claimed, err := dal.ClaimAnnouncement(ctx, models.Announcement{
		UserID: "u1", GuildID: "g1", Kind: models.AnnouncementGuild, Day: "2026-03-07",
	}, db)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := dal.Open(context.Background(), config.Database{Driver: "oracle"}, zap.NewNop())
	assert.True(t, errors.Is(err, config.ErrUnknownDriver))
}
