package config

import (
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys. Sections are separated by a double underscore, so
// CAKEDAY_DISCORD__OWNER_ID sets discord.owner_id.
const EnvPrefix = "CAKEDAY_"

const (
	ErrMissingToken  = errors.ConstError("discord.token must be provided")
	ErrUnknownDriver = errors.ConstError("unknown database driver")
	ErrBadInterval   = errors.ConstError("announce.interval must be positive")
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the whole bot configuration.
type Config struct {
	Discord  Discord  `koanf:"discord"`
	Database Database `koanf:"database"`
	Announce Announce `koanf:"announce"`
	Log      Log      `koanf:"log"`
	HTTP     HTTP     `koanf:"http"`
}

// Discord holds gateway credentials and command options.
type Discord struct {
	Token          string `koanf:"token"`
	GuildID        string `koanf:"guild_id"` // register commands in one guild only; empty means global
	OwnerID        string `koanf:"owner_id"`
	CommandPrefix  string `koanf:"command_prefix"`
	AdminRole      string `koanf:"admin_role"`
	CleanupOnLeave bool   `koanf:"cleanup_on_leave"`

	// ChangeCooldown is the minimum time between two birthday changes by
	// the same member. Zero disables it.
	ChangeCooldown time.Duration `koanf:"change_cooldown"`
}

// Database selects and tunes the storage engine.
type Database struct {
	Driver         string        `koanf:"driver"`
	DSN            string        `koanf:"dsn"`
	MaxOpenConns   int           `koanf:"max_open_conns"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
}

// Announce controls the birthday check loop.
type Announce struct {
	Interval        time.Duration `koanf:"interval"`
	LedgerRetention time.Duration `koanf:"ledger_retention"`
}

type Log struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

type HTTP struct {
	Addr string `koanf:"addr"`
}

// Default returns the configuration used for anything not set explicitly.
func Default() Config {
	return Config{
		Discord: Discord{
			AdminRole:      "birthday",
			CleanupOnLeave: true,
		},
		Database: Database{
			Driver:         DriverSQLite,
			DSN:            "cakeday.db",
			ConnectRetries: 5,
			RetryDelay:     5 * time.Second,
		},
		Announce: Announce{
			Interval:        time.Hour,
			LedgerRetention: 7 * 24 * time.Hour,
		},
		Log: Log{
			Level:    "info",
			Encoding: "json",
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
	}
}

// Load reads the TOML file at path, if it exists, then applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, errors.Annotatef(err, "loading %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Annotatef(err, "reading %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Annotate(err, "loading environment")
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Annotate(err, "decoding config")
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
		if cfg.Database.Driver == DriverSQLite {
			cfg.Database.MaxOpenConns = 1
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the bot cannot run without.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return ErrMissingToken
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.Annotatef(ErrUnknownDriver, "%q", c.Database.Driver)
	}
	if c.Announce.Interval <= 0 {
		return ErrBadInterval
	}
	return nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
