// Package config loads the bot settings from a TOML file, with secrets
// overridable from the environment. Settings are validated once at load;
// anything invalid is fatal at startup. Tunables can be re-read at
// runtime through Manager.Reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "10m" or "45s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	DiscordToken    string `toml:"discord-token" env:"DISCORD_TOKEN"`
	BotName         string `toml:"bot-name"`
	CollectibleName string `toml:"collectible-name"`
	DatabasePath    string `toml:"database-path" env:"DATABASE_PATH"`
	ShardCount      int    `toml:"shard-count"`
	ShardId         int    `toml:"shard-id"`

	Spawn      Spawn      `toml:"spawn"`
	Catch      Catch      `toml:"catch"`
	Trade      Trade      `toml:"trade"`
	Promocodes Promocodes `toml:"promocodes"`
	Prometheus Prometheus `toml:"prometheus"`
}

// Spawn is the trigger policy: a channel spawns once it has seen
// message-threshold messages and a jittered interval has elapsed since
// its previous spawn. Channels lists the per-guild spawn allowlist.
type Spawn struct {
	MessageThreshold int                 `toml:"message-threshold"`
	IntervalMin      Duration            `toml:"interval-min"`
	IntervalMax      Duration            `toml:"interval-max"`
	PostRetries      int                 `toml:"post-retries"`
	SweepEvery       Duration            `toml:"sweep-every"`
	Channels         map[string][]string `toml:"channels"`
}

type Catch struct {
	Expiry   Duration `toml:"expiry"`
	Cooldown Duration `toml:"cooldown"`

	SpawnMsgs  []string `toml:"spawn-msgs"`
	CaughtMsgs []string `toml:"caught-msgs"`
	WrongMsgs  []string `toml:"wrong-msgs"`
	SlowMsgs   []string `toml:"slow-msgs"`
}

type Trade struct {
	Timeout    Duration `toml:"timeout"`
	AllowGifts bool     `toml:"allow-gifts"`
	SweepEvery Duration `toml:"sweep-every"`
}

type Promocodes struct {
	Enabled bool `toml:"enabled"`
}

type Prometheus struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// Load reads, overrides and validates the configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		BotName:         "Nationdex",
		CollectibleName: "countryball",
		DatabasePath:    "data/nationdex.db",
		ShardCount:      1,
		Spawn: Spawn{
			MessageThreshold: 20,
			IntervalMin:      Duration{40 * time.Minute},
			IntervalMax:      Duration{55 * time.Minute},
			PostRetries:      3,
			SweepEvery:       Duration{30 * time.Second},
		},
		Catch: Catch{
			Expiry:     Duration{10 * time.Minute},
			Cooldown:   Duration{30 * time.Second},
			SpawnMsgs:  []string{"A wild {collectible} appeared!"},
			CaughtMsgs: []string{"{user} You caught **{ball}**!"},
			WrongMsgs:  []string{"{user} Wrong name!"},
			SlowMsgs:   []string{"{user} Sorry, this {collectible} was caught already!"},
		},
		Trade: Trade{
			Timeout:    Duration{15 * time.Minute},
			AllowGifts: true,
			SweepEvery: Duration{time.Minute},
		},
		Promocodes: Promocodes{Enabled: true},
		Prometheus: Prometheus{Host: "0.0.0.0", Port: 15260},
	}
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("discord-token is required (config or DISCORD_TOKEN)")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database-path is required")
	}
	if c.Spawn.MessageThreshold < 1 {
		return fmt.Errorf("spawn.message-threshold must be at least 1, got %d", c.Spawn.MessageThreshold)
	}
	if c.Spawn.IntervalMin.Duration < 0 || c.Spawn.IntervalMax.Duration < c.Spawn.IntervalMin.Duration {
		return fmt.Errorf("spawn interval range %s..%s is invalid",
			c.Spawn.IntervalMin.Duration, c.Spawn.IntervalMax.Duration)
	}
	if c.Spawn.PostRetries < 1 {
		return fmt.Errorf("spawn.post-retries must be at least 1, got %d", c.Spawn.PostRetries)
	}
	if c.Catch.Expiry.Duration <= 0 {
		return fmt.Errorf("catch.expiry must be positive, got %s", c.Catch.Expiry.Duration)
	}
	if c.Catch.Cooldown.Duration < 0 {
		return fmt.Errorf("catch.cooldown cannot be negative, got %s", c.Catch.Cooldown.Duration)
	}
	if c.Trade.Timeout.Duration <= 0 {
		return fmt.Errorf("trade.timeout must be positive, got %s", c.Trade.Timeout.Duration)
	}
	if c.Prometheus.Enabled && (c.Prometheus.Port < 1 || c.Prometheus.Port > 65535) {
		return fmt.Errorf("prometheus.port %d out of range", c.Prometheus.Port)
	}
	if c.ShardCount < 1 || c.ShardId < 0 || c.ShardId >= c.ShardCount {
		return fmt.Errorf("shard-id %d out of range for shard-count %d", c.ShardId, c.ShardCount)
	}
	return nil
}

// WriteDefault writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(defaultTOML), 0o644)
}

const defaultTOML = `# Nationdex configuration file (TOML)

# Discord bot token; may also come from the DISCORD_TOKEN env var
discord-token = ""

bot-name = "Nationdex"
collectible-name = "countryball"

# SQLite database file, shared with the admin panel
database-path = "data/nationdex.db"

#shard-count = 1
#shard-id = 0

[spawn]
# A channel spawns once it has seen this many messages AND the jittered
# interval below has elapsed since its previous spawn.
message-threshold = 20
interval-min = "40m"
interval-max = "55m"
# Attempts before an unpostable spawn is dropped
post-retries = 3
sweep-every = "30s"

# Per-guild spawn channel allowlist: guild id -> channel ids
[spawn.channels]
#"123456789012345678" = ["234567890123456789"]

[catch]
# How long a spawn stays catchable
expiry = "10m"
# How long a catcher is barred from claiming another spawn in the
# same channel
cooldown = "30s"

# The bot picks a random message from each list.
spawn-msgs = ["A wild {collectible} appeared!"]
caught-msgs = ["{user} You caught **{ball}**!"]
# {wrong} holds the wrong name that was entered
wrong-msgs = ["{user} Wrong name!"]
slow-msgs = ["{user} Sorry, this {collectible} was caught already!"]

[trade]
# Idle sessions auto-cancel after this long
timeout = "15m"
# Allow confirming a trade with empty offers (gifting)
allow-gifts = true
sweep-every = "1m"

[promocodes]
enabled = true

[prometheus]
enabled = false
host = "0.0.0.0"
port = 15260
`
