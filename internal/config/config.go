package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level" env:"LOG_LEVEL"`
		Format    string `yaml:"format" env:"LOG_FORMAT"`
		AddSource bool   `yaml:"add_source" env:"LOG_ADD_SOURCE"`
	} `yaml:"log"`
	Database struct {
		// Driver is "sqlite" or "postgres".
		Driver     string `yaml:"driver" env:"DB_DRIVER"`
		SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	} `yaml:"database"`
	Postgres struct {
		URL string `yaml:"url" env:"POSTGRES_URL"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		TTL      string `yaml:"ttl" env:"REDIS_TTL"`
	} `yaml:"redis"`
	Hunt struct {
		CacheTTL               string `yaml:"cache_ttl" env:"HUNT_CACHE_TTL"`
		ResetProgressOnReplace bool   `yaml:"reset_progress_on_replace" env:"HUNT_RESET_PROGRESS_ON_REPLACE"`
		FirstBloodBonus        int    `yaml:"first_blood_bonus" env:"HUNT_FIRST_BLOOD_BONUS"`
		DefaultPoints          int    `yaml:"default_points" env:"HUNT_DEFAULT_POINTS"`
		LeaderboardSize        int    `yaml:"leaderboard_size" env:"HUNT_LEADERBOARD_SIZE"`
	} `yaml:"hunt"`
	// Admins may run every administrative action in every guild.
	Admins  []string `yaml:"admins" env:"HUNT_ADMINS" envSeparator:","`
	// Auth signs the tokens that authenticate gateway connections; without a
	// secret no connection may run administrative commands.
	Auth struct {
		Secret   string `yaml:"secret" env:"HUNT_AUTH_SECRET"`
		Issuer   string `yaml:"issuer" env:"HUNT_AUTH_ISSUER"`
		TokenTTL string `yaml:"token_ttl" env:"HUNT_AUTH_TOKEN_TTL"`
	} `yaml:"auth"`
	Discord struct {
		Token string `yaml:"token" env:"DISCORD_TOKEN"`
	} `yaml:"discord"`
	Events struct {
		ChannelPrefix string `yaml:"channel_prefix" env:"EVENTS_CHANNEL_PREFIX"`
	} `yaml:"events"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file is not an error; defaults and the environment still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		if cfg.Postgres.URL != "" {
			cfg.Database.Driver = "postgres"
		} else {
			cfg.Database.Driver = "sqlite"
		}
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/hunt.db"
	}
	if cfg.Hunt.FirstBloodBonus == 0 {
		cfg.Hunt.FirstBloodBonus = 50
	}
	if cfg.Hunt.DefaultPoints == 0 {
		cfg.Hunt.DefaultPoints = 100
	}
	if cfg.Hunt.LeaderboardSize == 0 {
		cfg.Hunt.LeaderboardSize = 15
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "hunt-service"
	}
	if cfg.Events.ChannelPrefix == "" {
		cfg.Events.ChannelPrefix = "hunt:events:"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// LogLevel parses the configured level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
