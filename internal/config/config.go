// Package config assembles the bot's runtime configuration from
// defaults, an optional .env file, and POLLBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Discord     DiscordConfig
	AI          AIConfig
	Schedule    ScheduleConfig
	Queue       QueueConfig
	Storage     StorageConfig
	Log         LogConfig
	Communities []Community
}

type ServerConfig struct {
	Port       int
	AdminToken string
}

type DiscordConfig struct {
	Token string
}

type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	CallTimeout  time.Duration

	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
}

type ScheduleConfig struct {
	Timezone     string
	DailyHour    int
	DailyMinute  int
	WeeklyDay    string
	WeeklyHour   int
	WeeklyMinute int
	SettleDelay  time.Duration
}

type QueueConfig struct {
	PerKeyCap     int
	TTL           time.Duration
	DrainInterval time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// Community is one guild the bot serves, with its trivia channel.
type Community struct {
	GuildID   string
	ChannelID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		AI: AIConfig{
			Model:            "gemini-2.0-flash",
			MaxAttempts:      3,
			InitialDelay:     500 * time.Millisecond,
			MaxDelay:         8 * time.Second,
			CallTimeout:      30 * time.Second,
			BreakerThreshold: 5,
			BreakerWindow:    2 * time.Minute,
			BreakerCooldown:  5 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Timezone:    "America/New_York",
			DailyHour:   9,
			WeeklyDay:   "Sunday",
			WeeklyHour:  18,
			SettleDelay: 30 * time.Second,
		},
		Queue: QueueConfig{
			PerKeyCap:     3,
			TTL:           30 * time.Minute,
			DrainInterval: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. A .env file in the working directory
// is read first when present; explicit environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadFromEnv(os.Getenv)
}

func loadFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg, getenv)

	if raw := getenv("POLLBOT_COMMUNITIES"); raw != "" {
		communities, err := ParseCommunities(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing POLLBOT_COMMUNITIES: %w", err)
		}
		cfg.Communities = communities
	}

	if cfg.Discord.Token == "" {
		return Config{}, fmt.Errorf("missing required config: Discord bot token. Set POLLBOT_DISCORD_TOKEN")
	}
	if cfg.AI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: AI API key. Set POLLBOT_AI_API_KEY")
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return Config{}, fmt.Errorf("invalid timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	if _, err := ParseWeekday(cfg.Schedule.WeeklyDay); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseCommunities parses the "guildID:channelID,guildID:channelID"
// list format.
func ParseCommunities(raw string) ([]Community, error) {
	var out []Community
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		guild, channel, ok := strings.Cut(part, ":")
		if !ok || guild == "" || channel == "" {
			return nil, fmt.Errorf("invalid community entry %q, want guildID:channelID", part)
		}
		out = append(out, Community{GuildID: guild, ChannelID: channel})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no community entries in %q", raw)
	}
	return out, nil
}

// ParseWeekday maps an English weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", name)
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pollbot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "pollbot")
}
