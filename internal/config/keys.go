package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "POLLBOT_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "POLLBOT_ADMIN_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
	},
	{
		env: "POLLBOT_DISCORD_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Discord.Token = v.(string) },
	},
	{
		env: "POLLBOT_AI_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
	},
	{
		env: "POLLBOT_AI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
	},
	{
		env: "POLLBOT_AI_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
	},
	{
		env: "POLLBOT_AI_MAX_ATTEMPTS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.AI.MaxAttempts = v.(int) },
	},
	{
		env: "POLLBOT_AI_INITIAL_DELAY", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.AI.InitialDelay = v.(time.Duration) },
	},
	{
		env: "POLLBOT_AI_MAX_DELAY", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.AI.MaxDelay = v.(time.Duration) },
	},
	{
		env: "POLLBOT_AI_CALL_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.AI.CallTimeout = v.(time.Duration) },
	},
	{
		env: "POLLBOT_AI_BREAKER_THRESHOLD", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.AI.BreakerThreshold = v.(int) },
	},
	{
		env: "POLLBOT_AI_BREAKER_WINDOW", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.AI.BreakerWindow = v.(time.Duration) },
	},
	{
		env: "POLLBOT_AI_BREAKER_COOLDOWN", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.AI.BreakerCooldown = v.(time.Duration) },
	},
	{
		env: "POLLBOT_SCHEDULE_TIMEZONE", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Schedule.Timezone = v.(string) },
	},
	{
		env: "POLLBOT_SCHEDULE_DAILY_HOUR", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Schedule.DailyHour = v.(int) },
	},
	{
		env: "POLLBOT_SCHEDULE_DAILY_MINUTE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Schedule.DailyMinute = v.(int) },
	},
	{
		env: "POLLBOT_SCHEDULE_WEEKLY_DAY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Schedule.WeeklyDay = v.(string) },
	},
	{
		env: "POLLBOT_SCHEDULE_WEEKLY_HOUR", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Schedule.WeeklyHour = v.(int) },
	},
	{
		env: "POLLBOT_SCHEDULE_WEEKLY_MINUTE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Schedule.WeeklyMinute = v.(int) },
	},
	{
		env: "POLLBOT_SCHEDULE_SETTLE_DELAY", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Schedule.SettleDelay = v.(time.Duration) },
	},
	{
		env: "POLLBOT_QUEUE_PER_KEY_CAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Queue.PerKeyCap = v.(int) },
	},
	{
		env: "POLLBOT_QUEUE_TTL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Queue.TTL = v.(time.Duration) },
	},
	{
		env: "POLLBOT_QUEUE_DRAIN_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Queue.DrainInterval = v.(time.Duration) },
	},
	{
		env: "POLLBOT_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "POLLBOT_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		raw := getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
