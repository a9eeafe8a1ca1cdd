package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "THEOAGENT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "THEOAGENT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "engine.base_url", typ: kString, env: "THEOAGENT_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.api_key", typ: kString, env: "THEOAGENT_ENGINE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.APIKey },
	},
	{
		key: "engine.timeout", typ: kString, env: "THEOAGENT_ENGINE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Timeout },
	},
	{
		key: "retention.max_turn_age", typ: kString, env: "THEOAGENT_RETENTION_MAX_TURN_AGE",
		apply:   func(cfg *Config, v any) { cfg.Retention.MaxTurnAge = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.MaxTurnAge },
	},
	{
		key: "retention.schedule", typ: kString, env: "THEOAGENT_RETENTION_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Retention.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.Schedule },
	},
	{
		key: "log.level", typ: kString, env: "THEOAGENT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
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
		}
	}
}
