package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/kalambet/tweetbot/internal/persona"
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
	// validate rejects a value before it is written with SetKey.
	validate func(v string) error
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TWEETBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TWEETBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "provider.base_url", typ: kString, env: "TWEETBOT_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.model", typ: kString, env: "TWEETBOT_PROVIDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Model },
	},
	{
		key: "provider.api_key", typ: kString, env: "TWEETBOT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "persona.default", typ: kString, env: "TWEETBOT_PERSONA",
		apply: func(cfg *Config, v any) {
			p, err := persona.Parse(v.(string))
			if err != nil {
				slog.Warn("ignoring persona.default", "error", err)
				return
			}
			cfg.Persona.Default = p
		},
		extract: func(cfg Config) any { return cfg.Persona.Default },
		validate: func(v string) error {
			_, err := persona.Parse(v)
			return err
		},
	},
	{
		key: "persona.legacy_tone", typ: kString,
		apply:   func(cfg *Config, v any) { cfg.Persona.LegacyTone = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.LegacyTone },
	},
	{
		key: "topics.interests", typ: kString, env: "TWEETBOT_TOPICS",
		apply:   func(cfg *Config, v any) { cfg.Topics.Interests = splitList(v.(string)) },
		extract: func(cfg Config) any { return strings.Join(cfg.Topics.Interests, ", ") },
	},
	{
		key: "log.level", typ: kString, env: "TWEETBOT_LOG_LEVEL",
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
				slog.Warn("could not parse integer from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
