package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/usage"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Provider ProviderConfig
	Persona  PersonaConfig
	Topics   TopicsConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type ProviderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type PersonaConfig struct {
	Default persona.Persona
	// LegacyTone is the retired tone setting. It is migrated into Default
	// once and then removed from the backend.
	LegacyTone string
}

type TopicsConfig struct {
	Interests []string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Provider: ProviderConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   usage.FallbackModel,
		},
		Persona: PersonaConfig{
			Default: persona.Default,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/tweetbot/config.json, environment variables and the
// secrets file.
//
// Environment variables (TWEETBOT_*) override backend values. A missing API
// key is not an error here; generation reports it when it is needed.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret reads for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := migratePersona(b); err != nil {
		slog.Warn("persona migration not persisted", "error", err)
	}

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Provider.APIKey == "" {
		if key, err := kc.Get(secretsService, accountAPIKey); err == nil && key != "" {
			cfg.Provider.APIKey = key
		}
	}

	return cfg, nil
}

// migratePersona maps a stored legacy tone onto a persona, writes the result
// as persona.default and removes the tone so it is never derived again.
func migratePersona(b ConfigBackend) error {
	tone, ok, err := b.GetString("persona.legacy_tone")
	if err != nil || !ok {
		return err
	}
	stored, _, err := b.GetString("persona.default")
	if err != nil {
		return err
	}
	if p, migrated := persona.Migrate(stored, tone); migrated {
		slog.Info("migrated legacy tone to persona", "tone", tone, "persona", p)
		if err := b.SetString("persona.default", string(p)); err != nil {
			return err
		}
	}
	return b.Delete("persona.legacy_tone")
}

// MissingAPIKeyHint tells the user how to configure the provider key.
func MissingAPIKeyHint() string {
	return "set it with `tweetbot config set-key` or the TWEETBOT_API_KEY environment variable"
}

// SetAPIKey stores the provider key in kc.
func SetAPIKey(kc Keychain, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty API key")
	}
	return kc.Set(secretsService, accountAPIKey, key)
}

// GetAPIToken returns the bearer token protecting the local HTTP API,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	tok, err := kc.Get(secretsService, accountAPIToken)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	tok = uuid.New().String()
	if err := kc.Set(secretsService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
