// Package config loads service configuration from an XDG JSON file with
// environment variable overrides.
package config

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Engine    EngineConfig
	Retention RetentionConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

// EngineConfig locates the downstream retrieval/generation engine.
type EngineConfig struct {
	BaseURL string
	APIKey  string // secret, environment-only
	Timeout string // Go duration string
}

// RetentionConfig controls the background sweep of aged records.
type RetentionConfig struct {
	MaxTurnAge string // Go duration string
	Schedule   string // cron expression
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4800,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Engine: EngineConfig{
			BaseURL: "http://localhost:8100",
			Timeout: "60s",
		},
		Retention: RetentionConfig{
			MaxTurnAge: "720h",
			Schedule:   "0 3 * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/theoagent/config.json, then applies THEOAGENT_*
// environment variable overrides. Secrets are environment-only and never
// read from or written to the file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
