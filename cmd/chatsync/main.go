package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatsync/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Store   ConfigStore   `toml:"store"`
}

// ConfigDefault holds the server and identity settings.
type ConfigDefault struct {
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	UserName string `toml:"user_name"`
}

// ConfigStore selects the offline cache backend.
type ConfigStore struct {
	Driver string `toml:"driver"` // memory, sqlite or pebble
	Path   string `toml:"path"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatsync, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file and applies CHATSYNC_* environment
// overrides. A missing file yields a zero Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("cannot read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	}
	if v := os.Getenv("CHATSYNC_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		cfg.Default.Token = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		cfg.Default.UserID = v
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "store.driver").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "token":
			cfg.Default.Token = value
		case "user_id":
			cfg.Default.UserID = value
		case "user_name":
			cfg.Default.UserName = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "store":
		switch field {
		case "driver":
			switch value {
			case "memory", "sqlite", "pebble":
			default:
				return fmt.Errorf("unknown store driver %q (valid: memory, sqlite, pebble)", value)
			}
			cfg.Store.Driver = value
		case "path":
			cfg.Store.Path = value
		default:
			return fmt.Errorf("unknown field %q in section [store]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, store)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	envFile string
	logger  = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Offline-first chat state tooling",
	Long:  "Inspect, replay and follow chat channel state with a local offline cache.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot load %s: %w", envFile, err)
		}
		var level slog.Level
		if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
			if err := level.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid CHATSYNC_LOG_LEVEL: %w", err)
			}
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with CHATSYNC_* overrides")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
