// Package config loads and validates configuration at startup.
// Fail-fast: if a required value is missing or malformed, Load returns an
// error and the process exits.
//
// Sources, lowest precedence first: an optional YAML file, a .env file, the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds all runtime configuration for the notifier service.
type Config struct {
	StoreBackend string `yaml:"store_backend"`

	DatabaseURL          string `yaml:"database_url"`
	DatabaseName         string `yaml:"database_name"` // Firestore database id
	FirestoreProjectID   string `yaml:"firestore_project_id"`
	FirestoreCredentials string `yaml:"firestore_credentials"` // base64 service account JSON

	RedisURL string `yaml:"redis_url"`

	TelegramToken string  `yaml:"telegram_bot_token"`
	OperatorIDs   []int64 `yaml:"operator_ids"`

	RepeatPeriodMinutes int `yaml:"repeat_period_minutes"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`

	NotionToken string `yaml:"notion_token"`
	NotionDBID  string `yaml:"notion_db_id"`

	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// RepeatPeriod is the interval between two ticks of one subscriber.
func (c *Config) RepeatPeriod() time.Duration {
	return time.Duration(c.RepeatPeriodMinutes) * time.Minute
}

// FetchTimeout bounds one feed download.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// NotionEnabled reports whether the record sink is configured.
func (c *Config) NotionEnabled() bool { return c.NotionToken != "" && c.NotionDBID != "" }

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Load reads envFile (".env" when empty, silently skipped if absent), then the
// YAML file at configFile or $CONFIG_FILE, then the environment, and returns
// a validated Config.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ─── Layers ──────────────────────────────────────────────────────────────────

func (c *Config) overlayEnv() error {
	str := map[string]*string{
		"STORE_BACKEND":         &c.StoreBackend,
		"DATABASE_URL":          &c.DatabaseURL,
		"DATABASE_NAME":         &c.DatabaseName,
		"FIRESTORE_PROJECT_ID":  &c.FirestoreProjectID,
		"FIRESTORE_CREDENTIALS": &c.FirestoreCredentials,
		"REDIS_URL":             &c.RedisURL,
		"TELEGRAM_BOT_TOKEN":    &c.TelegramToken,
		"NOTION_TOKEN":          &c.NotionToken,
		"NOTION_DB_ID":          &c.NotionDBID,
		"NOTIFIER_PORT":         &c.Port,
		"LOG_LEVEL":             &c.LogLevel,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REPEAT_PERIOD_MINUTES": &c.RepeatPeriodMinutes,
		"FETCH_TIMEOUT_SECONDS": &c.FetchTimeoutSeconds,
	}
	for key, dst := range ints {
		s := os.Getenv(key)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, s)
		}
		*dst = v
	}

	if s := os.Getenv("OPERATOR_IDS"); s != "" {
		ids, err := parseIDs(s)
		if err != nil {
			return err
		}
		c.OperatorIDs = ids
	}
	return nil
}

func (c *Config) defaults() {
	if c.StoreBackend == "" {
		c.StoreBackend = BackendPostgres
	}
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	if c.RepeatPeriodMinutes == 0 {
		c.RepeatPeriodMinutes = 10
	}
	if c.FetchTimeoutSeconds == 0 {
		c.FetchTimeoutSeconds = 15
	}
	if c.Port == "" {
		c.Port = "8083"
	}
}

func (c *Config) validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.RepeatPeriodMinutes < 1 || c.FetchTimeoutSeconds < 1 {
		return fmt.Errorf("repeat period and fetch timeout must be positive")
	}
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore store")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of postgres, firestore, memory; got %q", c.StoreBackend)
	}
	if (c.NotionToken == "") != (c.NotionDBID == "") {
		return fmt.Errorf("NOTION_TOKEN and NOTION_DB_ID must be set together")
	}
	return nil
}

// parseIDs reads a comma separated list of chat ids.
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("OPERATOR_IDS: invalid chat id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
