package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read by LoadFile when no path is given. It is optional.
const DefaultConfigFile = "tippelaget.yaml"

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod" yaml:"is_prod"`

	// Bet backend
	Cognite CogniteConfig `json:"cognite" yaml:"cognite"`

	// Assistants
	OpenAI OpenAIConfig `json:"openai" yaml:"openai"`

	// Fund simulation
	Deposits DepositsConfig `json:"deposits" yaml:"deposits"`

	// Snapshot recompute loop
	Refresh RefreshConfig `json:"refresh" yaml:"refresh"`

	// Postgres mirror - excluded from settings (env var only)
	Database DatabaseConfig `json:"-" yaml:"database"`

	// Snapshot cache
	Redis RedisConfig `json:"redis" yaml:"redis"`

	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`

	// HTTP API and dashboard
	Server ServerConfig `json:"server" yaml:"server"`

	// Agent tool endpoint
	MCP MCPConfig `json:"mcp" yaml:"mcp"`
}

// CogniteConfig holds the data model backend connection.
type CogniteConfig struct {
	Project      string   `json:"project" yaml:"project"`
	BaseURL      string   `json:"base_url" yaml:"base_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"-" yaml:"-"` // Excluded - env var only
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	Scopes       []string `json:"scopes" yaml:"scopes"`

	Space       string `json:"space" yaml:"space"`
	View        string `json:"view" yaml:"view"`
	ViewVersion string `json:"view_version" yaml:"view_version"`
	ListLimit   int    `json:"list_limit" yaml:"list_limit"` // Max instances fetched per refresh

	WorkflowID      string `json:"workflow_id" yaml:"workflow_id"`
	WorkflowVersion string `json:"workflow_version" yaml:"workflow_version"`

	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Enabled reports whether enough is configured to talk to the backend.
func (c CogniteConfig) Enabled() bool {
	return c.Project != "" && c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// OpenAIConfig holds the chat completion settings for the assistants.
type OpenAIConfig struct {
	APIKey       string `json:"-" yaml:"-"` // Excluded - env var only
	BaseURL      string `json:"base_url" yaml:"base_url"`
	ProphetModel string `json:"prophet_model" yaml:"prophet_model"`
	KingModel    string `json:"king_model" yaml:"king_model"`
	SnippetRows  int    `json:"snippet_rows" yaml:"snippet_rows"` // Trailing rows sent as context

	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

// DepositsConfig describes the monthly contribution schedule.
type DepositsConfig struct {
	Start          string  `json:"start" yaml:"start"` // YYYY-MM-DD
	OffsetDays     int     `json:"offset_days" yaml:"offset_days"`
	Amount         float64 `json:"amount" yaml:"amount"`
	SkipUnmappable bool    `json:"skip_unmappable" yaml:"skip_unmappable"`
}

// StartDate parses Start.
func (d DepositsConfig) StartDate() (time.Time, error) {
	return time.Parse(time.DateOnly, d.Start)
}

// AmountDecimal returns Amount as money.
func (d DepositsConfig) AmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(d.Amount)
}

// RefreshConfig controls the background recompute loop.
type RefreshConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	ReportsEnabled bool          `json:"reports_enabled" yaml:"reports_enabled"` // Send a report when a new gameweek appears
}

// DatabaseConfig holds the Postgres mirror connection.
type DatabaseConfig struct {
	DSN             string        `json:"-" yaml:"-"` // Excluded - env var only
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `json:"query_timeout" yaml:"query_timeout"`
	MigrationsDir   string        `json:"migrations_dir" yaml:"migrations_dir"`
}

// RedisConfig holds the snapshot cache settings.
type RedisConfig struct {
	URL         string        `json:"-" yaml:"-"` // Excluded - env var only
	SnapshotTTL time.Duration `json:"snapshot_ttl" yaml:"snapshot_ttl"` // 0 = always refetch
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken        string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChannelID   string `json:"prod_channel_id" yaml:"prod_channel_id"`
	BetaChannelID   string `json:"beta_channel_id" yaml:"beta_channel_id"`
	CommandsEnabled bool   `json:"commands_enabled" yaml:"commands_enabled"` // !prophet / !king
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id" yaml:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id" yaml:"beta_chat_id"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Port         int           `json:"port" yaml:"port"`
	PublicURL    string        `json:"public_url" yaml:"public_url"` // Dashboard link in reports
	AdminToken   string        `json:"-" yaml:"-"`                   // Excluded - env var only; guards writes when set
	CORSOrigins  []string      `json:"cors_origins" yaml:"cors_origins"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// MCPConfig controls the agent tool endpoint.
type MCPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Cognite.Scopes = cloneStrings(c.Cognite.Scopes)
	clone.Server.CORSOrigins = cloneStrings(c.Server.CORSOrigins)
	return &clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Cognite: CogniteConfig{
			Scopes:          []string{"https://bluefield.cognitedata.com/.default"},
			Space:           "tippelaget_space_name",
			View:            "Bet",
			ViewVersion:     "fcb537cee9eba5",
			ListLimit:       1000,
			WorkflowID:      "wf_tippelaget_workflow",
			WorkflowVersion: "1",
			Timeout:         30 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL:           "https://api.openai.com/v1",
			ProphetModel:      "gpt-4.1-mini",
			KingModel:         "gpt-5-mini",
			SnippetRows:       100,
			RequestsPerMinute: 10,
			Timeout:           60 * time.Second,
		},
		Deposits: DepositsConfig{
			Start:      "2025-03-15",
			OffsetDays: 14,
			Amount:     600,
		},
		Refresh: RefreshConfig{
			Interval:       15 * time.Minute,
			ReportsEnabled: true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    5 * time.Second,
			MigrationsDir:   "migrations",
		},
		Redis: RedisConfig{
			KeyPrefix: "tippelaget",
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile layers an optional YAML file and an optional .env file under the
// process environment. Missing files are not an error.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides cfg with any environment variable that is set.
func applyEnv(cfg *Config) {
	cfg.IsProd = cfg.IsProd || envBool("STAGE", "PROD")

	c := &cfg.Cognite
	c.Project = envString("COGNITE_PROJECT", c.Project)
	c.BaseURL = envString("COGNITE_BASE_URL", c.BaseURL)
	c.ClientID = envString("COGNITE_CLIENT_ID", c.ClientID)
	c.ClientSecret = envString("COGNITE_CLIENT_SECRET", c.ClientSecret)
	c.TokenURL = envString("COGNITE_TOKEN_URL", c.TokenURL)
	c.Scopes = envStringSliceDefault("COGNITE_SCOPES", c.Scopes)
	c.Space = envString("COGNITE_SPACE", c.Space)
	c.View = envString("COGNITE_VIEW", c.View)
	c.ViewVersion = envString("COGNITE_VIEW_VERSION", c.ViewVersion)
	c.ListLimit = envInt("COGNITE_LIST_LIMIT", c.ListLimit)
	c.WorkflowID = envString("COGNITE_WORKFLOW_ID", c.WorkflowID)
	c.WorkflowVersion = envString("COGNITE_WORKFLOW_VERSION", c.WorkflowVersion)
	c.Timeout = envDuration("COGNITE_TIMEOUT", c.Timeout)

	o := &cfg.OpenAI
	o.APIKey = envString("OPENAI_API_KEY", o.APIKey)
	o.BaseURL = envString("OPENAI_BASE_URL", o.BaseURL)
	o.ProphetModel = envString("OPENAI_PROPHET_MODEL", o.ProphetModel)
	o.KingModel = envString("OPENAI_KING_MODEL", o.KingModel)
	o.SnippetRows = envInt("OPENAI_SNIPPET_ROWS", o.SnippetRows)
	o.RequestsPerMinute = envInt("OPENAI_REQUESTS_PER_MINUTE", o.RequestsPerMinute)
	o.Timeout = envDuration("OPENAI_TIMEOUT", o.Timeout)

	d := &cfg.Deposits
	d.Start = envString("DEPOSITS_START", d.Start)
	d.OffsetDays = envInt("DEPOSITS_OFFSET_DAYS", d.OffsetDays)
	d.Amount = envFloat("DEPOSITS_AMOUNT", d.Amount)
	d.SkipUnmappable = envBoolDefault("DEPOSITS_SKIP_UNMAPPABLE", d.SkipUnmappable)

	cfg.Refresh.Interval = envDuration("REFRESH_INTERVAL", cfg.Refresh.Interval)
	cfg.Refresh.ReportsEnabled = envBoolDefault("REFRESH_REPORTS_ENABLED", cfg.Refresh.ReportsEnabled)

	db := &cfg.Database
	db.DSN = envString("DATABASE_URL", db.DSN)
	db.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", db.MaxOpenConns)
	db.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", db.MaxIdleConns)
	db.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", db.ConnMaxLifetime)
	db.QueryTimeout = envDuration("DATABASE_QUERY_TIMEOUT", db.QueryTimeout)
	db.MigrationsDir = envString("DATABASE_MIGRATIONS_DIR", db.MigrationsDir)

	cfg.Redis.URL = envString("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.SnapshotTTL = envDuration("REDIS_SNAPSHOT_TTL", cfg.Redis.SnapshotTTL)
	cfg.Redis.KeyPrefix = envString("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.Discord.BotToken = envString("DISCORD_BOT_TOKEN", cfg.Discord.BotToken)
	cfg.Discord.ProdChannelID = envString("DISCORD_PROD_CHANNEL_ID", cfg.Discord.ProdChannelID)
	cfg.Discord.BetaChannelID = envString("DISCORD_BETA_CHANNEL_ID", cfg.Discord.BetaChannelID)
	cfg.Discord.CommandsEnabled = envBoolDefault("DISCORD_COMMANDS_ENABLED", cfg.Discord.CommandsEnabled)

	cfg.Telegram.BotToken = envString("TELEGRAM_BOT_KEY", cfg.Telegram.BotToken)
	cfg.Telegram.ProdChatID = envString("TELEGRAM_PROD_CHAT_ID", cfg.Telegram.ProdChatID)
	cfg.Telegram.BetaChatID = envString("TELEGRAM_BETA_CHAT_ID", cfg.Telegram.BetaChatID)

	s := &cfg.Server
	s.Enabled = envBoolDefault("SERVER_ENABLED", s.Enabled)
	s.Port = envInt("SERVER_PORT", s.Port)
	s.PublicURL = envString("SERVER_PUBLIC_URL", s.PublicURL)
	s.AdminToken = envString("SERVER_ADMIN_TOKEN", s.AdminToken)
	s.CORSOrigins = envStringSliceDefault("SERVER_CORS_ORIGINS", s.CORSOrigins)
	s.ReadTimeout = envDuration("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = envDuration("SERVER_WRITE_TIMEOUT", s.WriteTimeout)

	cfg.MCP.Enabled = envBoolDefault("MCP_ENABLED", cfg.MCP.Enabled)
	cfg.MCP.Path = envString("MCP_PATH", cfg.MCP.Path)
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
