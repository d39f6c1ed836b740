package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SettingsKey is the row the overlay is stored under.
const SettingsKey = "tippelaget_settings"

// ErrSettingsNotFound is returned by a SettingsStore with nothing saved yet.
var ErrSettingsNotFound = errors.New("settings not found")

// SettingsSnapshot is the persisted overlay.
type SettingsSnapshot struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    *Config   `json:"config"`
}

// SettingsStore persists JSON documents by key.
type SettingsStore interface {
	IsEnabled() bool
	LoadJSON(ctx context.Context, key string, dest any) error
	SaveJSON(ctx context.Context, key string, data any) error
	Location() string
}

// SettingsManager loads and saves the runtime settings overlay.
type SettingsManager struct {
	logger     *zap.Logger
	store      SettingsStore
	liveConfig *LiveConfig
}

func NewSettingsManager(logger *zap.Logger, store SettingsStore, liveConfig *LiveConfig) *SettingsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsManager{
		logger:     logger,
		store:      store,
		liveConfig: liveConfig,
	}
}

// IsEnabled returns true if settings persistence is available.
func (sm *SettingsManager) IsEnabled() bool {
	return sm.store != nil && sm.store.IsEnabled()
}

// LoadSettings overlays the persisted settings onto fileConfig.
// Priority: persisted overlay > environment > YAML > defaults.
func (sm *SettingsManager) LoadSettings(ctx context.Context, fileConfig *Config) (*Config, error) {
	baseConfig := Defaults()
	if fileConfig != nil {
		baseConfig = fileConfig.Clone()
	}

	if !sm.IsEnabled() {
		sm.logger.Info("settings store not configured, using file/env/defaults")
		return baseConfig, nil
	}

	var snapshot SettingsSnapshot
	if err := sm.store.LoadJSON(ctx, SettingsKey, &snapshot); err != nil {
		if errors.Is(err, ErrSettingsNotFound) {
			sm.logger.Info("no persisted settings yet")
		} else {
			sm.logger.Warn("failed to load persisted settings, using file/env/defaults", zap.Error(err))
		}
		return baseConfig, nil
	}

	if snapshot.Config != nil {
		merged := mergeConfigs(baseConfig, snapshot.Config)
		if result := merged.Validate(); !result.Valid {
			sm.logger.Warn("persisted settings are invalid, ignoring",
				zap.Int("errors", len(result.Errors)),
				zap.String("first", result.Errors[0].Field+": "+result.Errors[0].Message),
			)
			return baseConfig, nil
		}
		baseConfig = merged
		sm.logger.Info("loaded persisted settings",
			zap.Time("updated_at", snapshot.UpdatedAt),
			zap.Int("version", snapshot.Version),
		)
	}

	return baseConfig, nil
}

// SaveSettings persists the current live config.
func (sm *SettingsManager) SaveSettings(ctx context.Context) error {
	if !sm.IsEnabled() {
		return fmt.Errorf("settings store not configured")
	}

	snapshot := SettingsSnapshot{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Config:    sm.liveConfig.Get(),
	}
	if err := sm.store.SaveJSON(ctx, SettingsKey, snapshot); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	sm.logger.Info("saved settings", zap.String("location", sm.store.Location()))
	return nil
}

// UpdateAndSave updates the live config and persists it. A persistence
// failure is logged but does not undo the update.
func (sm *SettingsManager) UpdateAndSave(ctx context.Context, newConfig *Config) error {
	if err := sm.liveConfig.Update(newConfig); err != nil {
		return fmt.Errorf("update config: %w", err)
	}

	if sm.IsEnabled() {
		if err := sm.SaveSettings(ctx); err != nil {
			sm.logger.Error("failed to persist settings", zap.Error(err))
		}
	}
	return nil
}

// UpdatePartialAndSave merges partial onto the current config and saves.
func (sm *SettingsManager) UpdatePartialAndSave(ctx context.Context, partial *Config) error {
	merged := mergeConfigs(sm.liveConfig.Get(), partial)
	return sm.UpdateAndSave(ctx, merged)
}

// GetCurrentConfig returns the current config.
func (sm *SettingsManager) GetCurrentConfig() *Config {
	return sm.liveConfig.Get()
}

// GetLiveConfig returns the LiveConfig for observers to register.
func (sm *SettingsManager) GetLiveConfig() *LiveConfig {
	return sm.liveConfig
}

// mergeConfigs lays overlay onto base through JSON, so fields tagged
// json:"-" (secrets, database) always come from base unless overlay sets them.
func mergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = Defaults()
	}
	if overlay == nil {
		return base.Clone()
	}

	result := base.Clone()
	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return result
	}
	_ = json.Unmarshal(overlayJSON, result)

	result.Cognite.ClientSecret = firstNonEmpty(overlay.Cognite.ClientSecret, base.Cognite.ClientSecret)
	result.OpenAI.APIKey = firstNonEmpty(overlay.OpenAI.APIKey, base.OpenAI.APIKey)
	result.Discord.BotToken = firstNonEmpty(overlay.Discord.BotToken, base.Discord.BotToken)
	result.Telegram.BotToken = firstNonEmpty(overlay.Telegram.BotToken, base.Telegram.BotToken)
	result.Redis.URL = firstNonEmpty(overlay.Redis.URL, base.Redis.URL)
	result.Server.AdminToken = firstNonEmpty(overlay.Server.AdminToken, base.Server.AdminToken)
	result.Database = base.Database
	if overlay.Database.DSN != "" {
		result.Database.DSN = overlay.Database.DSN
	}

	return result
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// SettingsInfo provides metadata about the current settings state.
type SettingsInfo struct {
	Source       string    `json:"source"` // "store" or "env"
	LastUpdated  time.Time `json:"last_updated"`
	StoreEnabled bool      `json:"store_enabled"`
	Location     string    `json:"location,omitempty"`
	IsValid      bool      `json:"is_valid"`
	Errors       []string  `json:"errors,omitempty"`
}

// GetSettingsInfo returns metadata about the current settings.
func (sm *SettingsManager) GetSettingsInfo() SettingsInfo {
	validation := sm.liveConfig.Get().Validate()

	info := SettingsInfo{
		LastUpdated:  sm.liveConfig.LastUpdated(),
		StoreEnabled: sm.IsEnabled(),
		IsValid:      validation.Valid,
		Source:       "env",
	}
	if info.StoreEnabled {
		info.Source = "store"
		info.Location = sm.store.Location()
	}

	for _, e := range validation.Errors {
		info.Errors = append(info.Errors, e.Field+": "+e.Message)
	}
	return info
}
