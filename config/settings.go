package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SettingsFileName is the name of the settings file in the Gist.
const SettingsFileName = "polycopy_settings.json"

// SettingsSnapshot is the document stored in the Gist.
type SettingsSnapshot struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    *Config   `json:"config"`
}

// GistStorage is the subset of the gist client the settings manager needs.
type GistStorage interface {
	IsEnabled() bool
	LoadJSON(ctx context.Context, filename string, dest any) error
	SaveJSON(ctx context.Context, filename string, data any) error
	GetGistID() string
}

// SettingsManager persists the runtime-editable part of the config
// (everything not tagged json:"-") to a Gist.
type SettingsManager struct {
	logger     *zap.Logger
	gist       GistStorage
	liveConfig *LiveConfig
}

// NewSettingsManager creates a new SettingsManager. gist may be nil.
func NewSettingsManager(logger *zap.Logger, gist GistStorage, liveConfig *LiveConfig) *SettingsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsManager{
		logger:     logger,
		gist:       gist,
		liveConfig: liveConfig,
	}
}

// IsEnabled returns true if settings persistence is available.
func (sm *SettingsManager) IsEnabled() bool {
	return sm.gist != nil && sm.gist.IsEnabled()
}

// LoadSettings merges Gist settings over envConfig.
// Priority: Gist > environment > defaults. A Gist failure is logged and
// the env config is returned.
func (sm *SettingsManager) LoadSettings(ctx context.Context, envConfig *Config) (*Config, error) {
	base := Defaults()
	if envConfig != nil {
		base = mergeConfigs(base, envConfig)
	}

	if !sm.IsEnabled() {
		sm.logger.Info("settings gist not configured, using env/defaults")
		return base, nil
	}

	var snapshot SettingsSnapshot
	if err := sm.gist.LoadJSON(ctx, SettingsFileName, &snapshot); err != nil {
		sm.logger.Warn("failed to load settings from gist, using env/defaults", zap.Error(err))
		return base, nil
	}
	if snapshot.Config == nil {
		return base, nil
	}

	merged := mergeConfigs(base, snapshot.Config)
	if res := merged.Validate(); !res.Valid {
		sm.logger.Warn("gist settings invalid, using env/defaults",
			zap.Int("errors", len(res.Errors)),
		)
		return base, nil
	}

	sm.logger.Info("loaded settings from gist",
		zap.Time("updated_at", snapshot.UpdatedAt),
		zap.Int("version", snapshot.Version),
	)
	return merged, nil
}

// SaveSettings writes the current config to the Gist.
func (sm *SettingsManager) SaveSettings(ctx context.Context) error {
	if !sm.IsEnabled() {
		return fmt.Errorf("settings gist not configured")
	}

	snapshot := SettingsSnapshot{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Config:    sm.liveConfig.Get(),
	}
	if err := sm.gist.SaveJSON(ctx, SettingsFileName, snapshot); err != nil {
		return fmt.Errorf("save to gist: %w", err)
	}

	sm.logger.Info("saved settings to gist")
	return nil
}

// UpdateAndSave updates the live config and persists it when possible.
// A persistence failure does not undo the update.
func (sm *SettingsManager) UpdateAndSave(ctx context.Context, newConfig *Config) error {
	if err := sm.liveConfig.Update(newConfig); err != nil {
		return fmt.Errorf("update config: %w", err)
	}

	if sm.IsEnabled() {
		if err := sm.SaveSettings(ctx); err != nil {
			sm.logger.Error("failed to save settings to gist", zap.Error(err))
		}
	}
	return nil
}

// ApplyJSON decodes a partial JSON document over the current config and
// stores the result.
func (sm *SettingsManager) ApplyJSON(ctx context.Context, data []byte) (*Config, error) {
	next, err := ConfigFromJSON(data, sm.liveConfig.Get())
	if err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := sm.UpdateAndSave(ctx, next); err != nil {
		return nil, err
	}
	return sm.liveConfig.Get(), nil
}

// GetCurrentConfig returns the current config.
func (sm *SettingsManager) GetCurrentConfig() *Config {
	return sm.liveConfig.Get()
}

// mergeConfigs overlays the JSON-visible fields of overlay onto base and
// keeps env-only secrets from whichever side has them.
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

	result.Discord.BotToken = firstNonEmpty(overlay.Discord.BotToken, base.Discord.BotToken)
	result.Telegram.BotToken = firstNonEmpty(overlay.Telegram.BotToken, base.Telegram.BotToken)
	result.Gist.Token = firstNonEmpty(overlay.Gist.Token, base.Gist.Token)
	result.Gist.GistID = firstNonEmpty(overlay.Gist.GistID, base.Gist.GistID)
	result.HealthServer.APIToken = firstNonEmpty(overlay.HealthServer.APIToken, base.HealthServer.APIToken)
	result.Storage.Backend = firstNonEmpty(overlay.Storage.Backend, base.Storage.Backend)
	result.Storage.PostgresDSN = firstNonEmpty(overlay.Storage.PostgresDSN, base.Storage.PostgresDSN)
	result.Storage.RedisURL = firstNonEmpty(overlay.Storage.RedisURL, base.Storage.RedisURL)

	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SettingsInfo provides metadata about the current settings state.
type SettingsInfo struct {
	Source      string    `json:"source"` // "gist" or "env"
	LastUpdated time.Time `json:"last_updated"`
	GistEnabled bool      `json:"gist_enabled"`
	GistID      string    `json:"gist_id,omitempty"`
	IsValid     bool      `json:"is_valid"`
	Errors      []string  `json:"errors,omitempty"`
}

// GetSettingsInfo returns metadata about the current settings.
func (sm *SettingsManager) GetSettingsInfo() SettingsInfo {
	validation := sm.liveConfig.Get().Validate()

	info := SettingsInfo{
		Source:      "env",
		LastUpdated: sm.liveConfig.LastUpdated(),
		GistEnabled: sm.IsEnabled(),
		IsValid:     validation.Valid,
	}
	if sm.IsEnabled() {
		info.Source = "gist"
		info.GistID = sm.gist.GetGistID()
	}
	for _, e := range validation.Errors {
		info.Errors = append(info.Errors, e.Field+": "+e.Message)
	}
	return info
}
