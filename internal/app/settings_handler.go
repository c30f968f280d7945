package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"polycopy/config"

	"go.uber.org/zap"
)

// SettingsHandler handles settings-related HTTP requests.
type SettingsHandler struct {
	logger   *zap.Logger
	settings *config.SettingsManager
	auth     *TokenAuth
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(logger *zap.Logger, settings *config.SettingsManager, auth *TokenAuth) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{
		logger:   logger,
		settings: settings,
		auth:     auth,
	}
}

// RegisterRoutes registers the settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings", h.auth.Require(h.getSettings))
	mux.HandleFunc("PUT /api/settings", h.auth.Require(h.updateSettings))
	mux.HandleFunc("POST /api/settings", h.auth.Require(h.updateSettings))
	mux.HandleFunc("POST /api/settings/reset", h.auth.Require(h.resetSettings))
	mux.HandleFunc("GET /api/settings/info", h.auth.Require(h.settingsInfo))
}

// getSettings returns the current settings as JSON. Secrets are never
// serialized.
func (h *SettingsHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetCurrentConfig())
}

// updateSettings decodes the body on top of the current settings.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	newConfig := h.settings.GetCurrentConfig().Clone()

	if err := json.NewDecoder(r.Body).Decode(newConfig); err != nil {
		h.logger.Warn("failed to decode settings", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	validation := newConfig.Validate()
	if !validation.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"errors":  validation.Errors,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.settings.UpdateAndSave(ctx, newConfig); err != nil {
		h.logger.Error("failed to update settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update settings: "+err.Error())
		return
	}

	h.logger.Info("settings updated via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

// resetSettings restores defaults, keeping env-only fields.
func (h *SettingsHandler) resetSettings(w http.ResponseWriter, r *http.Request) {
	defaults := config.Defaults()

	current := h.settings.GetCurrentConfig()
	defaults.IsProd = current.IsProd
	defaults.Discord.BotToken = current.Discord.BotToken
	defaults.Telegram.BotToken = current.Telegram.BotToken
	defaults.Gist = current.Gist
	defaults.Storage = current.Storage
	defaults.HealthServer.APIToken = current.HealthServer.APIToken

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.settings.UpdateAndSave(ctx, defaults); err != nil {
		h.logger.Error("failed to reset settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset settings: "+err.Error())
		return
	}

	h.logger.Info("settings reset to defaults via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

func (h *SettingsHandler) settingsInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetSettingsInfo())
}
