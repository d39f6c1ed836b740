package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"tippelaget/config"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SettingsHandler handles settings-related HTTP requests.
type SettingsHandler struct {
	logger   *zap.Logger
	settings *config.SettingsManager
}

func NewSettingsHandler(logger *zap.Logger, settings *config.SettingsManager) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{
		logger:   logger,
		settings: settings,
	}
}

// RegisterRoutes mounts the settings page and API on r.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.handleSettingsPage)
	r.Get("/api/settings", h.getSettings)
	r.With(h.requireAdmin).Post("/api/settings", h.updateSettings)
	r.With(h.requireAdmin).Post("/api/settings/reset", h.handleSettingsReset)
	r.Get("/api/settings/info", h.handleSettingsInfo)
}

func (h *SettingsHandler) requireAdmin(next http.Handler) http.Handler {
	return adminOnly(func() string { return h.settings.GetCurrentConfig().Server.AdminToken }, next)
}

// adminOnly rejects requests without the admin bearer token. With no token
// configured every request passes.
func adminOnly(token func() string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := token()
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   "authentication_required",
				"message": "an admin token is required for this action",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *SettingsHandler) handleSettingsPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(settingsPageHTML))
}

// getSettings returns the current settings without secrets.
func (h *SettingsHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetCurrentConfig())
}

// updateSettings decodes the body over the current settings, validates and
// persists the result.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	newConfig := h.settings.GetCurrentConfig()
	if err := json.NewDecoder(r.Body).Decode(newConfig); err != nil {
		h.logger.Warn("failed to decode settings", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
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
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update settings: " + err.Error()})
		return
	}

	h.logger.Info("settings updated via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

// handleSettingsReset restores defaults, keeping env-only secrets.
func (h *SettingsHandler) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	defaults := config.Defaults()

	current := h.settings.GetCurrentConfig()
	defaults.IsProd = current.IsProd
	defaults.Cognite.ClientSecret = current.Cognite.ClientSecret
	defaults.OpenAI.APIKey = current.OpenAI.APIKey
	defaults.Discord.BotToken = current.Discord.BotToken
	defaults.Telegram.BotToken = current.Telegram.BotToken
	defaults.Redis.URL = current.Redis.URL
	defaults.Database = current.Database
	defaults.Server.AdminToken = current.Server.AdminToken

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.settings.UpdateAndSave(ctx, defaults); err != nil {
		h.logger.Error("failed to reset settings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reset settings: " + err.Error()})
		return
	}

	h.logger.Info("settings reset to defaults via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

func (h *SettingsHandler) handleSettingsInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetSettingsInfo())
}
