// Package handlers provides HTTP handlers for alert CRUD and history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stkpulse/stackwatch/internal/modules/alerts"
)

// Handler handles alert HTTP requests
type Handler struct {
	repo *alerts.Repository
	log  zerolog.Logger
}

// NewHandler creates a new alert handler
func NewHandler(repo *alerts.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "alerts").Logger(),
	}
}

// createAlertRequest is the write payload for create and update.
type createAlertRequest struct {
	UserID          string              `json:"userId"`
	Name            string              `json:"name"`
	Condition       alerts.Condition    `json:"condition"`
	Notify          alerts.Notification `json:"notify"`
	CooldownMinutes int                 `json:"cooldownMinutes"`
	IsActive        *bool               `json:"isActive,omitempty"`
}

func (req *createAlertRequest) validate() []string {
	var errs []string
	if req.UserID == "" {
		errs = append(errs, "userId is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, "name is required")
	}
	if req.CooldownMinutes < 0 {
		errs = append(errs, "cooldownMinutes must not be negative")
	}
	errs = append(errs, alerts.ValidateCondition(req.Condition)...)
	errs = append(errs, alerts.ValidateNotification(req.Notify)...)
	return errs
}

// HandleCreate handles POST /api/v1/alerts
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if errs := req.validate(); len(errs) > 0 {
		h.writeValidationErrors(w, errs)
		return
	}

	alert := &alerts.Alert{
		UserID:          req.UserID,
		Name:            req.Name,
		Condition:       req.Condition,
		Notify:          req.Notify,
		CooldownMinutes: req.CooldownMinutes,
		IsActive:        true,
	}
	if req.IsActive != nil {
		alert.IsActive = *req.IsActive
	}

	if err := h.repo.Create(r.Context(), alert); err != nil {
		h.log.Error().Err(err).Msg("Failed to create alert")
		http.Error(w, "Failed to create alert", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(alert))
}

// HandleList handles GET /api/v1/alerts?userId=...
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "Missing userId", http.StatusBadRequest)
		return
	}

	list, err := h.repo.ListByUser(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list alerts")
		http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}

	h.writeJSON(w, http.StatusOK, envelope(list))
}

// HandleGet handles GET /api/v1/alerts/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, id string) {
	alert, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", id).Msg("Failed to get alert")
		http.Error(w, "Failed to get alert", http.StatusInternalServerError)
		return
	}
	if alert == nil {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(alert))
}

// HandleUpdate handles PUT /api/v1/alerts/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	if errs := req.validate(); len(errs) > 0 {
		h.writeValidationErrors(w, errs)
		return
	}

	alert := &alerts.Alert{
		ID:              id,
		UserID:          req.UserID,
		Name:            req.Name,
		Condition:       req.Condition,
		Notify:          req.Notify,
		CooldownMinutes: req.CooldownMinutes,
		IsActive:        true,
	}
	if req.IsActive != nil {
		alert.IsActive = *req.IsActive
	}

	updated, err := h.repo.Update(r.Context(), alert)
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", id).Msg("Failed to update alert")
		http.Error(w, "Failed to update alert", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(alert))
}

// HandleDelete handles DELETE /api/v1/alerts/{id}?userId=...
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, id string) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "Missing userId", http.StatusBadRequest)
		return
	}

	deleted, err := h.repo.Delete(r.Context(), id, userID)
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", id).Msg("Failed to delete alert")
		http.Error(w, "Failed to delete alert", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleHistory handles GET /api/v1/alerts/{id}/history?limit=...
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request, id string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.repo.History(r.Context(), id, limit)
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", id).Msg("Failed to list alert history")
		http.Error(w, "Failed to list alert history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []alerts.HistoryEntry{}
	}

	h.writeJSON(w, http.StatusOK, envelope(entries))
}

func (h *Handler) writeValidationErrors(w http.ResponseWriter, errs []string) {
	h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "validation failed",
		"errors": errs,
	})
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
