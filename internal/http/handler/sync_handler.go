package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/http/middleware"
	"github.com/channelpulse/device-sync-service/internal/http/response"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
	"github.com/channelpulse/device-sync-service/internal/service"
)

type SyncHandler struct {
	devices *service.DeviceSyncService
}

func NewSyncHandler(devices *service.DeviceSyncService) *SyncHandler {
	return &SyncHandler{devices: devices}
}

func (h *SyncHandler) PendingEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		limit = parsed
	}
	events, err := h.devices.GetPendingSyncEvents(r.Context(), userID, limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "pending event listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, events)
}

func (h *SyncHandler) AckEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	eventID, err := uintParam(r, "event_id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	changed, err := h.devices.MarkSyncEventProcessed(r.Context(), userID, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrSyncEventNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "sync event not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "sync event ack failed", nil)
		return
	}
	observability.Audit(r, "sync.event.ack",
		"user_id", userID,
		"event_id", eventID,
		"changed", changed,
	)
	response.JSON(w, r, http.StatusOK, map[string]bool{"processed": true, "changed": changed})
}

func (h *SyncHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	cfg, err := h.devices.GetSyncConfig(r.Context(), userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "sync config read failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, cfg)
}

func (h *SyncHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var updates domain.SyncConfig
	if err := decodeJSON(r, &updates); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	cfg, err := h.devices.UpdateSyncConfig(r.Context(), userID, updates)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSyncConfig) {
			response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "sync config update failed", nil)
		return
	}
	observability.Audit(r, "sync.config.update", "user_id", userID)
	response.JSON(w, r, http.StatusOK, cfg)
}
