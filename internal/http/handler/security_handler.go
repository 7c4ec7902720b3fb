package handler

import (
	"errors"
	"net/http"

	"github.com/channelpulse/device-sync-service/internal/http/middleware"
	"github.com/channelpulse/device-sync-service/internal/http/response"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
	"github.com/channelpulse/device-sync-service/internal/service"
)

type SecurityHandler struct {
	devices *service.DeviceSyncService
}

func NewSecurityHandler(devices *service.DeviceSyncService) *SecurityHandler {
	return &SecurityHandler{devices: devices}
}

func (h *SecurityHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
	alerts, err := h.devices.ListSecurityAlerts(r.Context(), userID, unresolvedOnly)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "alert listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, alerts)
}

func (h *SecurityHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertFlag(w, r, "acknowledge")
}

func (h *SecurityHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertFlag(w, r, "resolve")
}

func (h *SecurityHandler) setAlertFlag(w http.ResponseWriter, r *http.Request, operation string) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	alertID, err := uintParam(r, "alert_id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	var changed bool
	if operation == "acknowledge" {
		changed, err = h.devices.AcknowledgeSecurityAlert(r.Context(), userID, alertID)
	} else {
		changed, err = h.devices.ResolveSecurityAlert(r.Context(), userID, alertID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrSecurityAlertNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "security alert not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "alert update failed", nil)
		return
	}
	observability.Audit(r, "security.alert."+operation,
		"user_id", userID,
		"alert_id", alertID,
		"changed", changed,
	)
	response.JSON(w, r, http.StatusOK, map[string]bool{"changed": changed})
}
