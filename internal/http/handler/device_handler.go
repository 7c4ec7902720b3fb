package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/channelpulse/device-sync-service/internal/http/middleware"
	"github.com/channelpulse/device-sync-service/internal/http/response"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/repository"
	"github.com/channelpulse/device-sync-service/internal/service"
)

type DeviceHandler struct {
	devices *service.DeviceSyncService
}

func NewDeviceHandler(devices *service.DeviceSyncService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var info service.DeviceInfo
	if err := decodeJSON(r, &info); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if info.IPAddress == "" {
		info.IPAddress = requestIP(r)
	}
	device, err := h.devices.RegisterDevice(r.Context(), userID, info)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDeviceInfo) {
			response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device registration failed", nil)
		return
	}
	observability.Audit(r, "device.register",
		"user_id", userID,
		"device_id", device.ID,
		"device_type", device.DeviceType,
	)
	response.JSON(w, r, http.StatusOK, device)
}

type createSessionRequest struct {
	SessionToken      string     `json:"session_token"`
	ExternalSessionID *string    `json:"external_session_id"`
	LoginMethod       string     `json:"login_method"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

func (h *DeviceHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	deviceID, err := uintParam(r, "device_id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	params := service.SessionParams{
		SessionToken:      req.SessionToken,
		ExternalSessionID: req.ExternalSessionID,
		LoginMethod:       req.LoginMethod,
	}
	if req.ExpiresAt != nil {
		params.ExpiresAt = *req.ExpiresAt
	}
	session, err := h.devices.CreateDeviceSession(r.Context(), userID, deviceID, params)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session creation failed", nil)
		return
	}
	observability.Audit(r, "device.session.create",
		"user_id", userID,
		"device_id", deviceID,
		"session_id", session.ID,
	)
	response.JSON(w, r, http.StatusOK, session)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var err error
	var devices any
	if r.URL.Query().Get("active") == "true" {
		devices, err = h.devices.ListActiveDevices(r.Context(), userID)
	} else {
		devices, err = h.devices.ListDevices(r.Context(), userID)
	}
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device listing failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, devices)
}

func (h *DeviceHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	report, err := h.devices.DetectLoginConflicts(r.Context(), userID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "conflict detection failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, report)
}

type resolveConflictsRequest struct {
	CurrentDeviceID uint `json:"current_device_id"`
}

func (h *DeviceHandler) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req resolveConflictsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if req.CurrentDeviceID == 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "current_device_id is required", nil)
		return
	}
	report, err := h.devices.HandleLoginConflicts(r.Context(), userID, req.CurrentDeviceID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "conflict resolution failed", nil)
		return
	}
	observability.Audit(r, "device.conflicts.resolve",
		"user_id", userID,
		"current_device_id", req.CurrentDeviceID,
		"had_conflicts", report.HasConflicts,
	)
	response.JSON(w, r, http.StatusOK, report)
}

type logoutDeviceRequest struct {
	Reason string `json:"reason"`
}

func (h *DeviceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	deviceID, err := uintParam(r, "device_id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	var req logoutDeviceRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
	}
	terminated, err := h.devices.LogoutDevice(r.Context(), userID, deviceID, req.Reason)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "device logout failed", nil)
		return
	}
	observability.Audit(r, "device.logout",
		"user_id", userID,
		"device_id", deviceID,
		"terminated_sessions", terminated,
	)
	response.JSON(w, r, http.StatusOK, map[string]int64{"terminated_sessions": terminated})
}

type logoutOthersRequest struct {
	CurrentDeviceID uint `json:"current_device_id"`
}

func (h *DeviceHandler) LogoutOthers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req logoutOthersRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if req.CurrentDeviceID == 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "current_device_id is required", nil)
		return
	}
	terminatedDevices, err := h.devices.LogoutOtherDevices(r.Context(), userID, req.CurrentDeviceID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout of other devices failed", nil)
		return
	}
	observability.Audit(r, "device.logout_others",
		"user_id", userID,
		"current_device_id", req.CurrentDeviceID,
		"terminated_devices", terminatedDevices,
	)
	response.JSON(w, r, http.StatusOK, map[string]int64{"terminated_devices": terminatedDevices})
}
