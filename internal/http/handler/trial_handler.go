package handler

import (
	"net/http"
	"strings"

	"github.com/channelpulse/device-sync-service/internal/domain"
	"github.com/channelpulse/device-sync-service/internal/http/middleware"
	"github.com/channelpulse/device-sync-service/internal/http/response"
	"github.com/channelpulse/device-sync-service/internal/observability"
	"github.com/channelpulse/device-sync-service/internal/service"
)

type TrialHandler struct {
	trials *service.TrialQuotaService
}

func NewTrialHandler(trials *service.TrialQuotaService) *TrialHandler {
	return &TrialHandler{trials: trials}
}

type consumeTrialRequest struct {
	Fingerprint string            `json:"fingerprint"`
	ActionType  string            `json:"action_type"`
	Weight      int               `json:"weight"`
	Metadata    map[string]string `json:"metadata"`
}

// Consume spends trial quota for one anonymous action. Denials are part of the
// success envelope: the client inspects data.success, not the HTTP status.
func (h *TrialHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeTrialRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	req.Fingerprint = strings.TrimSpace(req.Fingerprint)
	if req.Fingerprint == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "fingerprint is required", nil)
		return
	}
	if req.ActionType == "" {
		req.ActionType = "analyze"
	}

	action := domain.TrialAction{
		Type:      req.ActionType,
		IPAddress: requestIP(r),
		Metadata:  req.Metadata,
	}
	result := h.trials.ConsumeTrial(r.Context(), req.Fingerprint, action, req.Weight)
	observability.Audit(r, "trial.consume",
		"action_type", req.ActionType,
		"allowed", result.Success,
		"blocked", result.Blocked,
	)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *TrialHandler) Status(w http.ResponseWriter, r *http.Request) {
	fingerprint := fingerprintFrom(r)
	if fingerprint == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "fingerprint is required", nil)
		return
	}
	status, err := h.trials.GetTrialStatus(r.Context(), fingerprint)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "TRIAL_UNAVAILABLE", "trial status is temporarily unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *TrialHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	fingerprint := fingerprintFrom(r)
	if fingerprint == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "fingerprint is required", nil)
		return
	}
	// The advisory limit fails open; a store error still answers allowed.
	result, _ := h.trials.CheckRateLimit(r.Context(), fingerprint)
	response.JSON(w, r, http.StatusOK, result)
}

type convertTrialRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// Convert stamps the fingerprint's trial record with the authenticated user.
func (h *TrialHandler) Convert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req convertTrialRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	req.Fingerprint = strings.TrimSpace(req.Fingerprint)
	if req.Fingerprint == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "fingerprint is required", nil)
		return
	}
	if err := h.trials.MarkUserConverted(r.Context(), req.Fingerprint, userID); err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "TRIAL_UNAVAILABLE", "trial conversion is temporarily unavailable", nil)
		return
	}
	observability.Audit(r, "trial.convert", "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"converted": true})
}
