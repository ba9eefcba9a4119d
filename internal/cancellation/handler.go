package cancellation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/http/middleware"
	"github.com/chainslot/chainslot/pkg/logging"
)

// Handler exposes the policy engine over HTTP.
type Handler struct {
	engine   *Engine
	policies PolicySource
	logger   *logging.Logger
}

func NewHandler(engine *Engine, policies PolicySource, logger *logging.Logger) *Handler {
	if engine == nil || policies == nil {
		panic("cancellation: engine and policies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, policies: policies, logger: logger}
}

// Routes mounts the cancellation endpoints. Callers wrap with user auth.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/cancellation-policies", h.listPolicies)
	r.Get("/bookings/{id}/cancellation-policies", h.applicablePolicies)
	r.Get("/bookings/{id}/refund-breakdown", h.refundBreakdown)
	r.Post("/bookings/{id}/cancel-with-policy", h.cancelWithPolicy)
	r.Post("/bookings/{id}/authorize-cancellation", h.authorizeCancellation)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.List(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if policies == nil {
		policies = []Policy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) applicablePolicies(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	policies, err := h.engine.ApplicablePolicies(r.Context(), bookingID, callerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if policies == nil {
		policies = []Policy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) refundBreakdown(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	policyID, err := uuid.Parse(r.URL.Query().Get("policy_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy_id")
		return
	}
	breakdown, err := h.engine.PreviewRefund(r.Context(), bookingID, callerID, policyID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

type cancelWithPolicyRequest struct {
	PolicyID string `json:"policy_id"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) cancelWithPolicy(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req cancelWithPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	policyID, err := uuid.Parse(req.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy_id")
		return
	}

	result, err := h.engine.CancelWithPolicy(r.Context(), bookingID, callerID, policyID, req.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) authorizeCancellation(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req cancelWithPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	policyID, err := uuid.Parse(req.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy_id")
		return
	}

	result, err := h.engine.AuthorizeCancellation(r.Context(), bookingID, callerID, policyID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, uuid.Nil, false
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return uuid.Nil, uuid.Nil, false
	}
	return callerID, bookingID, true
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bookings.ErrNotFound):
		writeError(w, http.StatusNotFound, "Booking not found")
	case errors.Is(err, ErrPolicyNotFound):
		writeError(w, http.StatusNotFound, "Policy not found")
	case errors.Is(err, ErrNotParticipant):
		writeError(w, http.StatusForbidden, "Not authorized for this booking")
	case errors.Is(err, ErrNotCancellable):
		writeError(w, http.StatusBadRequest, "Booking cannot be cancelled in its current status")
	case errors.Is(err, ErrPolicyNotApplicable):
		writeError(w, http.StatusBadRequest, "Policy does not apply at this time")
	default:
		h.logger.Error("cancellation request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
