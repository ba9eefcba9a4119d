package bookings

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/http/middleware"
	"github.com/chainslot/chainslot/pkg/logging"
)

// Handler exposes the booking lifecycle over HTTP.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("bookings: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the booking endpoints on a chi router. Callers wrap the
// returned router with user auth.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bookings", h.create)
	r.Get("/bookings", h.list)
	r.Get("/bookings/{id}", h.get)
	r.Post("/bookings/{id}/authorize-payment", h.authorizePayment)
	r.Patch("/bookings/{id}", h.updateStatus)
	r.Post("/bookings/{id}/cancel", h.cancel)
	r.Post("/bookings/{id}/reject", h.reject)
	r.Post("/bookings/{id}/complete-service", h.complete)
	r.Get("/bookings/{id}/blockchain-status", h.blockchainStatus)
}

type createBookingRequest struct {
	ServiceID   string `json:"service_id"`
	ScheduledAt string `json:"scheduled_at"`
	Notes       string `json:"notes,omitempty"`
	UsePoints   bool   `json:"use_points"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid service_id")
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scheduled_at format")
		return
	}

	result, err := h.svc.Create(r.Context(), CreateRequest{
		CustomerID:  callerID,
		ServiceID:   serviceID,
		ScheduledAt: scheduledAt,
		Notes:       req.Notes,
		UsePoints:   req.UsePoints,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	role := ActorCustomer
	if r.URL.Query().Get("role") == "provider" {
		role = ActorProvider
	}
	bookings, err := h.svc.List(r.Context(), callerID, role)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []*Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.Get(r.Context(), bookingID, callerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) authorizePayment(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	auth, err := h.svc.AuthorizePayment(r.Context(), bookingID, callerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	booking, err := h.svc.UpdateStatus(r.Context(), bookingID, callerID, Status(req.Status))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	booking, err := h.svc.Cancel(r.Context(), bookingID, callerID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	booking, err := h.svc.Reject(r.Context(), bookingID, callerID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	instructions, err := h.svc.CompleteByCustomer(r.Context(), bookingID, callerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instructions)
}

func (h *Handler) blockchainStatus(w http.ResponseWriter, r *http.Request) {
	callerID, bookingID, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.BlockchainStatus(r.Context(), bookingID, callerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
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

// writeServiceError maps service errors onto HTTP responses. The reason
// strings are part of the API surface; clients match on them.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	var ce *ConflictError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "Time slot not available",
			"conflicts": ce.Conflicts,
		})
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Reason)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Booking not found")
	case errors.Is(err, ErrNotEligible):
		writeError(w, http.StatusBadRequest, "Booking not eligible for payment")
	case errors.Is(err, ErrNotProvider):
		writeError(w, http.StatusForbidden, "Only the provider can reject this booking")
	case errors.Is(err, ErrNotCustomer), errors.Is(err, ErrNotParticipant):
		writeError(w, http.StatusForbidden, "Not authorized for this booking")
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "Invalid status transition")
	case errors.Is(err, ErrStaleStatus):
		writeError(w, http.StatusConflict, "Booking status changed, retry")
	case errors.Is(err, ErrTooManyBookings):
		writeError(w, http.StatusTooManyRequests, "Too many booking attempts, slow down")
	default:
		h.logger.Error("booking request failed", "error", err)
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
