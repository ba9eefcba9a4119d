package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/pkg/logging"
)

// BackendCompleter settles a booking on the customer's behalf. Satisfied
// by the bookings service.
type BackendCompleter interface {
	CompleteAsBackend(ctx context.Context, bookingID uuid.UUID, reason, notes string) (*bookings.Booking, error)
}

// AdminDashboardHandler serves the operator overview and the backend
// completion endpoint.
type AdminDashboardHandler struct {
	db        *sql.DB
	completer BackendCompleter
	logger    *logging.Logger
}

// NewAdminDashboardHandler creates a new admin dashboard handler.
func NewAdminDashboardHandler(db *sql.DB, completer BackendCompleter, logger *logging.Logger) *AdminDashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminDashboardHandler{
		db:        db,
		completer: completer,
		logger:    logger,
	}
}

// Routes mounts the admin endpoints. Callers wrap with admin auth.
func (h *AdminDashboardHandler) Routes(r chi.Router) {
	r.Get("/dashboard", h.GetDashboardOverview)
	r.Post("/bookings/{id}/complete-backend", h.CompleteBackend)
}

// DashboardOverviewResponse contains the main dashboard metrics.
type DashboardOverviewResponse struct {
	Period         string          `json:"period"`
	Bookings       BookingStats    `json:"bookings"`
	Volume         VolumeStats     `json:"volume"`
	Points         PointsStats     `json:"points"`
	Escrow         EscrowStats     `json:"escrow"`
	PendingActions []PendingAction `json:"pending_actions"`
}

// BookingStats contains booking counts for the dashboard.
type BookingStats struct {
	Total    int            `json:"total"`
	Upcoming int            `json:"upcoming"`
	ThisWeek int            `json:"this_week"`
	ByStatus map[string]int `json:"by_status"`
}

// VolumeStats contains settled payment volume in cents.
type VolumeStats struct {
	PaidCents      int64 `json:"paid_cents"`
	ThisWeekCents  int64 `json:"this_week_cents"`
	RefundedCents  int64 `json:"refunded_cents"`
	CancelledCount int   `json:"cancelled_count"`
}

// PointsStats contains ledger totals.
type PointsStats struct {
	OutstandingBalance int64 `json:"outstanding_balance"`
	ReservedPoints     int64 `json:"reserved_points"`
}

// EscrowStats contains on-chain settlement counters.
type EscrowStats struct {
	PaidOnChain      int `json:"paid_on_chain"`
	BackendCompleted int `json:"backend_completed"`
}

// PendingAction represents an item requiring operator attention.
type PendingAction struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	Link        string `json:"link,omitempty"`
}

// GetDashboardOverview returns the operator overview.
// GET /admin/dashboard
func (h *AdminDashboardHandler) GetDashboardOverview(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}

	dashboard := DashboardOverviewResponse{
		Period: period,
		Bookings: BookingStats{
			ByStatus: map[string]int{},
		},
	}

	now := time.Now()
	weekAgo := now.AddDate(0, 0, -7)

	// Booking counts.
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings`,
	).Scan(&dashboard.Bookings.Total)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings WHERE scheduled_at > $1 AND status NOT IN ('cancelled', 'rejected')`, now,
	).Scan(&dashboard.Bookings.Upcoming)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings WHERE created_at >= $1`, weekAgo,
	).Scan(&dashboard.Bookings.ThisWeek)

	rows, err := h.db.QueryContext(r.Context(),
		`SELECT status, COUNT(*) FROM bookings GROUP BY status`,
	)
	if err != nil {
		h.logger.Error("failed to query booking status counts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			h.logger.Error("failed to scan status count row", "error", err)
			continue
		}
		dashboard.Bookings.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("error iterating status count rows", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Settled volume. Paid volume counts bookings whose escrow funded.
	h.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(total_price_cents), 0) FROM bookings
		 WHERE status IN ('paid', 'confirmed', 'in_progress', 'completed')`,
	).Scan(&dashboard.Volume.PaidCents)

	h.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(total_price_cents), 0) FROM bookings
		 WHERE status IN ('paid', 'confirmed', 'in_progress', 'completed') AND created_at >= $1`, weekAgo,
	).Scan(&dashboard.Volume.ThisWeekCents)

	h.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(total_price_cents), 0), COUNT(*) FROM bookings
		 WHERE status = 'cancelled' AND payment_tx_hash <> ''`,
	).Scan(&dashboard.Volume.RefundedCents, &dashboard.Volume.CancelledCount)

	// Points outstanding across all users.
	h.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE state IN ('committed', 'reserved')`,
	).Scan(&dashboard.Points.OutstandingBalance)

	h.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(-delta), 0) FROM points_ledger WHERE state = 'reserved'`,
	).Scan(&dashboard.Points.ReservedPoints)

	// Escrow settlement counters.
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings WHERE payment_tx_hash <> ''`,
	).Scan(&dashboard.Escrow.PaidOnChain)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings WHERE backend_completed = TRUE`,
	).Scan(&dashboard.Escrow.BackendCompleted)

	dashboard.PendingActions = h.getPendingActions(r)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dashboard)
}

func (h *AdminDashboardHandler) getPendingActions(r *http.Request) []PendingAction {
	var actions []PendingAction

	// Bookings whose auto-completion was blocked need a manual decision.
	var blocked int
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings WHERE status = 'in_progress' AND auto_complete_blocked = TRUE`,
	).Scan(&blocked)
	if blocked > 0 {
		actions = append(actions, PendingAction{
			Type:        "auto_complete_blocked",
			Priority:    "high",
			Description: "Bookings blocked from auto-completion require review",
			Count:       blocked,
			Link:        "/admin/bookings?blocked=true",
		})
	}

	// Authorizations signed but never funded on chain.
	var stalePayments int
	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM bookings
		 WHERE status = 'pending_payment' AND created_at < NOW() - INTERVAL '24 hours'`,
	).Scan(&stalePayments)
	if stalePayments > 0 {
		actions = append(actions, PendingAction{
			Type:        "stale_payment",
			Priority:    "medium",
			Description: "Bookings awaiting payment for over 24 hours",
			Count:       stalePayments,
			Link:        "/admin/bookings?status=pending_payment",
		})
	}

	return actions
}

type completeBackendRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes,omitempty"`
}

// CompleteBackend releases escrow for a finished session the customer
// never confirmed.
// POST /admin/bookings/{id}/complete-backend
func (h *AdminDashboardHandler) CompleteBackend(w http.ResponseWriter, r *http.Request) {
	if h.completer == nil {
		http.Error(w, "backend completion unavailable", http.StatusServiceUnavailable)
		return
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req completeBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "admin_manual"
	}

	booking, err := h.completer.CompleteAsBackend(r.Context(), bookingID, req.Reason, req.Notes)
	if err != nil {
		var vErr *bookings.ValidationError
		switch {
		case errors.Is(err, bookings.ErrNotFound):
			http.Error(w, "booking not found", http.StatusNotFound)
		case errors.As(err, &vErr):
			http.Error(w, vErr.Reason, http.StatusBadRequest)
		default:
			h.logger.Error("backend completion failed", "booking_id", bookingID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(booking)
}
