package points

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chainslot/chainslot/internal/http/middleware"
	"github.com/chainslot/chainslot/pkg/logging"
)

// Handler exposes the caller's points balance and the quote endpoint the
// booking form uses before submitting.
type Handler struct {
	repo   *Repository
	calc   Calculator
	logger *logging.Logger
}

func NewHandler(repo *Repository, calc Calculator, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("points: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, calc: calc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/points/balance", h.balance)
	r.Get("/points/quote", h.quote)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	balance, err := h.repo.Balance(r.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":     balance,
		"value_cents": h.calc.CentsValue(balance),
	})
}

// quote previews how far the caller's points stretch against a price.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	priceCents, err := strconv.ParseInt(r.URL.Query().Get("price_cents"), 10, 64)
	if err != nil || priceCents <= 0 {
		writeError(w, http.StatusBadRequest, "invalid price_cents")
		return
	}
	balance, err := h.repo.Balance(r.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, h.calc.CalculateUsage(priceCents, balance))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
