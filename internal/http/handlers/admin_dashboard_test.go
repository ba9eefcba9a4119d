package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/pkg/logging"
)

type fakeCompleter struct {
	lastID     uuid.UUID
	lastReason string
	err        error
}

func (f *fakeCompleter) CompleteAsBackend(_ context.Context, bookingID uuid.UUID, reason, _ string) (*bookings.Booking, error) {
	f.lastID = bookingID
	f.lastReason = reason
	if f.err != nil {
		return nil, f.err
	}
	return &bookings.Booking{ID: bookingID, Status: bookings.StatusCompleted}, nil
}

func newAdminRouter(h *AdminDashboardHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) { h.Routes(r) })
	return r
}

func TestGetDashboardOverview(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	handler := NewAdminDashboardHandler(db, nil, logging.Default())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	mock.ExpectQuery(`scheduled_at > \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`created_at >= \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("completed", 30).
			AddRow("cancelled", 9))
	mock.ExpectQuery(`SUM\(total_price_cents\)`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(250_000))
	mock.ExpectQuery(`SUM\(total_price_cents\)`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(40_000))
	mock.ExpectQuery(`status = 'cancelled'`).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow(15_000, 4))
	mock.ExpectQuery(`FROM points_ledger WHERE state IN`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(8_800))
	mock.ExpectQuery(`state = 'reserved'`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(1_200))
	mock.ExpectQuery(`payment_tx_hash <> ''`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
	mock.ExpectQuery(`backend_completed = TRUE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`auto_complete_blocked = TRUE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`status = 'pending_payment'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.GetDashboardOverview(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp DashboardOverviewResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, 42, resp.Bookings.Total)
	assert.Equal(t, 7, resp.Bookings.Upcoming)
	assert.Equal(t, 30, resp.Bookings.ByStatus["completed"])
	assert.Equal(t, int64(250_000), resp.Volume.PaidCents)
	assert.Equal(t, int64(15_000), resp.Volume.RefundedCents)
	assert.Equal(t, 4, resp.Volume.CancelledCount)
	assert.Equal(t, int64(8_800), resp.Points.OutstandingBalance)
	assert.Equal(t, int64(1_200), resp.Points.ReservedPoints)
	assert.Equal(t, 25, resp.Escrow.PaidOnChain)
	assert.Equal(t, 2, resp.Escrow.BackendCompleted)

	require.Len(t, resp.PendingActions, 1)
	assert.Equal(t, "auto_complete_blocked", resp.PendingActions[0].Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDashboardOverviewStatusQueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	handler := NewAdminDashboardHandler(db, nil, logging.Default())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`scheduled_at > \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`created_at >= \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`GROUP BY status`).
		WillReturnError(assert.AnError)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.GetDashboardOverview(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCompleteBackend(t *testing.T) {
	completer := &fakeCompleter{}
	handler := NewAdminDashboardHandler(nil, completer, logging.Default())
	router := newAdminRouter(handler)

	id := uuid.New()
	body := strings.NewReader(`{"reason":"session_verified","notes":"video reviewed"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/bookings/"+id.String()+"/complete-backend", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, completer.lastID)
	assert.Equal(t, "session_verified", completer.lastReason)

	var booking bookings.Booking
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&booking))
	assert.Equal(t, bookings.StatusCompleted, booking.Status)
}

func TestCompleteBackendDefaultsReason(t *testing.T) {
	completer := &fakeCompleter{}
	handler := NewAdminDashboardHandler(nil, completer, logging.Default())
	router := newAdminRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/admin/bookings/"+uuid.NewString()+"/complete-backend", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin_manual", completer.lastReason)
}

func TestCompleteBackendErrors(t *testing.T) {
	completer := &fakeCompleter{err: bookings.ErrNotFound}
	handler := NewAdminDashboardHandler(nil, completer, logging.Default())
	router := newAdminRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/admin/bookings/"+uuid.NewString()+"/complete-backend", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	completer.err = &bookings.ValidationError{Reason: "Booking must be in progress"}
	req = httptest.NewRequest(http.MethodPost, "/admin/bookings/"+uuid.NewString()+"/complete-backend", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Booking must be in progress")

	req = httptest.NewRequest(http.MethodPost, "/admin/bookings/not-a-uuid/complete-backend", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
