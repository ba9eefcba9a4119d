package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/cancellation"
	"github.com/chainslot/chainslot/internal/http/handlers"
	httpmiddleware "github.com/chainslot/chainslot/internal/http/middleware"
	"github.com/chainslot/chainslot/internal/points"
	"github.com/chainslot/chainslot/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	BookingsHandler     *bookings.Handler
	CancellationHandler *cancellation.Handler
	PointsHandler       *points.Handler
	AdminDashboard      *handlers.AdminDashboardHandler
	MetricsHandler      http.Handler

	UserAuthSecret  string
	AdminAuthSecret string

	CORSAllowedOrigins []string

	// Requests per second per client IP; zero disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints (health check, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// User-authenticated API routes
	if cfg.UserAuthSecret != "" {
		r.Group(func(api chi.Router) {
			api.Use(httpmiddleware.UserAuth(cfg.UserAuthSecret))
			if cfg.BookingsHandler != nil {
				cfg.BookingsHandler.Routes(api)
			}
			if cfg.CancellationHandler != nil {
				cfg.CancellationHandler.Routes(api)
			}
			if cfg.PointsHandler != nil {
				cfg.PointsHandler.Routes(api)
			}
		})
	}

	// Admin routes (separate operator JWT)
	if cfg.AdminAuthSecret != "" && cfg.AdminDashboard != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			cfg.AdminDashboard.Routes(admin)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
