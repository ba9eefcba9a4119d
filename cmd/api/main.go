package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chainslot/chainslot/cmd/mainconfig"
	"github.com/chainslot/chainslot/internal/api/router"
	"github.com/chainslot/chainslot/internal/availability"
	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/cancellation"
	"github.com/chainslot/chainslot/internal/catalog"
	"github.com/chainslot/chainslot/internal/chain"
	appconfig "github.com/chainslot/chainslot/internal/config"
	"github.com/chainslot/chainslot/internal/escrow"
	"github.com/chainslot/chainslot/internal/events"
	"github.com/chainslot/chainslot/internal/http/handlers"
	"github.com/chainslot/chainslot/internal/meetings"
	"github.com/chainslot/chainslot/internal/notify"
	"github.com/chainslot/chainslot/internal/observability/metrics"
	"github.com/chainslot/chainslot/internal/points"
	"github.com/chainslot/chainslot/internal/users"
	"github.com/chainslot/chainslot/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting chainslot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The admin dashboard aggregates over database/sql.
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open sql db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = redisClient.Close() }()
	}

	// Repositories
	bookingsRepo := bookings.NewRepository(pool)
	usersRepo := users.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	pointsRepo := points.NewRepository(pool)
	policyRepo := cancellation.NewPolicyRepository(pool)
	eventStore := chain.NewEventStore(pool)
	nonceStore := escrow.NewNonceStore(pool)
	outbox := events.NewOutboxStore(pool)
	publisher := events.NewPublisher(outbox, logger)

	// Escrow signer: without a key, bookings degrade to payment_setup_pending.
	var signer *escrow.Signer
	if cfg.SignerPrivateKey != "" {
		signer, err = escrow.NewSigner(
			cfg.SignerPrivateKey,
			cfg.ChainID,
			cfg.EscrowContractAddress,
			cfg.AuthorizationExpiry,
			escrow.FeeConfig{PlatformBps: cfg.PlatformFeeBps, InviterBps: cfg.InviterFeeBps},
			nonceStore,
			logger,
		)
		if err != nil {
			logger.Error("failed to create escrow signer", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("ESCROW_SIGNER_KEY not set, payment authorizations disabled")
	}

	var chainClient *chain.Client
	if cfg.ChainRPCURL != "" && cfg.SignerPrivateKey != "" {
		chainClient, err = chain.NewClient(cfg.ChainRPCURL, cfg.SignerPrivateKey, cfg.EscrowContractAddress, cfg.ChainID, logger)
		if err != nil {
			logger.Error("failed to create chain client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("CHAIN_RPC_URL not set, backend completions disabled")
	}

	// Meeting links for online bookings
	credStore := meetings.NewCredentialStore(pool)
	googleGen := meetings.NewGoogleGenerator(credStore, logger)
	meetingSvc := meetings.NewService(credStore, googleGen, meetings.NewZoomGenerator(cfg.ZoomBaseURL, credStore, logger), logger)

	var oracle availability.Oracle
	if cfg.AvailabilityBaseURL != "" {
		oracle = availability.NewClient(cfg.AvailabilityBaseURL, logger)
	}

	velocity := bookings.NewVelocityChecker(redisClient, bookings.VelocityConfig{
		MaxBookingsPerCustomer: cfg.MaxBookingsPerCustomer,
		Window:                 time.Duration(cfg.BookingWindowHours) * time.Hour,
		Enabled:                redisClient != nil,
	}, logger)

	bookingMetrics := metrics.NewBookingMetrics(nil)
	pointsCalc := points.NewCalculator(cfg.PointsPerUSDC)

	svcDeps := bookings.ServiceDeps{
		Store:        bookingsRepo,
		Users:        usersRepo,
		Catalog:      catalogRepo,
		Availability: oracle,
		Velocity:     velocity,
		Points:       pointsRepo,
		PointsCalc:   pointsCalc,
		Meetings:     meetingSvc,
		Durations:    googleGen,
		EventLog:     eventStore,
		Publisher:    publisher,
		Metrics:      bookingMetrics,
		Logger:       logger,

		ContractAddress:          cfg.EscrowContractAddress,
		PlatformFeeBps:           cfg.PlatformFeeBps,
		AutoCompleteThresholdPct: cfg.AutoCompleteThresholdPct,
		AutoCompleteAfter:        cfg.AutoCompleteAfter,
	}
	if signer != nil {
		svcDeps.Signer = signer
		svcDeps.Refunds = signer
	}
	if chainClient != nil {
		svcDeps.Chain = chainClient
	}
	bookingSvc := bookings.NewService(svcDeps)

	var refundSigner cancellation.RefundSigner
	if signer != nil {
		refundSigner = signer
	}
	engine := cancellation.NewEngine(bookingsRepo, policyRepo, refundSigner, pointsRepo, cfg.PlatformFeeBps, logger)

	// Outbox delivery onto the event queue
	queue := buildQueue(ctx, cfg, logger)
	if queue != nil {
		deliverer := events.NewDeliverer(outbox, events.NewQueueHandler(queue), logger).
			WithInterval(2 * time.Second)
		go deliverer.Start(ctx)
	}

	// With the in-memory queue the notification consumer must run in this
	// process; with SQS a separate worker drains the queue.
	if cfg.UseMemoryQueue && queue != nil {
		emailSender := buildEmailSender(cfg, logger)
		notifySvc := notify.NewService(emailSender, userDirectory(usersRepo), logger)
		consumer := notify.NewConsumer(queue, notifySvc, bookingsRepo, logger)
		go consumer.Run(ctx)
	}

	// Handlers
	bookingsHandler := bookings.NewHandler(bookingSvc, logger)
	cancellationHandler := cancellation.NewHandler(engine, policyRepo, logger)
	pointsHandler := points.NewHandler(pointsRepo, pointsCalc, logger)
	adminDashboard := handlers.NewAdminDashboardHandler(sqlDB, bookingSvc, logger)

	routerCfg := &router.Config{
		Logger:              logger,
		BookingsHandler:     bookingsHandler,
		CancellationHandler: cancellationHandler,
		PointsHandler:       pointsHandler,
		AdminDashboard:      adminDashboard,
		MetricsHandler:      promhttp.Handler(),
		UserAuthSecret:      cfg.JWTSecret,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildQueue picks the event transport.
func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) events.Queue {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory event queue")
		return events.NewMemoryQueue(0)
	}
	if cfg.EventQueueURL == "" {
		logger.Warn("EVENT_QUEUE_URL not set, event delivery disabled")
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	return events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL)
}

func buildEmailSender(cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
		if err == nil {
			if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
			}, logger); sender != nil {
				return sender
			}
		}
	}
	logger.Warn("no email provider configured, using stub sender")
	return notify.NewStubEmailSender(logger)
}

// userDirectory adapts the users repository to the notify contact lookup.
func userDirectory(repo *users.Repository) notify.Directory {
	return notify.DirectoryFunc(func(ctx context.Context, userID uuid.UUID) (*notify.Contact, error) {
		u, err := repo.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &notify.Contact{Email: u.Email, Name: u.DisplayName}, nil
	})
}
