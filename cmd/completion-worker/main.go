// The completion worker periodically releases escrow for finished
// sessions the customer never confirmed, subject to the session duration
// gate.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainslot/chainslot/internal/bookings"
	"github.com/chainslot/chainslot/internal/catalog"
	"github.com/chainslot/chainslot/internal/chain"
	appconfig "github.com/chainslot/chainslot/internal/config"
	"github.com/chainslot/chainslot/internal/events"
	"github.com/chainslot/chainslot/internal/meetings"
	"github.com/chainslot/chainslot/internal/users"
	"github.com/chainslot/chainslot/pkg/logging"
)

const batchLimit = 50

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("completion worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var chainClient *chain.Client
	if cfg.ChainRPCURL != "" && cfg.SignerPrivateKey != "" {
		chainClient, err = chain.NewClient(cfg.ChainRPCURL, cfg.SignerPrivateKey, cfg.EscrowContractAddress, cfg.ChainID, logger)
		if err != nil {
			logger.Error("failed to create chain client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("chain client not configured, completions settle off-chain records only")
	}

	credStore := meetings.NewCredentialStore(pool)
	googleGen := meetings.NewGoogleGenerator(credStore, logger)
	outbox := events.NewOutboxStore(pool)

	deps := bookings.ServiceDeps{
		Store:     bookings.NewRepository(pool),
		Users:     users.NewRepository(pool),
		Catalog:   catalog.NewRepository(pool),
		Durations: googleGen,
		EventLog:  chain.NewEventStore(pool),
		Publisher: events.NewPublisher(outbox, logger),
		Logger:    logger,

		ContractAddress:          cfg.EscrowContractAddress,
		PlatformFeeBps:           cfg.PlatformFeeBps,
		AutoCompleteThresholdPct: cfg.AutoCompleteThresholdPct,
		AutoCompleteAfter:        cfg.AutoCompleteAfter,
	}
	if chainClient != nil {
		deps.Chain = chainClient
	}
	svc := bookings.NewService(deps)

	interval := cfg.CompletionPollInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger.Info("completion worker started", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				completed := svc.RunAutoCompletion(ctx, batchLimit)
				if completed > 0 {
					logger.Info("auto-completion pass finished", "completed", completed)
				}
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("completion worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
