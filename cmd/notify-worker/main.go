// The notify worker drains the booking event queue and emails the two
// sides of each booking about lifecycle changes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainslot/chainslot/cmd/mainconfig"
	"github.com/chainslot/chainslot/internal/bookings"
	appconfig "github.com/chainslot/chainslot/internal/config"
	"github.com/chainslot/chainslot/internal/events"
	"github.com/chainslot/chainslot/internal/notify"
	"github.com/chainslot/chainslot/internal/users"
	"github.com/chainslot/chainslot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.EventQueueURL == "" {
		logger.Error("notify worker requires DATABASE_URL and EVENT_QUEUE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL)

	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			sender = s
		}
	case "ses":
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
		}, logger); s != nil {
			sender = s
		}
	}
	if sender == nil {
		logger.Warn("no email provider configured, using stub sender")
		sender = notify.NewStubEmailSender(logger)
	}

	usersRepo := users.NewRepository(pool)
	directory := notify.DirectoryFunc(func(ctx context.Context, userID uuid.UUID) (*notify.Contact, error) {
		u, err := usersRepo.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &notify.Contact{Email: u.Email, Name: u.DisplayName}, nil
	})

	svc := notify.NewService(sender, directory, logger)
	consumer := notify.NewConsumer(queue, svc, bookings.NewRepository(pool), logger)
	go consumer.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("notify worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
