package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainslot/chainslot/pkg/logging"
)

// VelocityConfig bounds how fast a single customer may create bookings.
type VelocityConfig struct {
	MaxBookingsPerCustomer int
	Window                 time.Duration
	Enabled                bool
}

func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxBookingsPerCustomer: 10,
		Window:                 24 * time.Hour,
		Enabled:                true,
	}
}

// VelocityResult reports whether a creation attempt is within limits.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int64
	MaxAllowed   int
	WindowExpiry time.Time
}

// VelocityChecker rate-limits booking creation per customer using redis
// counters. A redis outage fails open: slot safety is the database's job,
// this guard only dampens abuse.
type VelocityChecker struct {
	redis  *redis.Client
	config VelocityConfig
	logger *logging.Logger
}

func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		config: config,
		logger: logger,
	}
}

// Check increments the customer's attempt counter and reports whether the
// attempt is allowed.
func (v *VelocityChecker) Check(ctx context.Context, customerID string) (*VelocityResult, error) {
	if !v.config.Enabled || v.redis == nil {
		return &VelocityResult{Allowed: true}, nil
	}

	key := fmt.Sprintf("booking_velocity:%s", customerID)
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		v.logger.Warn("velocity check unavailable, allowing", "error", err, "customer_id", customerID)
		return &VelocityResult{Allowed: true}, nil
	}
	if count == 1 {
		if err := v.redis.Expire(ctx, key, v.config.Window).Err(); err != nil {
			v.logger.Warn("velocity window expiry not set", "error", err, "customer_id", customerID)
		}
	}

	ttl, _ := v.redis.TTL(ctx, key).Result()
	result := &VelocityResult{
		Allowed:      count <= int64(v.config.MaxBookingsPerCustomer),
		CurrentCount: count,
		MaxAllowed:   v.config.MaxBookingsPerCustomer,
		WindowExpiry: time.Now().Add(ttl),
	}
	if !result.Allowed {
		v.logger.Warn("booking velocity limit hit",
			"customer_id", customerID,
			"count", count,
			"max", v.config.MaxBookingsPerCustomer,
		)
	}
	return result, nil
}
