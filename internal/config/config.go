package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Auth
	JWTSecret      string
	AdminJWTSecret string

	// Requests per second per client IP; zero disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Escrow signing
	SignerPrivateKey      string
	ChainID               int64
	ChainRPCURL           string
	EscrowContractAddress string
	USDCTokenAddress      string
	AuthorizationExpiry   time.Duration
	PlatformFeeBps        int
	InviterFeeBps         int

	// Points ledger: how many points equal one USDC
	PointsPerUSDC int

	// Auto-completion
	AutoCompleteThresholdPct int
	AutoCompleteAfter        time.Duration
	CompletionPollInterval   time.Duration

	// Velocity limits on booking creation
	MaxBookingsPerCustomer int
	BookingWindowHours     int

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Fire-and-forget event delivery
	UseMemoryQueue bool
	EventQueueURL  string
	WorkerCount    int

	// AWS (SQS + SES)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Email notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	// Meeting providers
	GoogleCredentialsJSON string
	ZoomBaseURL           string

	// Availability oracle
	AvailabilityBaseURL string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. A local .env file
// is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 0),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		SignerPrivateKey:      getEnv("ESCROW_SIGNER_KEY", ""),
		ChainID:               int64(getEnvAsInt("CHAIN_ID", 8453)),
		ChainRPCURL:           getEnv("CHAIN_RPC_URL", ""),
		EscrowContractAddress: getEnv("ESCROW_CONTRACT_ADDRESS", ""),
		USDCTokenAddress:      getEnv("USDC_TOKEN_ADDRESS", ""),
		AuthorizationExpiry:   getEnvAsDuration("AUTHORIZATION_EXPIRY", 5*time.Minute),
		PlatformFeeBps:        getEnvAsInt("PLATFORM_FEE_BPS", 1000),
		InviterFeeBps:         getEnvAsInt("INVITER_FEE_BPS", 200),

		PointsPerUSDC: getEnvAsInt("POINTS_PER_USDC", 100),

		AutoCompleteThresholdPct: getEnvAsInt("AUTO_COMPLETE_THRESHOLD_PCT", 90),
		AutoCompleteAfter:        getEnvAsDuration("AUTO_COMPLETE_AFTER", 24*time.Hour),
		CompletionPollInterval:   getEnvAsDuration("COMPLETION_POLL_INTERVAL", 15*time.Minute),

		MaxBookingsPerCustomer: getEnvAsInt("MAX_BOOKINGS_PER_CUSTOMER", 10),
		BookingWindowHours:     getEnvAsInt("BOOKING_WINDOW_HOURS", 24),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		EventQueueURL:  getEnv("EVENT_QUEUE_URL", ""),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Chainslot"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		ZoomBaseURL:           getEnv("ZOOM_BASE_URL", "https://api.zoom.us/v2"),

		AvailabilityBaseURL: getEnv("AVAILABILITY_BASE_URL", ""),

		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
