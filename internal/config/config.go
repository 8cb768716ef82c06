// Package config reads service configuration from the environment, after
// loading a .env file when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamo   = "dynamodb"

	NotifyLog   = "log"
	NotifyKafka = "kafka"
	NotifySMTP  = "smtp"
)

// MinJWTSecretLength guards against short HMAC keys.
const MinJWTSecretLength = 32

type Config struct {
	Env         string
	LogLevel    string
	ServiceName string
	HTTPAddr    string

	StoreBackend string
	DatabaseURL  string
	DynamoTable  string
	// DynamoEventsTable holds stock movements for the dynamodb backend.
	DynamoEventsTable string
	DynamoEndpoint    string
	AWSRegion         string

	KafkaBrokers      []string
	MovementTopic     string
	NotificationTopic string
	NotifierGroup     string

	RedisAddr     string
	RedisPassword string

	JWTSecret string
	JWTIssuer string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayBaseURL       string
	RazorpayWebhookSecret string
	GatewayTimeout        time.Duration
	Currency              string

	NotifyMode   string
	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	// PendingOrderTTL enables the expiry sweep when non-zero.
	PendingOrderTTL     time.Duration
	ExpirySweepInterval time.Duration

	OTelEndpoint    string
	OTelInsecure    bool
	OTelStdout      bool
	OTelSampleRatio float64
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment without touching .env.
func FromEnv() (Config, error) {
	var errs []string
	p := &parser{errs: &errs}

	cfg := Config{
		Env:         getenv("APP_ENV", "dev"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		ServiceName: getenv("SERVICE_NAME", "ec-fulfillment"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		StoreBackend:      strings.ToLower(getenv("STORE_BACKEND", StoreMemory)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DynamoTable:       getenv("DYNAMODB_TABLE", "ec-fulfillment"),
		DynamoEventsTable: getenv("DYNAMODB_EVENTS_TABLE", "ec-fulfillment-movements"),
		DynamoEndpoint:    os.Getenv("DYNAMODB_ENDPOINT"),
		AWSRegion:         getenv("AWS_REGION", "ap-south-1"),

		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),
		MovementTopic:     getenv("KAFKA_MOVEMENT_TOPIC", "stock-movements"),
		NotificationTopic: getenv("KAFKA_NOTIFICATION_TOPIC", "order-notifications"),
		NotifierGroup:     getenv("KAFKA_NOTIFIER_GROUP", "email-notifier"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: os.Getenv("JWT_ISSUER"),

		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayBaseURL:       os.Getenv("RAZORPAY_BASE_URL"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		GatewayTimeout:        p.duration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
		Currency:              getenv("CURRENCY", "INR"),

		NotifyMode:   strings.ToLower(getenv("NOTIFY_MODE", NotifyLog)),
		SMTPHost:     getenv("SMTP_HOST", "localhost"),
		SMTPPort:     getenv("SMTP_PORT", "1025"),
		SMTPFrom:     getenv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		PendingOrderTTL:     p.duration("PENDING_ORDER_TTL", 0),
		ExpirySweepInterval: p.duration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),

		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:    p.bool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTelStdout:      p.bool("OTEL_STDOUT"),
		OTelSampleRatio: p.float("OTEL_SAMPLER_RATIO", 1),
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least %d characters long", MinJWTSecretLength))
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreDynamo:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STORE_BACKEND %q", cfg.StoreBackend))
	}

	switch cfg.NotifyMode {
	case NotifyLog, NotifySMTP:
	case NotifyKafka:
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, "KAFKA_BROKERS is required when NOTIFY_MODE=kafka")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown NOTIFY_MODE %q", cfg.NotifyMode))
	}

	if cfg.PendingOrderTTL < 0 {
		errs = append(errs, "PENDING_ORDER_TTL must not be negative")
	}
	if cfg.ExpiryEnabled() && cfg.ExpirySweepInterval <= 0 {
		errs = append(errs, "EXPIRY_SWEEP_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// ExpiryEnabled reports whether the pending-order sweep should run.
func (c Config) ExpiryEnabled() bool {
	return c.PendingOrderTTL > 0
}

type parser struct {
	errs *[]string
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func (p *parser) bool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
	}
	return b
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return f
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
