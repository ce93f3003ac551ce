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
	Port        string
	Env         string
	LogLevel    string
	AppBaseURL  string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// WaitlistBackend selects "memory" or "redis".
	WaitlistBackend string
	// TaskQueue selects the durable substrate for automation triggers: "postgres" or "sqs".
	TaskQueue          string
	AutomationQueueURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Email: "sendgrid", "ses" or "stub"
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SendGridHost      string
	SESFromEmail      string
	SESFromName       string

	// SMS: "twilio" or "stub"
	SMSProvider      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	ReportArchiveBucket string
	AdminJWTSecret      string

	NotifyChannelTimeout time.Duration
	SweepConcurrency     int
	SweepLockTTL         time.Duration
	SweepTimeout         time.Duration

	TrialWarningInterval   time.Duration
	TrialExpiryInterval    time.Duration
	RecurringSweepInterval time.Duration
	WaitlistSweepInterval  time.Duration
	WeeklyReportInterval   time.Duration
	MonthlyReportInterval  time.Duration
	RecurringLookback      time.Duration

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int
	OutboxBaseDelay   time.Duration

	TrialLength        time.Duration
	TrialWarningWindow time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honoured when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AppBaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", ""), "/"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WaitlistBackend:    strings.ToLower(getEnv("WAITLIST_BACKEND", "redis")),
		TaskQueue:          strings.ToLower(getEnv("TASK_QUEUE", "postgres")),
		AutomationQueueURL: getEnv("AUTOMATION_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "stub")),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Operations"),
		SendGridHost:      getEnv("SENDGRID_HOST", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Clinic Operations"),

		SMSProvider:      strings.ToLower(getEnv("SMS_PROVIDER", "stub")),
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		ReportArchiveBucket: getEnv("REPORT_ARCHIVE_BUCKET", ""),
		AdminJWTSecret:      getEnv("ADMIN_JWT_SECRET", ""),

		NotifyChannelTimeout: getEnvAsDuration("NOTIFY_CHANNEL_TIMEOUT", 10*time.Second),
		SweepConcurrency:     getEnvAsInt("SWEEP_CONCURRENCY", 4),
		SweepLockTTL:         getEnvAsDuration("SWEEP_LOCK_TTL", 10*time.Minute),
		SweepTimeout:         getEnvAsDuration("SWEEP_TIMEOUT", 5*time.Minute),

		TrialWarningInterval:   getEnvAsDuration("TRIAL_WARNING_INTERVAL", 24*time.Hour),
		TrialExpiryInterval:    getEnvAsDuration("TRIAL_EXPIRY_INTERVAL", time.Hour),
		RecurringSweepInterval: getEnvAsDuration("RECURRING_SWEEP_INTERVAL", time.Hour),
		WaitlistSweepInterval:  getEnvAsDuration("WAITLIST_SWEEP_INTERVAL", 15*time.Minute),
		WeeklyReportInterval:   getEnvAsDuration("WEEKLY_REPORT_INTERVAL", 6*time.Hour),
		MonthlyReportInterval:  getEnvAsDuration("MONTHLY_REPORT_INTERVAL", 12*time.Hour),
		RecurringLookback:      getEnvAsDuration("RECURRING_LOOKBACK", 7*24*time.Hour),

		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:   getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxMaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxBaseDelay:   getEnvAsDuration("OUTBOX_BASE_DELAY", 30*time.Second),

		TrialLength:        getEnvAsDuration("TRIAL_LENGTH", 7*24*time.Hour),
		TrialWarningWindow: getEnvAsDuration("TRIAL_WARNING_WINDOW", 3*24*time.Hour),
	}
}

// UseRedisWaitlist reports whether the durable Redis waitlist is selected.
func (c *Config) UseRedisWaitlist() bool {
	return c.WaitlistBackend != "memory"
}

// UseSQSQueue reports whether automation triggers go through SQS instead of the Postgres outbox.
func (c *Config) UseSQSQueue() bool {
	return c.TaskQueue == "sqs" && c.AutomationQueueURL != ""
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
