package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config holds the application configuration read from the environment.
type Config struct {
	Port             string
	MongoURI         string
	DBName           string
	StoreBackend     string
	UseTransactions  bool
	StoreTimeout     time.Duration
	JWTSecret        string
	TokenExpiry      time.Duration
	RememberMeExpiry time.Duration
	AllowedOrigins   []string
	AppBaseURL       string

	// TrustedProxies are the IPs or CIDR ranges allowed to set X-Forwarded-For.
	TrustedProxies []string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string

	ReconcileSchedule string
	ReconcileRepair   bool

	LogLevel string

	ForgotPasswordLimit  int
	ForgotPasswordWindow time.Duration
	ResetPasswordLimit   int
	ResetPasswordWindow  time.Duration
}

// LoadConfig loads the given env files (".env" when none are given) and
// reads the configuration. Missing env files are not an error.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			logrus.WithField("file", f).Debug("No env file loaded")
		}
	}

	var errs []error
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		MongoURI:          getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:            getEnv("DB_NAME", "when2meet"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendMongo)),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		AppBaseURL:        getEnv("APP_BASE_URL", "http://localhost:3000"),
		TrustedProxies:    splitList(os.Getenv("TRUSTED_PROXIES")),
		SMTPHost:          os.Getenv("SMTP_HOST"),
		SMTPUser:          os.Getenv("SMTP_USER"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		SMTPSender:        os.Getenv("SMTP_SENDER"),
		ReconcileSchedule: os.Getenv("RECONCILE_SCHEDULE"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	cfg.UseTransactions = parseBool("MONGO_TRANSACTIONS", false, &errs)
	cfg.ReconcileRepair = parseBool("RECONCILE_REPAIR", false, &errs)
	cfg.StoreTimeout = parseDuration("STORE_TIMEOUT", 5*time.Second, &errs)
	cfg.TokenExpiry = parseDuration("TOKEN_EXPIRY", 24*time.Hour, &errs)
	cfg.RememberMeExpiry = parseDuration("REMEMBER_ME_EXPIRY", 30*24*time.Hour, &errs)
	cfg.SMTPPort = parseInt("SMTP_PORT", 587, &errs)
	cfg.ForgotPasswordLimit = parseInt("FORGOT_PASSWORD_LIMIT", 3, &errs)
	cfg.ForgotPasswordWindow = parseDuration("FORGOT_PASSWORD_WINDOW", time.Hour, &errs)
	cfg.ResetPasswordLimit = parseInt("RESET_PASSWORD_LIMIT", 10, &errs)
	cfg.ResetPasswordWindow = parseDuration("RESET_PASSWORD_WINDOW", 24*time.Hour, &errs)

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.StoreBackend != BackendMongo && cfg.StoreBackend != BackendMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMongo, BackendMemory, cfg.StoreBackend))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// SMTPEnabled reports whether outgoing mail is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPSender != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func parseBool(key string, fallback bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

func parseInt(key string, fallback int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func parseDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
