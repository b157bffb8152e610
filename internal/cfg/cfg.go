package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Config holds the application flags. It implements the
// cfg.Registerable and cfg.Validatable interfaces from go-core.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	RequestTimeoutSeconds int

	DatabaseURL     string
	SQLitePath      string
	SlowQueryMillis int
	HomeserverURL   string
	MatrixUserID    string
	MatrixToken     string
	WebhookToken    string
	RedisAddr       string
	LockTTLSeconds  int
	KafkaBrokers    string
	KafkaTopic      string
	KafkaGroupID    string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "webhook listen TCP port (1..65535)")
	fs.IntVar(&c.RequestTimeoutSeconds, "request-timeout-seconds", 30, "per-request timeout for webhook batches (1..300)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the alert store")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file for the alert store (empty with no database-url = in-memory store)")
	fs.IntVar(&c.SlowQueryMillis, "db-slow-query-ms", 200, "log PostgreSQL queries slower than this many milliseconds (0 = log all)")
	fs.StringVar(&c.HomeserverURL, "homeserver-url", "", "Matrix homeserver base URL (empty = log messages instead of sending)")
	fs.StringVar(&c.MatrixUserID, "matrix-user-id", "", "Matrix user id of the bot, e.g. @alertbot:example.com")
	fs.StringVar(&c.MatrixToken, "matrix-access-token", "", "Matrix access token of the bot")
	fs.StringVar(&c.WebhookToken, "webhook-token", "", "shared token required on webhook requests (empty = no auth)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for cross-replica fingerprint locks (empty = in-process locks)")
	fs.IntVar(&c.LockTTLSeconds, "lock-ttl-seconds", 30, "expiry of Redis fingerprint locks (1..3600)")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for webhook ingestion (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "alertmanager-webhooks", "Kafka topic carrying webhook payloads")
	fs.StringVar(&c.KafkaGroupID, "kafka-group-id", "alertbot", "Kafka consumer group id")
}

// MatrixEnabled reports whether a homeserver is configured.
func (c *Config) MatrixEnabled() bool {
	return c.HomeserverURL != ""
}

// KafkaEnabled reports whether Kafka ingestion is configured.
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.RequestTimeoutSeconds <= 0 || c.RequestTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid REQUEST_TIMEOUT_SECONDS %d (must be 1..300)", c.RequestTimeoutSeconds))
	}

	// one durable store at most
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}
	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}

	errs = append(errs, c.validateMatrix()...)

	if c.LockTTLSeconds <= 0 || c.LockTTLSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid LOCK_TTL_SECONDS %d (must be 1..3600)", c.LockTTLSeconds))
	}

	if c.KafkaEnabled() {
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("KAFKA_GROUP_ID is required when KAFKA_BROKERS is set"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateMatrix() []error {
	if !c.MatrixEnabled() {
		if c.MatrixUserID != "" || c.MatrixToken != "" {
			return []error{errors.New("MATRIX_USER_ID and MATRIX_ACCESS_TOKEN require HOMESERVER_URL")}
		}
		return nil
	}

	var errs []error
	if u, err := url.Parse(c.HomeserverURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid HOMESERVER_URL %q (must be an http(s) URL)", c.HomeserverURL))
	}
	if !strings.HasPrefix(c.MatrixUserID, "@") || !strings.Contains(c.MatrixUserID, ":") {
		errs = append(errs, fmt.Errorf("invalid MATRIX_USER_ID %q (must look like @user:server)", c.MatrixUserID))
	}
	if c.MatrixToken == "" {
		errs = append(errs, errors.New("MATRIX_ACCESS_TOKEN is required when HOMESERVER_URL is set"))
	}
	return errs
}
