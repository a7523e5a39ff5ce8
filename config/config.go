package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"pricewise-api"`
	Version                       string   `env:"APP_VERSION" env-default:"1.0.0"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"http://localhost:3000,http://127.0.0.1:3000"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Store driver: "postgres" or "memory"
	StoreDriver string `env:"STORE_DRIVER" env-default:"postgres"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"pricewise"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis is optional; the pass lock falls back to in-process only when disabled
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka is optional; price change notifications are dropped when disabled
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Topic for price.updated events
	KafkaPriceTopic string `env:"KAFKA_PRICE_TOPIC" env-default:"price-updates"`
	// Topic for pass.completed events
	KafkaPassTopic string `env:"KAFKA_PASS_TOPIC" env-default:"price-passes"`

	// SerpApi settings
	SerpAPIKey          string        `env:"SERPAPI_KEY" env-default:""`
	SerpAPIBaseURL      string        `env:"SERPAPI_BASE_URL" env-default:"https://serpapi.com/search.json"`
	SerpAPIEngine       string        `env:"SERPAPI_ENGINE" env-default:"google_shopping"`
	SerpAPIGoogleDomain string        `env:"SERPAPI_GOOGLE_DOMAIN" env-default:"google.co.in"`
	SerpAPICountry      string        `env:"SERPAPI_GL" env-default:"in"`
	SerpAPILanguage     string        `env:"SERPAPI_HL" env-default:"en"`
	SerpAPIResultsPath  string        `env:"SERPAPI_RESULTS_PATH" env-default:"shopping_results"`
	SerpAPICurrency     string        `env:"SERPAPI_CURRENCY_SYMBOL" env-default:"₹"`
	SerpAPITimeout      time.Duration `env:"SERPAPI_TIMEOUT" env-default:"20s"`
	// Requests per second allowed against the provider across all workers
	SerpAPIRateLimit float64 `env:"SERPAPI_RATE_LIMIT" env-default:"1"`
	// Total attempts for a transient search failure (1 = no retry)
	SerpAPIMaxAttempts int           `env:"SERPAPI_MAX_ATTEMPTS" env-default:"2"`
	SerpAPIRetryWait   time.Duration `env:"SERPAPI_RETRY_WAIT" env-default:"2s"`

	// Scheduler settings
	// Enable/disable the reconciliation scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Interval between reconciliation passes
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" env-default:"6h"`
	// Maximum random delay added to each interval
	SchedulerJitter time.Duration `env:"SCHEDULER_JITTER" env-default:"5m"`
	// Run a pass immediately on start
	SchedulerRunOnStart bool `env:"SCHEDULER_RUN_ON_START" env-default:"false"`
	// Concurrent products per pass
	SchedulerWorkers int `env:"SCHEDULER_WORKERS" env-default:"4"`
	// Products loaded per page
	SchedulerPageSize int `env:"SCHEDULER_PAGE_SIZE" env-default:"100"`
	// Timeout for one product (search + write)
	SchedulerItemTimeout time.Duration `env:"SCHEDULER_ITEM_TIMEOUT" env-default:"1m"`
	// TTL of the cross-process pass lock
	SchedulerLockTTL time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"2h"`
	// How often a running pass renews its lock (0 = a third of the TTL)
	SchedulerLockRenewInterval time.Duration `env:"SCHEDULER_LOCK_RENEW_INTERVAL" env-default:"0s"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and binds the environment onto Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// KafkaBrokerList splits the comma-separated broker string.
func (c *Config) KafkaBrokerList() []string {
	brokers := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// DatabaseDSN builds a lib/pq keyword DSN.
func (c *Config) DatabaseDSN() string {
	return "host=" + c.DatabaseHost +
		" port=" + c.DatabasePort +
		" user=" + c.DatabaseUserName +
		" password=" + c.DatabasePassword +
		" dbname=" + c.DatabaseName +
		" sslmode=" + c.DatabaseSSLMode
}

// Validate rejects settings the process cannot start with. Problems that only
// affect some operations are returned as warnings; a missing SerpApi key fails
// each search with a configuration error instead of stopping the service.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseHost == "" {
			errs = append(errs, errors.New("DB_HOST is required when STORE_DRIVER=postgres"))
		}
	case "memory":
		warnings = append(warnings, "STORE_DRIVER=memory: tracked products are lost on restart")
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q (use postgres or memory)", c.StoreDriver))
	}

	if c.SerpAPIKey == "" {
		warnings = append(warnings, "SERPAPI_KEY is not set: every search will fail with a configuration error")
	}
	if c.SerpAPIRateLimit <= 0 {
		errs = append(errs, errors.New("SERPAPI_RATE_LIMIT must be positive"))
	}
	if c.SerpAPIMaxAttempts < 1 {
		errs = append(errs, errors.New("SERPAPI_MAX_ATTEMPTS must be at least 1"))
	}

	if c.SchedulerInterval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL must be positive"))
	}
	if c.SchedulerWorkers < 1 {
		errs = append(errs, errors.New("SCHEDULER_WORKERS must be at least 1"))
	}
	if c.SchedulerPageSize < 1 {
		errs = append(errs, errors.New("SCHEDULER_PAGE_SIZE must be at least 1"))
	}
	if c.SchedulerJitter < 0 {
		errs = append(errs, errors.New("SCHEDULER_JITTER must not be negative"))
	}

	if c.KafkaEnabled && len(c.KafkaBrokerList()) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED=true"))
	}
	if !c.RedisEnabled && c.SchedulerEnabled {
		warnings = append(warnings, "REDIS_ENABLED=false: overlapping passes are only prevented within this process")
	}

	return warnings, errors.Join(errs...)
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
