package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		StoreDriver:        "postgres",
		DatabaseHost:       "localhost",
		SerpAPIKey:         "key",
		SerpAPIRateLimit:   1,
		SerpAPIMaxAttempts: 2,
		SchedulerEnabled:   true,
		SchedulerInterval:  6 * time.Hour,
		SchedulerWorkers:   4,
		SchedulerPageSize:  100,
		RedisEnabled:       true,
		KafkaBrokers:       "localhost:9092",
	}
}

func TestValidate(t *testing.T) {
	warnings, err := validConfig().Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidate_MissingKeyIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.SerpAPIKey = ""

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "SERPAPI_KEY")
}

func TestValidate_Errors(t *testing.T) {
	cfg := validConfig()
	cfg.StoreDriver = "mongo"
	cfg.SchedulerWorkers = 0
	cfg.KafkaEnabled = true
	cfg.KafkaBrokers = " , "

	_, err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported STORE_DRIVER")
	assert.Contains(t, err.Error(), "SCHEDULER_WORKERS")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestValidate_MemoryStore(t *testing.T) {
	cfg := validConfig()
	cfg.StoreDriver = "memory"
	cfg.DatabaseHost = ""

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "a:9092, b:9092,,"}
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokerList())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DatabaseHost:     "db",
		DatabasePort:     "5432",
		DatabaseUserName: "u",
		DatabasePassword: "p",
		DatabaseName:     "pricewise",
		DatabaseSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=pricewise sslmode=disable", cfg.DatabaseDSN())
}
