package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Service holds the settings shared by both binaries.
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" required:"true"`
	APIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
	Host        string `envconfig:"SERVICE_HOST" default:"localhost:8080"`
}

// Database configures the SQLite operational store.
type Database struct {
	Path string `envconfig:"DATABASE_PATH" default:"identitysync.db"`
}

// SQS configures the webhook raw-event buffer queue.
type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_QUEUE_URL" required:"true"`
	Region   string `envconfig:"SQS_REGION" required:"true"`
}

// ClickHouse configures the optional analytics archive. When Host is empty
// the archive is disabled and metrics queries are unavailable.
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST"`
	Port            string `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database        string `envconfig:"CLICKHOUSE_DB" default:"identitysync"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// Consumer configures the worker-side webhook pipeline.
type Consumer struct {
	MaxMessages     int32  `envconfig:"CONSUMER_MAX_MESSAGES" default:"10"`
	WaitTimeSeconds int32  `envconfig:"CONSUMER_WAIT_TIME_SEC" default:"20"`
	BufferSize      int    `envconfig:"CONSUMER_BUFFER_SIZE" default:"100"`
	HealthCheckPort string `envconfig:"CONSUMER_HEALTH_CHECK_PORT" default:"8081"`
}

// Dispatch configures the sync dispatcher loop.
type Dispatch struct {
	Interval       time.Duration `envconfig:"DISPATCH_INTERVAL" default:"15s"`
	BatchSize      int           `envconfig:"DISPATCH_BATCH_SIZE" default:"100"`
	RequestTimeout time.Duration `envconfig:"DISPATCH_REQUEST_TIMEOUT" default:"10s"`
}

// Predictive configures the rule engine sweep loop.
type Predictive struct {
	Interval time.Duration `envconfig:"PREDICTIVE_INTERVAL" default:"5m"`
}

// Config is the full configuration tree for both binaries.
type Config struct {
	Service    Service
	Database   Database
	SQS        SQS
	ClickHouse ClickHouse
	Consumer   Consumer
	Dispatch   Dispatch
	Predictive Predictive
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
