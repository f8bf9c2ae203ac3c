// Package config loads the ingest command's settings from the environment.
// Command line flags are applied on top by the caller, which then calls
// Validate.
package config

import "time"

// Config holds every setting the ingest command reads from the environment.
type Config struct {
	Store   StoreConfig
	Import  ImportConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// StoreConfig selects and reaches the backing store.
type StoreConfig struct {
	// Kind is a registered backend: postgres, sqlite, mssql, badger or memory.
	Kind string `env:"STORE_KIND" default:"postgres"`

	// DSN is the backend connection string. When empty and Kind is postgres
	// it is composed from the DB_* parts below.
	DSN string `env:"DATABASE_URL" envAlt:"STORE_DSN"`

	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" default:"5432"`
	Name     string `env:"DB_NAME"`

	// ConnectAttempts bounds the connect retries before the store is declared
	// unavailable.
	ConnectAttempts int `env:"STORE_CONNECT_ATTEMPTS" default:"5"`

	// ConnectDelay is the first retry delay; it doubles on every attempt.
	ConnectDelay time.Duration `env:"STORE_CONNECT_DELAY" default:"500ms"`
}

// ImportConfig holds pipeline defaults.
type ImportConfig struct {
	// BatchSize is records per commit. 0 uses the kind default.
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"0"`

	Strategy string `env:"IMPORT_STRATEGY" default:"batch"`

	// Policy is the upsert conflict policy. Empty uses the kind default.
	Policy string `env:"IMPORT_POLICY"`

	SkipExisting bool `env:"IMPORT_SKIP_EXISTING" default:"true"`
	EnsureSchema bool `env:"IMPORT_ENSURE_SCHEMA" default:"false"`

	// Encoding is the input charset label (utf-8, latin1, windows-1252...).
	Encoding string `env:"INPUT_ENCODING" default:"utf-8"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is datadog, pushgateway or none.
	Backend        string        `env:"METRICS_BACKEND" default:"none"`
	PushgatewayURL string        `env:"PUSHGATEWAY_URL" default:"http://localhost:9091"`
	Job            string        `env:"METRICS_JOB" default:"ingest"`
	Tags           []string      `env:"METRICS_TAGS"`
	FlushEvery     time.Duration `env:"METRICS_FLUSH_EVERY" default:"60s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is console or json.
	Format string `env:"LOG_FORMAT" default:"console"`
}
