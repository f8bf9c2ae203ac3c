package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotenv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
// With no paths it tries ".env".
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and applies defaults.
// It does not validate: callers apply flag overrides first, then Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envAlt := field.Tag.Get("envAlt")
		required := field.Tag.Get("required") == "true"

		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var out []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// ResolvedDSN returns DSN, or for postgres a URL composed from the DB_*
// parts when DSN is empty and a host is set.
func (s StoreConfig) ResolvedDSN() string {
	if s.DSN != "" || s.Kind != "postgres" || s.Host == "" {
		return s.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Name,
	}
	switch {
	case s.User != "" && s.Password != "":
		u.User = url.UserPassword(s.User, s.Password)
	case s.User != "":
		u.User = url.User(s.User)
	}
	return u.String()
}

var (
	dsnOptional    = []string{"memory", "badger"}
	validStrategy  = []string{"batch", "upsert"}
	validPolicy    = []string{"", "ignore", "update"}
	validBackend   = []string{"", "none", "datadog", "pushgateway"}
	validLogLevel  = []string{"debug", "info", "warn", "error"}
	validLogFormat = []string{"console", "json"}
)

// Validate checks that the configuration is usable. The error lists every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Kind == "" {
		errs = append(errs, "STORE_KIND is required")
	}
	if c.Store.ResolvedDSN() == "" && !slices.Contains(dsnOptional, c.Store.Kind) {
		errs = append(errs, fmt.Sprintf("DATABASE_URL (or DB_HOST for postgres) is required for store kind %q", c.Store.Kind))
	}
	if c.Store.ConnectAttempts <= 0 {
		errs = append(errs, "STORE_CONNECT_ATTEMPTS must be positive")
	}
	if c.Store.ConnectDelay < 0 {
		errs = append(errs, "STORE_CONNECT_DELAY must be non-negative")
	}

	if c.Import.BatchSize < 0 {
		errs = append(errs, fmt.Sprintf("IMPORT_BATCH_SIZE (%d) must be non-negative", c.Import.BatchSize))
	}
	if !slices.Contains(validStrategy, c.Import.Strategy) {
		errs = append(errs, fmt.Sprintf("IMPORT_STRATEGY (%q) must be one of: batch, upsert", c.Import.Strategy))
	}
	if !slices.Contains(validPolicy, c.Import.Policy) {
		errs = append(errs, fmt.Sprintf("IMPORT_POLICY (%q) must be one of: ignore, update", c.Import.Policy))
	}

	if !slices.Contains(validBackend, c.Metrics.Backend) {
		errs = append(errs, fmt.Sprintf("METRICS_BACKEND (%q) must be one of: none, datadog, pushgateway", c.Metrics.Backend))
	}
	if c.Metrics.Backend == "pushgateway" && c.Metrics.PushgatewayURL == "" {
		errs = append(errs, "PUSHGATEWAY_URL is required for the pushgateway backend")
	}

	if !slices.Contains(validLogLevel, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if !slices.Contains(validLogFormat, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: console, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation safe for logs. The DSN and password are
// masked.
func (c *Config) String() string {
	dsn := ""
	if c.Store.ResolvedDSN() != "" {
		dsn = "[MASKED]"
	}
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Store: {Kind: %q, DSN: %s, ConnectAttempts: %d}, ", c.Store.Kind, dsn, c.Store.ConnectAttempts)
	fmt.Fprintf(&b, "Import: {BatchSize: %d, Strategy: %q, Policy: %q, SkipExisting: %v, EnsureSchema: %v, Encoding: %q}, ",
		c.Import.BatchSize, c.Import.Strategy, c.Import.Policy, c.Import.SkipExisting, c.Import.EnsureSchema, c.Import.Encoding)
	fmt.Fprintf(&b, "Metrics: {Backend: %q, Job: %q}, ", c.Metrics.Backend, c.Metrics.Job)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
