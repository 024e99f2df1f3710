package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"dashpulse/internal/domain"
)

// Defaults shared with the components that consume them.
const (
	DefaultScanSchedule      = "every:1m"
	DefaultRetentionSchedule = "cron:0 3 * * *"
	DefaultRetentionMaxAge   = 4320 * time.Hour
	DefaultRetentionBatch    = 10000
	DefaultNotifierURL       = "http://localhost:8001/api/checks/send"
	DefaultServerAddr        = ":8080"
	DefaultSQLitePath        = "./dashpulse.db"
)

// Load reads path, decodes it strictly, fills defaults and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data (JSON, or YAML when path ends in .yaml/.yml).
// Unknown keys and trailing data are rejected.
func Parse(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = DefaultSQLitePath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Scheduler.Scans.Notify == "" {
		c.Scheduler.Scans.Notify = DefaultScanSchedule
	}
	if c.Scheduler.Scans.Audit == "" {
		c.Scheduler.Scans.Audit = DefaultScanSchedule
	}
	if c.Scheduler.Scans.HTTP == "" {
		c.Scheduler.Scans.HTTP = DefaultScanSchedule
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = DefaultRetentionSchedule
	}
	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = DefaultRetentionBatch
	}
	if c.Notifier.Driver == "" {
		c.Notifier.Driver = "http"
	}
	if c.Notifier.Driver == "http" && c.Notifier.URL == "" {
		c.Notifier.URL = DefaultNotifierURL
	}
	if c.Lighthouse.Binary == "" {
		c.Lighthouse.Binary = "lighthouse"
	}
	if c.Lighthouse.MaxMessage <= 0 {
		c.Lighthouse.MaxMessage = 500
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 3
	}
}

// Validate checks cross-field rules. Every failure wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn is required for postgres")
		}
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	switch c.Notifier.Driver {
	case "http":
		if _, err := url.ParseRequestURI(c.Notifier.URL); err != nil {
			add("notifier.url: %v", err)
		}
	case "telegram":
		if c.Telegram.Token == "" || c.Telegram.ChatID == 0 {
			add("notifier.driver telegram requires telegram.token and telegram.chat_id")
		}
	default:
		add("notifier.driver: unknown driver %q", c.Notifier.Driver)
	}

	switch c.Metrics.Driver {
	case "":
	case "http":
		if c.Metrics.URL != "" {
			if _, err := url.ParseRequestURI(c.Metrics.URL); err != nil {
				add("metrics.url: %v", err)
			}
		}
	case "kafka":
		if len(c.Metrics.Kafka.Brokers) == 0 || c.Metrics.Kafka.Topic == "" {
			add("metrics.kafka requires brokers and topic")
		}
	default:
		add("metrics.driver: unknown driver %q", c.Metrics.Driver)
	}

	if c.Logging.Alerts.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		add("logging.alerts requires telegram.token and telegram.chat_id")
	}
	if c.Server.Enabled && strings.TrimSpace(c.Server.ExternalURL) == "" {
		add("server.external_url is required when server is enabled")
	}
	if c.Dispatch.BatchSize < 0 {
		add("dispatch.batch_size must be >= 0")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	durations := map[string]string{
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"server.read_timeout":         c.Server.ReadTimeout,
		"server.write_timeout":        c.Server.WriteTimeout,
		"server.shutdown_timeout":     c.Server.ShutdownTimeout,
		"task_engine.default_timeout": c.TaskEngine.DefaultTimeout,
		"task_engine.max_queue_delay": c.TaskEngine.MaxQueueDelay,
		"dispatch.retry_delay":        c.Dispatch.RetryDelay,
		"retention.max_age":           c.Retention.MaxAge,
		"notifier.timeout":            c.Notifier.Timeout,
		"lighthouse.timeout":          c.Lighthouse.Timeout,
		"http_probe.timeout":          c.HTTPProbe.Timeout,
		"metrics.timeout":             c.Metrics.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
}
