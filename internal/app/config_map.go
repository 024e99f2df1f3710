package app

import (
	"strings"
	"time"

	"dashpulse/internal/api"
	"dashpulse/internal/checklist"
	"dashpulse/internal/config"
	"dashpulse/internal/dispatch"
	"dashpulse/internal/events"
	"dashpulse/internal/probe"
	"dashpulse/internal/sink"
	"dashpulse/internal/task/engine"
	"dashpulse/internal/task/retry"
	"dashpulse/internal/task/scheduler"
	logx "dashpulse/pkg/logx"
)

// Config values were validated by config.Load, so the mappers below use
// config.DurationOr and never fail.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

// mapTriggerEngine sizes the engine that runs scans and retention.
func mapTriggerEngine(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	workers := te.Workers
	if workers <= 0 {
		workers = 2
	}
	queue := te.QueueSize
	if queue <= 0 {
		queue = 64
	}
	history := te.HistorySize
	if history <= 0 {
		history = 200
	}
	retryMax := te.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}
	return engine.Config{
		Enabled:        true,
		Workers:        workers,
		QueueSize:      queue,
		DefaultTimeout: config.DurationOr(te.DefaultTimeout, 5*time.Minute),
		MaxQueueDelay:  config.DurationOr(te.MaxQueueDelay, 0),
		HistorySize:    history,
		RetryMax:       retryMax,
	}
}

// mapDispatchEngine sizes the engine that runs unit tasks. Unit tasks are
// awaited by a scan, so they are never dropped as stale and carry no
// engine-level timeout; runners bound their own attempts.
func mapDispatchEngine(cfg *config.Config) engine.Config {
	dc := cfg.Dispatch
	workers := dc.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := dc.QueueSize
	if queue <= 0 {
		queue = 256
	}
	return engine.Config{
		Enabled:     true,
		Workers:     workers,
		QueueSize:   queue,
		HistorySize: 200,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func mapChecklistConfig(cfg *config.Config) checklist.Config {
	return checklist.Config{Claim: cfg.Scheduler.Claim}
}

func mapRetryPolicy(cfg *config.Config) retry.Policy {
	return retry.Fixed(cfg.Dispatch.MaxAttempts, config.DurationOr(cfg.Dispatch.RetryDelay, 2*time.Second))
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	retryMax := cfg.Metrics.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return dispatch.Config{
		BatchSize:       cfg.Dispatch.BatchSize,
		Delivery:        mapRetryPolicy(cfg),
		MetricsRetryMax: retryMax,
		ExternalURL:     strings.TrimSpace(cfg.Server.ExternalURL),
	}
}

func mapRetentionConfig(cfg *config.Config) events.RetentionConfig {
	return events.RetentionConfig{
		MaxAge:    config.DurationOr(cfg.Retention.MaxAge, config.DefaultRetentionMaxAge),
		BatchSize: cfg.Retention.BatchSize,
	}
}

func mapLighthouseConfig(cfg *config.Config) probe.LighthouseConfig {
	lc := cfg.Lighthouse
	return probe.LighthouseConfig{
		Binary:      lc.Binary,
		ChromePath:  lc.ChromePath,
		ChromeFlags: lc.ChromeFlags,
		Timeout:     config.DurationOr(lc.Timeout, 240*time.Second),
		MaxMessage:  lc.MaxMessage,
		Retry:       mapRetryPolicy(cfg),
	}
}

func mapHTTPProbeConfig(cfg *config.Config) probe.HTTPConfig {
	return probe.HTTPConfig{
		Timeout: config.DurationOr(cfg.HTTPProbe.Timeout, 30*time.Second),
		Retry:   mapRetryPolicy(cfg),
	}
}

func mapHTTPNotifierConfig(cfg *config.Config) sink.HTTPNotifierConfig {
	return sink.HTTPNotifierConfig{
		URL:        cfg.Notifier.URL,
		Timeout:    config.DurationOr(cfg.Notifier.Timeout, 30*time.Second),
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func mapTelegramConfig(cfg *config.Config) sink.TelegramConfig {
	return sink.TelegramConfig{
		Token:      cfg.Telegram.Token,
		ChatID:     cfg.Telegram.ChatID,
		ThreadID:   cfg.Telegram.ThreadID,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func mapHTTPMetricsConfig(cfg *config.Config) sink.HTTPMetricsConfig {
	mc := cfg.Metrics
	return sink.HTTPMetricsConfig{
		URL:        mc.URL,
		User:       mc.User,
		Password:   mc.Password,
		VerifySSL:  mc.VerifySSL,
		Timeout:    config.DurationOr(mc.Timeout, 30*time.Second),
		RatePerSec: mc.RatePerSec,
	}
}

func mapKafkaConfig(cfg *config.Config) sink.KafkaConfig {
	mc := cfg.Metrics
	return sink.KafkaConfig{
		Brokers:    mc.Kafka.Brokers,
		Topic:      mc.Kafka.Topic,
		Timeout:    config.DurationOr(mc.Timeout, 30*time.Second),
		RatePerSec: mc.RatePerSec,
	}
}

func mapServerConfig(cfg *config.Config) api.ServerConfig {
	sc := cfg.Server
	return api.ServerConfig{
		Addr:            sc.Addr,
		ReadTimeout:     config.DurationOr(sc.ReadTimeout, 10*time.Second),
		WriteTimeout:    config.DurationOr(sc.WriteTimeout, 30*time.Second),
		ShutdownTimeout: config.DurationOr(sc.ShutdownTimeout, 10*time.Second),
	}
}

// scanSchedule returns the trigger schedule for a kind, or "" when the scan
// is switched off.
func scanSchedule(raw string) string {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "off", "none", "disabled":
		return ""
	case "":
		return config.DefaultScanSchedule
	}
	return s
}
