package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dashpulse/internal/domain"
)

func TestParseYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()
	raw := `
logging:
  level: debug
storage:
  driver: sqlite
server:
  enabled: true
  external_url: https://checks.example.com
scheduler:
  timezone: Europe/Moscow
  scans:
    audit: every:5m
`
	cfg, err := Parse("dashpulse.yaml", []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != DefaultSQLitePath {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Scheduler.Scans.Audit != "every:5m" || cfg.Scheduler.Scans.Notify != DefaultScanSchedule {
		t.Fatalf("scans = %+v", cfg.Scheduler.Scans)
	}
	if cfg.Notifier.Driver != "http" || cfg.Notifier.URL != DefaultNotifierURL {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Retention.Schedule != DefaultRetentionSchedule || cfg.Retention.BatchSize != DefaultRetentionBatch {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
	if cfg.Dispatch.MaxAttempts != 3 || cfg.Lighthouse.MaxMessage != 500 {
		t.Fatalf("dispatch = %+v lighthouse = %+v", cfg.Dispatch, cfg.Lighthouse)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		raw  string
	}{
		{name: "unknown json key", path: "c.json", raw: `{"storage":{"driver":"sqlite"},"bogus":1}`},
		{name: "unknown yaml key", path: "c.yml", raw: "server:\n  port: 80\n"},
		{name: "trailing json", path: "c.json", raw: `{} {}`},
		{name: "bad yaml", path: "c.yaml", raw: "a: [1, 2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse(tt.path, []byte(tt.raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateIsConfigurationError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "postgres without dsn", raw: `{"storage":{"driver":"postgres"}}`, want: "storage.dsn"},
		{name: "unknown storage", raw: `{"storage":{"driver":"mysql"}}`, want: "storage.driver"},
		{name: "telegram without token", raw: `{"notifier":{"driver":"telegram"}}`, want: "telegram.token"},
		{name: "kafka without topic", raw: `{"metrics":{"driver":"kafka","kafka":{"brokers":["k:9092"]}}}`, want: "metrics.kafka"},
		{name: "bad duration", raw: `{"lighthouse":{"timeout":"soon"}}`, want: "lighthouse.timeout"},
		{name: "server without external url", raw: `{"server":{"enabled":true}}`, want: "server.external_url"},
		{name: "bad timezone", raw: `{"scheduler":{"timezone":"Mars/Olympus"}}`, want: "scheduler.timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse("c.json", []byte(tt.raw))
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dashpulse.json")
	if err := os.WriteFile(path, []byte(`{"retention":{"enabled":true,"max_age":"720h"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := DurationOr(cfg.Retention.MaxAge, DefaultRetentionMaxAge); got != 720*time.Hour {
		t.Fatalf("max_age = %v", got)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: time.Minute},
		{raw: "0s", want: time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, time.Minute)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v", tt.raw, err)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("%q: got %v, want %v", tt.raw, got, tt.want)
		}
	}
}
