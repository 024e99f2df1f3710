package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dashpulse/internal/domain"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "db.sqlite") + "\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunUsage(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t)
	cases := []struct {
		name string
		args []string
		code int
	}{
		{name: "unknown command", args: []string{"-config", cfg, "explode"}, code: 2},
		{name: "admin without ids", args: []string{"-config", cfg, "admin", "toggle"}, code: 2},
		{name: "admin bad id", args: []string{"-config", cfg, "admin", "toggle", "x"}, code: 2},
		{name: "admin bad op", args: []string{"-config", cfg, "admin", "explode", "1"}, code: 2},
		{name: "import without file", args: []string{"-config", cfg, "import"}, code: 2},
		{name: "missing config", args: []string{"-config", filepath.Join(t.TempDir(), "nope.json"), "sweep"}, code: 1},
		{name: "sweep", args: []string{"-config", cfg, "sweep"}, code: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out, errOut bytes.Buffer
			if code := run(tc.args, &out, &errOut); code != tc.code {
				t.Fatalf("code=%d want %d stderr=%s", code, tc.code, errOut.String())
			}
		})
	}
}

func TestImportDryRun(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t)
	targets := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(targets, []byte("configs:\n  - urls: [https://a.example/, https://b.example/]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	if code := run([]string{"-config", cfg, "import", "-dry-run", targets}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "[dry-run] targets: 2 new, 0 existing") {
		t.Fatalf("out=%q", out.String())
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := writeCSV(&buf, []domain.CheckEvent{{
		ID:        "abc",
		Kind:      domain.KindAudit,
		ItemID:    7,
		Target:    domain.Target{UID: "https://a.example/"},
		CreatedAt: at,
		Outcome:   domain.Failure(domain.ReasonTimeout, "slow"),
		NoProblem: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%q", lines)
	}
	want := "abc,audit,7,https://a.example/,2026-03-01T10:00:00Z,failure,timeout,false,true,false"
	if lines[1] != want {
		t.Fatalf("row=%q want %q", lines[1], want)
	}
}

func TestDiagnose(t *testing.T) {
	t.Parallel()

	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer bot.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "db.sqlite") +
		"\nnotifier:\n  url: " + bot.URL + "\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	if code := run([]string{"-config", path, "diagnose", "-events", "5"}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	for _, want := range []string{"targets: 0 (0 active)", "scan.notify", "recent events: 0", "notifier: http " + bot.URL + " reachable"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in %s", want, out.String())
		}
	}
}
