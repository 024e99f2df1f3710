package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

// DefaultChromeFlags run headless chrome inside a container.
var DefaultChromeFlags = []string{"--headless", "--no-sandbox", "--disable-cache", "--user-data-dir=/dev/null", "--disable-gpu"}

type LighthouseConfig struct {
	Binary      string
	ChromePath  string
	ChromeFlags []string
	// Timeout bounds a single attempt. 0 means 240s.
	Timeout time.Duration
	// MaxMessage caps each captured stream in failure messages. 0 means 500.
	MaxMessage int
	Retry      retry.Policy
	// TempDir holds the extra-headers files. Empty means os.TempDir().
	TempDir string
}

// Lighthouse runs the lighthouse CLI against a target URL.
type Lighthouse struct {
	cfg LighthouseConfig
	log logx.Logger
	now func() time.Time
}

func NewLighthouse(cfg LighthouseConfig, log logx.Logger) *Lighthouse {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "lighthouse"
	}
	if len(cfg.ChromeFlags) == 0 {
		cfg.ChromeFlags = DefaultChromeFlags
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 240 * time.Second
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = 500
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultPolicy
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lighthouse{cfg: cfg, log: log, now: time.Now}
}

func (l *Lighthouse) Run(ctx context.Context, target domain.Target) Result {
	args := l.args(target.URL)

	if len(target.Headers) > 0 {
		path, err := l.writeHeaders(target.Headers)
		if err != nil {
			now := l.now().UTC()
			o := domain.Failure(domain.ReasonUnexpected, "write headers file: "+err.Error())
			return Result{Outcome: o, Report: NewReport(target, o, now), StartedAt: now, FinishedAt: now}
		}
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				l.log.Warn("headers file not removed", logx.String("path", path), logx.Err(err))
			}
		}()
		args = append(args, "--extra-headers="+path)
	}

	return runWithRetry(ctx, l.cfg.Retry, target, l.now, func(ctx context.Context) (domain.Outcome, error) {
		return l.attempt(ctx, args)
	})
}

func (l *Lighthouse) args(url string) []string {
	args := []string{
		url,
		"--quiet",
		"--chrome-flags=" + strings.Join(l.cfg.ChromeFlags, " "),
		"--output=json",
		"--output-path=stdout",
		"--only-audits=" + onlyAudits,
	}
	if p := strings.TrimSpace(l.cfg.ChromePath); p != "" {
		args = append(args, "--chrome-path="+p)
	}
	return args
}

func (l *Lighthouse) writeHeaders(h map[string]string) (string, error) {
	f, err := os.CreateTemp(l.cfg.TempDir, "lighthouse-headers-*.json")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := json.NewEncoder(f).Encode(h); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (l *Lighthouse) attempt(ctx context.Context, args []string) (domain.Outcome, error) {
	actx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(actx, l.cfg.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	killTree(cmd)
	// Chrome children may keep the pipes open after lighthouse is killed.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	switch {
	case err == nil:
	case errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return domain.Outcome{}, fail(domain.ReasonTimeout, true, "lighthouse timed out after %s", l.cfg.Timeout)
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		return domain.Outcome{}, fail(domain.ReasonBinaryNotFound, false, "%v", err)
	default:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return domain.Outcome{}, fail(domain.ReasonProcessFailed, true, "stderr: %s | stdout: %s",
				truncate(strings.TrimSpace(stderr.String()), l.cfg.MaxMessage),
				truncate(strings.TrimSpace(stdout.String()), l.cfg.MaxMessage),
			)
		}
		return domain.Outcome{}, fail(domain.ReasonUnexpected, false, "%v", err)
	}

	var report LighthouseReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return domain.Outcome{}, fail(domain.ReasonMalformedOutput, false, "%v", err)
	}
	if report.Audits == nil {
		return domain.Outcome{}, fail(domain.ReasonMalformedOutput, false, "report has no audits")
	}
	return domain.Success(mustJSON(ExtractMetrics(report))), nil
}
