package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/retry"
	logx "dashpulse/pkg/logx"
)

type HTTPConfig struct {
	// Timeout bounds a single attempt. 0 means 30s.
	Timeout time.Duration
	Retry   retry.Policy
	Client  *http.Client
}

// HTTP is a plain availability probe: GET with the target headers.
type HTTP struct {
	cfg HTTPConfig
	hc  *http.Client
	log logx.Logger
	now func() time.Time
}

func NewHTTP(cfg HTTPConfig, log logx.Logger) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultPolicy
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{cfg: cfg, hc: hc, log: log, now: time.Now}
}

func (h *HTTP) Run(ctx context.Context, target domain.Target) Result {
	return runWithRetry(ctx, h.cfg.Retry, target, h.now, func(ctx context.Context) (domain.Outcome, error) {
		return h.attempt(ctx, target)
	})
}

func (h *HTTP) attempt(ctx context.Context, target domain.Target) (domain.Outcome, error) {
	url := strings.TrimSpace(target.URL)
	if url == "" {
		return domain.Outcome{}, fail(domain.ReasonUnexpected, false, "target %d has no url", target.ID)
	}
	actx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Outcome{}, fail(domain.ReasonUnexpected, false, "%v", err)
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.hc.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return domain.Outcome{}, fail(domain.ReasonTimeout, true, "GET %s timed out after %s", url, h.cfg.Timeout)
		}
		return domain.Outcome{}, fail(domain.ReasonProcessFailed, true, "%v", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	latency := time.Since(start)

	switch code := resp.StatusCode; {
	case code >= 500:
		return domain.Outcome{}, fail(domain.ReasonProcessFailed, true, "GET %s: %s", url, resp.Status)
	case code >= 400:
		return domain.Outcome{}, fail(domain.ReasonProcessFailed, false, "GET %s: %s", url, resp.Status)
	}
	m := HTTPMetrics{StatusCode: resp.StatusCode, LatencyMS: float64(latency.Microseconds()) / 1000}
	return domain.Success(mustJSON(m)), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
