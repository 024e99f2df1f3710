package sink

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"dashpulse/internal/probe"
)

type HTTPMetricsConfig struct {
	URL        string
	User       string
	Password   string
	VerifySSL  bool
	Timeout    time.Duration
	RatePerSec int
}

// HTTPMetrics posts reports to an ELK ingest endpoint.
type HTTPMetrics struct {
	url  string
	auth *basicAuth
	hc   *http.Client
	lim  *rate.Limiter
}

func NewHTTPMetrics(cfg HTTPMetricsConfig) *HTTPMetrics {
	var auth *basicAuth
	if cfg.User != "" && cfg.Password != "" {
		auth = &basicAuth{user: cfg.User, password: cfg.Password}
	}
	return &HTTPMetrics{
		url:  cfg.URL,
		auth: auth,
		hc:   newHTTPClient(cfg.Timeout, !cfg.VerifySSL),
		lim:  newLimiter(cfg.RatePerSec),
	}
}

func (m *HTTPMetrics) Deliver(ctx context.Context, report probe.MetricsReport) error {
	if err := wait(ctx, m.lim); err != nil {
		return err
	}
	return postJSON(ctx, m.hc, m.url, report, m.auth)
}
