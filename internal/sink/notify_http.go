package sink

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dashpulse/internal/domain"
	logx "dashpulse/pkg/logx"
)

// DefaultNotifierURL is the bot endpoint used when none is configured.
const DefaultNotifierURL = "http://localhost:8001/api/checks/send"

type HTTPNotifierConfig struct {
	URL        string
	Timeout    time.Duration
	RatePerSec int
}

// HTTPNotifier posts batches to the bot API.
type HTTPNotifier struct {
	url string
	hc  *http.Client
	lim *rate.Limiter
	log logx.Logger
}

func NewHTTPNotifier(cfg HTTPNotifierConfig, log logx.Logger) *HTTPNotifier {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultNotifierURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPNotifier{url: url, hc: newHTTPClient(cfg.Timeout, false), lim: newLimiter(cfg.RatePerSec), log: log}
}

func (n *HTTPNotifier) Notify(ctx context.Context, batch NotificationBatch) error {
	if len(batch.Dashboards) == 0 {
		return nil
	}
	if err := wait(ctx, n.lim); err != nil {
		return err
	}
	if err := postJSON(ctx, n.hc, n.url, batch, nil); err != nil {
		return err
	}
	n.log.Debug("notification batch sent", logx.Int("dashboards", len(batch.Dashboards)))
	return nil
}

// Ping posts an empty batch. Any HTTP response counts as reachable; only
// transport failures are returned.
func (n *HTTPNotifier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(`{"dashboards":[]}`))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", domain.ErrTransient, n.url, err)
	}
	_ = resp.Body.Close()
	return nil
}

// URL is the endpoint batches are posted to.
func (n *HTTPNotifier) URL() string { return n.url }
