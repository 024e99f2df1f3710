package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dashpulse/internal/domain"
	"dashpulse/internal/task/retry"
)

const maxErrorBody = 512

type basicAuth struct {
	user, password string
}

func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// postJSON posts v and classifies the response:
// 2xx ok, 429 transient with Retry-After, 5xx transient, other 4xx permanent.
func postJSON(ctx context.Context, hc *http.Client, url string, v any, auth *basicAuth) error {
	body, err := json.Marshal(v)
	if err != nil {
		return retry.NoRetry(fmt.Errorf("%w: encode body: %v", domain.ErrPermanent, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.NoRetry(fmt.Errorf("%w: %v", domain.ErrPermanent, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil && auth.user != "" {
		req.SetBasicAuth(auth.user, auth.password)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", domain.ErrTransient, url, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		err := fmt.Errorf("%w: POST %s: %s", domain.ErrTransient, url, resp.Status)
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return retry.RetryAfter(err, d)
		}
		return err
	case code >= 500:
		return fmt.Errorf("%w: POST %s: %s: %s", domain.ErrTransient, url, resp.Status, strings.TrimSpace(string(snippet)))
	default:
		return retry.NoRetry(fmt.Errorf("%w: POST %s: %s: %s", domain.ErrPermanent, url, resp.Status, strings.TrimSpace(string(snippet))))
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
