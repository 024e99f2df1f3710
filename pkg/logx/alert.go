package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize   = 256
	alertSendTimeout = 10 * time.Second
	alertMaxLen      = 3500
	alertFieldMaxLen = 600
)

// alerter is a zerolog.LevelWriter that forwards records to an AlertSender
// from a single background goroutine. Writes never block logging.
type alerter struct {
	sender AlertSender
	queue  chan string

	mu      sync.Mutex
	min     zerolog.Level
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

func newAlerter(sender AlertSender) *alerter {
	return &alerter{sender: sender, queue: make(chan string, alertQueueSize)}
}

func (a *alerter) configure(cfg AlertConfig) {
	rps := max(cfg.RatePerSec, 1)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.min = parseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if a.sender == nil {
		fmt.Fprintln(os.Stderr, "logx: alerts enabled without a sender")
		return
	}
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel, a.done = cancel, make(chan struct{})
	go a.run(ctx, a.done)
}

func (a *alerter) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *alerter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			_ = a.sender.SendAlert(sctx, msg)
			cancel()
		}
	}
}

func (a *alerter) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

func (a *alerter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	lim, min, live := a.limiter, a.min, a.cancel != nil
	a.mu.Unlock()

	if !live || level == zerolog.NoLevel || level < min || !lim.Allow() {
		return len(p), nil
	}
	if msg := formatAlertJSON(p); msg != "" {
		select {
		case a.queue <- msg:
		default:
		}
	}
	return len(p), nil
}

// formatAlertJSON renders a zerolog JSON line as "[LEVEL] message" followed
// by one "- key=value" line per field, keys sorted.
func formatAlertJSON(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(string(p), alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		switch k {
		case "time", "level", "message":
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), alertFieldMaxLen))
	}
	return truncate(b.String(), alertMaxLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
