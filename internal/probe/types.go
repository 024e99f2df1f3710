package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"dashpulse/internal/domain"
)

// Runner executes one probe against target. Retries happen inside Run.
type Runner interface {
	Run(ctx context.Context, target domain.Target) Result
}

// Result is the final state of a probe after all attempts.
type Result struct {
	Outcome    domain.Outcome
	Report     MetricsReport
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// failure is a classified attempt error.
type failure struct {
	reason    domain.FailureReason
	message   string
	transient bool
}

func (f *failure) Error() string { return fmt.Sprintf("%s: %s", f.reason, f.message) }

func fail(reason domain.FailureReason, transient bool, format string, args ...any) error {
	return &failure{reason: reason, message: fmt.Sprintf(format, args...), transient: transient}
}

func retryable(err error) bool {
	var f *failure
	return errors.As(err, &f) && f.transient
}

func outcomeOf(err error) domain.Outcome {
	var f *failure
	if errors.As(err, &f) {
		return domain.Failure(f.reason, f.message)
	}
	return domain.Failure(domain.ReasonUnexpected, err.Error())
}

// Success payload of the http runner.
type HTTPMetrics struct {
	StatusCode int     `json:"status_code"`
	LatencyMS  float64 `json:"latency_ms"`
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
