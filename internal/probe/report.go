package probe

import (
	"encoding/json"
	"time"

	"dashpulse/internal/domain"
)

const reportTimeFormat = "2006-01-02T15:04:05.000Z"

// MetricsReport is the document shipped to the metrics sink.
type MetricsReport struct {
	Timestamp string          `json:"@timestamp"`
	Status    string          `json:"status"`
	Metadata  map[string]any  `json:"metadata"`
	URL       string          `json:"url"`
	Metrics   json.RawMessage `json:"metrics"`
	Error     *string         `json:"error"`
	Message   *string         `json:"message"`

	// TargetUID keys the report in partitioned sinks. Not serialized.
	TargetUID string `json:"-"`
}

// Succeeded reports whether the probe ended in success.
func (r MetricsReport) Succeeded() bool { return r.Status == "success" }

var errorLabels = map[domain.FailureReason]string{
	domain.ReasonProcessFailed:   "Probe failed",
	domain.ReasonTimeout:         "Probe timeout",
	domain.ReasonBinaryNotFound:  "Binary not found",
	domain.ReasonMalformedOutput: "Invalid JSON output",
	domain.ReasonUnexpected:      "Unexpected exception",
}

// NewReport renders o for target at the given time.
func NewReport(target domain.Target, o domain.Outcome, at time.Time) MetricsReport {
	meta := target.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	r := MetricsReport{
		Timestamp: at.UTC().Format(reportTimeFormat),
		Metadata:  meta,
		URL:       target.URL,
		TargetUID: target.UID,
	}
	if o.IsSuccess() {
		r.Status = "success"
		r.Metrics = o.Metrics
		return r
	}
	r.Status = "error"
	label, ok := errorLabels[o.Reason]
	if !ok {
		label = errorLabels[domain.ReasonUnexpected]
	}
	msg := o.Message
	r.Error, r.Message = &label, &msg
	return r
}
