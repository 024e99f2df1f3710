// Package probe runs the per-target checks behind the audit and http kinds.
//
// A Runner executes one probe with retries and classifies the failure. The
// lighthouse runner shells out to the lighthouse CLI and extracts the web
// vitals from its JSON report; the http runner is a plain availability
// check. Both produce a MetricsReport suitable for the metrics sink.
package probe
