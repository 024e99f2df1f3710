package probe

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Audit keys requested from lighthouse.
const (
	auditFCP = "first-contentful-paint"
	auditTBT = "total-blocking-time"
	auditSI  = "speed-index"
	auditLCP = "largest-contentful-paint"
	auditCLS = "cumulative-layout-shift"
)

var onlyAudits = strings.Join([]string{auditFCP, auditTBT, auditSI, auditLCP, auditCLS}, ",")

// LighthouseReport is the part of the lighthouse JSON output we read.
type LighthouseReport struct {
	Audits map[string]Audit `json:"audits"`
}

type Audit struct {
	NumericValue json.RawMessage `json:"numericValue"`
}

// Metrics are the web vitals shipped for an audit. A nil field means the
// audit was missing or not numeric.
type Metrics struct {
	FCPms *float64 `json:"fcp_ms"`
	FCPs  *float64 `json:"fcp_s"`
	TBTms *float64 `json:"tbt_ms"`
	TBTs  *float64 `json:"tbt_s"`
	SIms  *float64 `json:"si_ms"`
	SIs   *float64 `json:"si_s"`
	LCPms *float64 `json:"lcp_ms"`
	LCPs  *float64 `json:"lcp_s"`
	CLS   *float64 `json:"cls"`
}

// ExtractMetrics reads audits.<key>.numericValue for each vital.
func ExtractMetrics(r LighthouseReport) Metrics {
	fcp := numeric(r.Audits, auditFCP)
	tbt := numeric(r.Audits, auditTBT)
	si := numeric(r.Audits, auditSI)
	lcp := numeric(r.Audits, auditLCP)
	return Metrics{
		FCPms: fcp,
		FCPs:  seconds(fcp),
		TBTms: tbt,
		TBTs:  seconds(tbt),
		SIms:  si,
		SIs:   seconds(si),
		LCPms: lcp,
		LCPs:  seconds(lcp),
		CLS:   numeric(r.Audits, auditCLS),
	}
}

func numeric(audits map[string]Audit, key string) *float64 {
	a, ok := audits[key]
	if !ok || len(a.NumericValue) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(a.NumericValue, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// seconds converts ms to s rounded to two decimals.
func seconds(ms *float64) *float64 {
	if ms == nil {
		return nil
	}
	s := math.Round(*ms/1000*100) / 100
	return &s
}
