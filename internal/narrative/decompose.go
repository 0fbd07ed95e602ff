// Package narrative turns tool results into explanations. It decomposes the
// data into facts, selects one branch of a closed taxonomy, asks the
// generative model for text within that branch and falls back to templated
// text whenever generation fails.
package narrative

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// Keys of NarrativeContext.Data understood by Decompose and the fallback templates.
const (
	KeyAnomalies         = "anomalies"
	KeyHealthScore       = "healthScore"
	KeyLoggersWithIssues = "loggersWithIssues"
	KeyTotalLoggers      = "totalLoggers"
	KeyDaysAnalyzed      = "daysAnalyzed"
	KeySpreadPct         = "spreadPct"
	KeyBestLogger        = "bestLogger"
	KeyWorstLogger       = "worstLogger"
	KeyEnergyKwh         = "energyKwh"
	KeySavingsUsd        = "savingsUsd"
	KeyCo2OffsetKg       = "co2OffsetKg"
	KeyForecastKwh       = "forecastKwh"
	KeyPercentOnline     = "percentOnline"
	KeyActiveLoggers     = "activeLoggers"
	KeyTodayEnergyKwh    = "todayEnergyKwh"
)

// Severity levels of an anomaly.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// DefaultHealthScore is assumed when the data carries no usable score.
const DefaultHealthScore = 100.0

// Anomaly is one decomposed anomaly.
type Anomaly struct {
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Severity  string `json:"severity"`
}

// Facts are the structured observations a narrative is built from.
type Facts struct {
	Anomalies         []Anomaly      `json:"anomalies"`
	HealthScore       float64        `json:"healthScore"`
	SeverityCounts    map[string]int `json:"severityCounts"`
	DataQualityNote   string         `json:"dataQualityNote,omitempty"`
	FleetSize         int            `json:"fleetSize"`
	LoggersWithIssues int            `json:"loggersWithIssues"`
	SpreadPct         float64        `json:"spreadPct"`
	HasSpread         bool           `json:"-"`
}

// HasHighSeverity reports whether any anomaly is high severity.
func (f Facts) HasHighSeverity() bool {
	return f.SeverityCounts[SeverityHigh] > 0
}

// Decompose extracts facts from c. It fails only when c violates its invariants.
func Decompose(c models.NarrativeContext) (Facts, error) {
	if err := c.Validate(); err != nil {
		return Facts{}, fmt.Errorf("invalid narrative context: %w", err)
	}
	return decompose(c), nil
}

// decompose is the lenient extraction also used by the fallback path.
func decompose(c models.NarrativeContext) Facts {
	f := Facts{
		Anomalies:      extractAnomalies(c.Data[KeyAnomalies]),
		HealthScore:    DefaultHealthScore,
		SeverityCounts: map[string]int{SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0},
	}
	if score, ok := toFloat(c.Data[KeyHealthScore]); ok {
		f.HealthScore = score
	}
	for _, a := range f.Anomalies {
		f.SeverityCounts[a.Severity]++
	}

	f.FleetSize = c.FleetSize
	if f.FleetSize == 0 {
		if n, ok := toFloat(c.Data[KeyTotalLoggers]); ok {
			f.FleetSize = int(n)
		}
	}
	if n, ok := toFloat(c.Data[KeyLoggersWithIssues]); ok {
		f.LoggersWithIssues = int(n)
	}
	if spread, ok := toFloat(c.Data[KeySpreadPct]); ok {
		f.SpreadPct = spread
		f.HasSpread = true
	}
	f.DataQualityNote = dataQualityNote(c.DataQuality)
	return f
}

func extractAnomalies(raw any) []Anomaly {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []map[string]any:
		items = make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
	case []Anomaly:
		return append([]Anomaly(nil), v...)
	default:
		return []Anomaly{}
	}

	out := make([]Anomaly, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := Anomaly{Severity: SeverityLow}
		a.Timestamp, _ = m["timestamp"].(string)
		a.Reason, _ = m["reason"].(string)
		if s, ok := m["severity"].(string); ok {
			switch strings.ToLower(s) {
			case SeverityHigh, "critical":
				a.Severity = SeverityHigh
			case SeverityMedium, "warning":
				a.Severity = SeverityMedium
			}
		}
		out = append(out, a)
	}
	return out
}

func dataQualityNote(q models.DataQuality) string {
	var parts []string
	if q.Completeness < 100 {
		parts = append(parts, fmt.Sprintf("Data covers %.0f%% of the requested window.", q.Completeness))
	}
	if !q.IsExpectedWindow && q.ActualWindow != nil && !q.ActualWindow.IsZero() {
		parts = append(parts, fmt.Sprintf("Results are from %s to %s rather than the requested window.", q.ActualWindow.Start, q.ActualWindow.End))
	}
	if len(q.MissingFields) > 0 {
		parts = append(parts, fmt.Sprintf("Missing fields: %s.", strings.Join(q.MissingFields, ", ")))
	}
	return strings.Join(parts, " ")
}

// toFloat reads a JSON-ish number. Strings, booleans and NaN-like values are rejected.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, n == n
	case float32:
		return float64(n), n == n
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
