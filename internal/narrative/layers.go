package narrative

import (
	"fmt"
	"math"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// Band is a coarse tone-selection bucket derived from a health or online percentage.
type Band string

const (
	BandGood Band = "good"
	BandFair Band = "fair"
	BandPoor Band = "poor"
)

// Band boundaries.
const (
	GoodBandThreshold = 90.0
	FairBandThreshold = 70.0
)

// SeverityBand maps a 0..100 metric onto a band.
func SeverityBand(metric float64) Band {
	switch {
	case metric >= GoodBandThreshold:
		return BandGood
	case metric >= FairBandThreshold:
		return BandFair
	default:
		return BandPoor
	}
}

var bandHints = map[Band]string{
	BandGood: "The overall picture is good. Keep the tone upbeat and do not invent problems.",
	BandFair: "The picture is mixed. Acknowledge what works, then flag what needs attention.",
	BandPoor: "The picture is poor. Stay calm and direct and lead with what needs action.",
}

// SeverityHint returns the tone hint for the band of metric.
func SeverityHint(metric float64) string {
	return bandHints[SeverityBand(metric)]
}

// TemporalDelta phrases the change described by t, or returns "" when t is nil.
func TemporalDelta(t *models.TemporalContext) string {
	if t == nil {
		return ""
	}
	label := t.PeriodLabel
	if label == "" {
		label = "the previous period"
	}
	unit := ""
	if t.Unit != "" {
		unit = " " + t.Unit
	}
	if t.PreviousValue == 0 {
		return fmt.Sprintf("Compared with %s there was no earlier value; now %.1f%s.", label, t.CurrentValue, unit)
	}
	pct := (t.CurrentValue - t.PreviousValue) / math.Abs(t.PreviousValue) * 100
	direction := "up"
	if pct < 0 {
		direction = "down"
	}
	if math.Abs(pct) < 0.5 {
		return fmt.Sprintf("Roughly unchanged from %s (%.1f%s).", label, t.CurrentValue, unit)
	}
	return fmt.Sprintf("That is %s %.0f%% from %s (%.1f%s to %.1f%s).",
		direction, math.Abs(pct), label, t.PreviousValue, unit, t.CurrentValue, unit)
}

// TrendDelta is the health score change that counts as a trend.
const TrendDelta = 5.0

// DeriveHistory compares the previous narrative about a subject with the
// current facts. It returns nil when nothing was recorded before.
func DeriveHistory(prev *models.NarrativeMemory, f Facts) *models.HistoricalContext {
	if prev == nil || prev.Branch == "" {
		return nil
	}
	h := &models.HistoricalContext{
		PreviousBranch:    string(prev.Branch),
		PreviousHealthPct: prev.HealthScore,
		Trend:             models.TrendStable,
	}
	switch delta := f.HealthScore - prev.HealthScore; {
	case delta <= -TrendDelta:
		h.Trend = models.TrendDegrading
	case delta >= TrendDelta:
		h.Trend = models.TrendImproving
	}
	h.IsRecurrent = prev.AnomalyCount > 0 && len(f.Anomalies) > 0 && prev.Branch.IsActionRequired()
	return h
}

// Memory records what f observed so the next narrative about the same subject can compare.
func Memory(branch models.NarrativeBranch, f Facts, now time.Time) models.NarrativeMemory {
	return models.NarrativeMemory{
		Branch:       branch,
		HealthScore:  f.HealthScore,
		AnomalyCount: len(f.Anomalies),
		RecordedAt:   now,
	}
}
