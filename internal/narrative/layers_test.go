package narrative

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

func TestSeverityBand(t *testing.T) {
	tests := []struct {
		metric float64
		want   Band
	}{
		{100, BandGood},
		{90, BandGood},
		{89.9, BandFair},
		{70, BandFair},
		{69.9, BandPoor},
		{0, BandPoor},
	}
	for _, tt := range tests {
		if got := SeverityBand(tt.metric); got != tt.want {
			t.Errorf("SeverityBand(%v) = %s, want %s", tt.metric, got, tt.want)
		}
		if SeverityHint(tt.metric) == "" {
			t.Errorf("SeverityHint(%v) is empty", tt.metric)
		}
	}
}

func TestTemporalDelta(t *testing.T) {
	if TemporalDelta(nil) != "" {
		t.Error("nil context should produce no text")
	}

	up := TemporalDelta(&models.TemporalContext{PeriodLabel: "last week", PreviousValue: 100, CurrentValue: 120, Unit: "kWh"})
	if !strings.Contains(up, "up 20%") || !strings.Contains(up, "last week") {
		t.Errorf("unexpected delta %q", up)
	}

	down := TemporalDelta(&models.TemporalContext{PreviousValue: 200, CurrentValue: 150})
	if !strings.Contains(down, "down 25%") || !strings.Contains(down, "the previous period") {
		t.Errorf("unexpected delta %q", down)
	}

	flat := TemporalDelta(&models.TemporalContext{PreviousValue: 100, CurrentValue: 100.2})
	if !strings.Contains(flat, "unchanged") {
		t.Errorf("unexpected delta %q", flat)
	}

	zero := TemporalDelta(&models.TemporalContext{PreviousValue: 0, CurrentValue: 5})
	if !strings.Contains(zero, "no earlier value") {
		t.Errorf("unexpected delta %q", zero)
	}
}

func TestDeriveHistory(t *testing.T) {
	if DeriveHistory(nil, Facts{}) != nil {
		t.Error("no previous memory should give nil history")
	}

	tests := []struct {
		name      string
		prev      models.NarrativeMemory
		facts     Facts
		trend     string
		recurrent bool
	}{
		{
			name:  "degrading",
			prev:  models.NarrativeMemory{Branch: models.BranchHealthyAllClear, HealthScore: 98},
			facts: Facts{HealthScore: 90, Anomalies: []Anomaly{}},
			trend: models.TrendDegrading,
		},
		{
			name:  "improving",
			prev:  models.NarrativeMemory{Branch: models.BranchHealthyMinorNotes, HealthScore: 80},
			facts: Facts{HealthScore: 96, Anomalies: []Anomaly{}},
			trend: models.TrendImproving,
		},
		{
			name:  "stable within delta",
			prev:  models.NarrativeMemory{Branch: models.BranchHealthyAllClear, HealthScore: 98},
			facts: Facts{HealthScore: 95, Anomalies: []Anomaly{}},
			trend: models.TrendStable,
		},
		{
			name:      "recurrent",
			prev:      models.NarrativeMemory{Branch: models.BranchWarningSingleAnomaly, HealthScore: 90, AnomalyCount: 1},
			facts:     Facts{HealthScore: 90, Anomalies: []Anomaly{{Severity: SeverityLow}}},
			trend:     models.TrendStable,
			recurrent: true,
		},
		{
			name:  "previous healthy is not recurrent",
			prev:  models.NarrativeMemory{Branch: models.BranchHealthyMinorNotes, HealthScore: 90, AnomalyCount: 1},
			facts: Facts{HealthScore: 90, Anomalies: []Anomaly{{Severity: SeverityLow}}},
			trend: models.TrendStable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := DeriveHistory(&tt.prev, tt.facts)
			if h == nil {
				t.Fatal("expected history")
			}
			if h.Trend != tt.trend {
				t.Errorf("trend = %s, want %s", h.Trend, tt.trend)
			}
			if h.IsRecurrent != tt.recurrent {
				t.Errorf("recurrent = %v, want %v", h.IsRecurrent, tt.recurrent)
			}
			if h.PreviousBranch != string(tt.prev.Branch) {
				t.Errorf("previous branch = %s", h.PreviousBranch)
			}
		})
	}
}

func TestMemory(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	m := Memory(models.BranchWarningMultipleAnomalies, Facts{HealthScore: 81, Anomalies: make([]Anomaly, 3)}, now)
	if m.Branch != models.BranchWarningMultipleAnomalies || m.AnomalyCount != 3 || m.HealthScore != 81 || !m.RecordedAt.Equal(now) {
		t.Errorf("memory = %+v", m)
	}
}
