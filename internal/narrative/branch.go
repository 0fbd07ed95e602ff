package narrative

import (
	"github.com/BTreeMap/FleetPipe/internal/models"
)

// Branch selection thresholds.
const (
	// DataIncompleteThreshold is the completeness percentage below which data is incomplete.
	DataIncompleteThreshold = 50.0
	// FleetWideIssueRatio is the share of loggers with issues that makes a problem fleet-wide.
	FleetWideIssueRatio = 0.3
	// MinorNotesHealthThreshold is the health score below which a healthy result gets notes.
	MinorNotesHealthThreshold = 95.0
	// ComparisonModerateSpread is the spread percentage where a comparison stops being consistent.
	ComparisonModerateSpread = 10.0
	// ComparisonSignificantSpread is the spread percentage where a gap is significant.
	ComparisonSignificantSpread = 30.0
	// MultipleAnomaliesMin and MultipleAnomaliesMax bound the warning_multiple_anomalies band.
	MultipleAnomaliesMin = 2
	MultipleAnomaliesMax = 3
)

// SelectBranch picks exactly one branch for c and f. Rules are checked in
// priority order and the first match wins. The returned path lists every
// rule that was evaluated followed by the chosen branch.
func SelectBranch(c models.NarrativeContext, f Facts) (models.NarrativeBranch, []string) {
	path := make([]string, 0, 8)
	pick := func(b models.NarrativeBranch) (models.NarrativeBranch, []string) {
		return b, append(path, string(b))
	}
	check := func(rule string, cond bool) bool {
		path = append(path, rule)
		return cond
	}

	if check("completeness", c.DataQuality.Completeness < DataIncompleteThreshold) {
		return pick(models.BranchDataIncomplete)
	}
	if check("expected_window", !c.DataQuality.IsExpectedWindow) {
		return pick(models.BranchDataStale)
	}
	if check("comparison", models.IsComparisonFlow(c.FlowType)) {
		return pick(comparisonBranch(f.SpreadPct))
	}
	if check("recurrent", c.HistoricalContext != nil && c.HistoricalContext.IsRecurrent) {
		return pick(models.BranchRecurrentIssue)
	}
	if check("trend", c.HistoricalContext != nil && c.HistoricalContext.Trend == models.TrendDegrading) {
		return pick(models.BranchTrendDegrading)
	}
	if check("fleet_ratio", isFleetWide(c, f)) {
		return pick(models.BranchCriticalFleetWide)
	}
	if check("high_severity", f.HasHighSeverity()) {
		return pick(models.BranchCriticalHighSeverity)
	}
	n := len(f.Anomalies)
	if check("anomaly_count", n >= MultipleAnomaliesMin) {
		// More than the band's upper bound without a high-severity anomaly is still a warning.
		return pick(models.BranchWarningMultipleAnomalies)
	}
	if check("single_anomaly", n == 1) {
		return pick(models.BranchWarningSingleAnomaly)
	}
	if check("health_score", f.HealthScore < MinorNotesHealthThreshold) {
		return pick(models.BranchHealthyMinorNotes)
	}
	return pick(models.BranchHealthyAllClear)
}

func comparisonBranch(spread float64) models.NarrativeBranch {
	switch {
	case spread >= ComparisonSignificantSpread:
		return models.BranchComparisonSignificant
	case spread >= ComparisonModerateSpread:
		return models.BranchComparisonModerate
	default:
		return models.BranchComparisonConsistent
	}
}

func isFleetWide(c models.NarrativeContext, f Facts) bool {
	if !c.IsFleetAnalysis || f.FleetSize <= 0 {
		return false
	}
	return float64(f.LoggersWithIssues)/float64(f.FleetSize) >= FleetWideIssueRatio
}
