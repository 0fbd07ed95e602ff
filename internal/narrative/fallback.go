package narrative

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

var fallbackOpenings = map[models.NarrativeBranch]string{
	models.BranchHealthyAllClear:          "Everything looks healthy for %s.",
	models.BranchHealthyMinorNotes:        "%s is running well overall, with a few minor notes.",
	models.BranchWarningSingleAnomaly:     "One anomaly was detected for %s.",
	models.BranchWarningMultipleAnomalies: "Several anomalies were detected for %s.",
	models.BranchCriticalHighSeverity:     "A high-severity issue needs attention on %s.",
	models.BranchCriticalFleetWide:        "Issues are showing up across a large part of %s.",
	models.BranchDataIncomplete:           "There is not enough data for %s to draw firm conclusions.",
	models.BranchDataStale:                "The latest available data for %s is not from the requested period.",
	models.BranchRecurrentIssue:           "A previously seen issue has come back on %s.",
	models.BranchTrendDegrading:           "Health for %s has declined since the last check.",
	models.BranchComparisonConsistent:     "The compared devices in %s perform consistently.",
	models.BranchComparisonModerate:       "There is a moderate performance gap within %s.",
	models.BranchComparisonSignificant:    "There is a significant performance gap within %s.",
}

// Fallback builds deterministic text for branch from the numbers already in c.
// It never calls the generative model and never returns an empty string.
func Fallback(c models.NarrativeContext, branch models.NarrativeBranch) string {
	f := decompose(c)
	subject := c.Subject
	if subject == "" {
		subject = defaultSubject(c)
	}

	var parts []string
	opening, ok := fallbackOpenings[branch]
	if !ok {
		opening = "Here is the latest summary for %s."
	}
	parts = append(parts, fmt.Sprintf(opening, subject))

	if detail := flowDetail(c, f); detail != "" {
		parts = append(parts, detail)
	}
	if f.DataQualityNote != "" {
		parts = append(parts, f.DataQualityNote)
	}
	if delta := TemporalDelta(c.TemporalContext); delta != "" {
		parts = append(parts, delta)
	}
	return strings.Join(parts, " ")
}

func defaultSubject(c models.NarrativeContext) string {
	if c.IsFleetAnalysis || models.IsComparisonFlow(c.FlowType) {
		return "your fleet"
	}
	return "this device"
}

func flowDetail(c models.NarrativeContext, f Facts) string {
	d := c.Data
	switch c.FlowType {
	case models.FlowHealthCheck:
		if c.IsFleetAnalysis {
			if f.FleetSize == 0 {
				return "No devices with recorded data were found, so there is nothing to check yet."
			}
			return fmt.Sprintf("%d of %d devices reported issues.", f.LoggersWithIssues, f.FleetSize)
		}
		days, _ := toFloat(d[KeyDaysAnalyzed])
		if days > 0 {
			return fmt.Sprintf("%d anomalies were found over %.0f days, for a health score of %.0f.", len(f.Anomalies), days, f.HealthScore)
		}
		return fmt.Sprintf("%d anomalies were found, for a health score of %.0f.", len(f.Anomalies), f.HealthScore)

	case models.FlowFinancialReport:
		energy, _ := toFloat(d[KeyEnergyKwh])
		savings, _ := toFloat(d[KeySavingsUsd])
		s := fmt.Sprintf("It generated %.1f kWh, saving about $%.2f.", energy, savings)
		if co2, ok := toFloat(d[KeyCo2OffsetKg]); ok && co2 > 0 {
			s += fmt.Sprintf(" That offsets roughly %.0f kg of CO2.", co2)
		}
		if forecast, ok := toFloat(d[KeyForecastKwh]); ok && forecast > 0 {
			s += fmt.Sprintf(" Tomorrow's expected production is %.1f kWh.", forecast)
		}
		return s

	case models.FlowPerformanceAudit:
		best, worst := toString(d[KeyBestLogger]), toString(d[KeyWorstLogger])
		if best != "" && worst != "" && best != worst {
			return fmt.Sprintf("Output differs by %.0f%% between devices; %s led and %s trailed.", f.SpreadPct, best, worst)
		}
		return fmt.Sprintf("Output differs by %.0f%% between devices.", f.SpreadPct)

	case models.FlowMorningBriefing:
		active, _ := toFloat(d[KeyActiveLoggers])
		pct, _ := toFloat(d[KeyPercentOnline])
		energy, _ := toFloat(d[KeyTodayEnergyKwh])
		s := fmt.Sprintf("%.0f of %d devices are online (%.0f%%), with %.1f kWh produced so far today.", active, f.FleetSize, pct, energy)
		if f.LoggersWithIssues > 0 {
			s += fmt.Sprintf(" %d devices need a closer look.", f.LoggersWithIssues)
		}
		return s
	}
	return ""
}
