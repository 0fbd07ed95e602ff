package narrative

import (
	"fmt"
	"slices"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// DefaultMaxSuggestions is used when a non-positive limit is requested.
const DefaultMaxSuggestions = 3

// LargeGapSpread is the spread percentage at which the underperformer gets a diagnostic suggestion.
const LargeGapSpread = ComparisonSignificantSpread

// SuggestionContext is what follow-up actions are derived from.
type SuggestionContext struct {
	FlowType    models.FlowType
	Branch      models.NarrativeBranch
	Subject     string
	SpreadPct   float64
	BestLogger  string
	WorstLogger string
	IsFleet     bool
	// ForecastAvailable is false when the forecast step was skipped.
	ForecastAvailable bool
}

// Suggestions returns at most limit follow-up actions: branch-derived ones
// followed by flow-specific ones, deduplicated by label, then stably sorted by
// priority.
func Suggestions(sc SuggestionContext, limit int) []models.Suggestion {
	if limit <= 0 {
		limit = DefaultMaxSuggestions
	}
	all := append(branchSuggestions(sc), flowSuggestions(sc)...)

	seen := make(map[string]bool, len(all))
	out := make([]models.Suggestion, 0, len(all))
	for _, s := range all {
		if seen[s.Label] {
			continue
		}
		seen[s.Label] = true
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b models.Suggestion) int {
		return a.Priority.Rank() - b.Priority.Rank()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func branchSuggestions(sc SuggestionContext) []models.Suggestion {
	b := sc.Branch
	switch {
	case b.IsDataQuality():
		return []models.Suggestion{{
			Label:    "Try a different date",
			Action:   "Show data for a different date range",
			Priority: models.PriorityRecommended,
			Reason:   "The requested window has little or no data",
			Icon:     "calendar",
		}}
	case b.IsActionRequired():
		priority := models.PriorityRecommended
		badge := ""
		if b == models.BranchCriticalHighSeverity || b == models.BranchCriticalFleetWide {
			priority = models.PriorityUrgent
			badge = "Urgent"
		}
		return []models.Suggestion{
			{
				Label:    "Run diagnostics",
				Action:   fmt.Sprintf("Diagnose error codes for %s", subjectOr(sc, "this device")),
				Priority: priority,
				Reason:   "Anomalies were detected",
				Badge:    badge,
				Icon:     "stethoscope",
			},
			{
				Label:    "View power curve",
				Action:   fmt.Sprintf("Show the power curve for %s", subjectOr(sc, "this device")),
				Priority: models.PrioritySuggested,
				Reason:   "See when output dropped",
				Icon:     "chart",
			},
		}
	case b.IsHealthy():
		return []models.Suggestion{
			{
				Label:    "Check savings",
				Action:   fmt.Sprintf("Show financial savings for %s", subjectOr(sc, "this device")),
				Priority: models.PrioritySuggested,
				Icon:     "dollar",
			},
			{
				Label:    "Review efficiency",
				Action:   fmt.Sprintf("Calculate the performance ratio for %s", subjectOr(sc, "this device")),
				Priority: models.PriorityOptional,
				Icon:     "gauge",
			},
		}
	}
	return nil
}

func flowSuggestions(sc SuggestionContext) []models.Suggestion {
	switch sc.FlowType {
	case models.FlowFinancialReport:
		out := []models.Suggestion{{
			Label:    "View savings trend",
			Action:   fmt.Sprintf("Show the savings trend for %s", subjectOr(sc, "this device")),
			Priority: models.PrioritySuggested,
			Icon:     "trend",
		}}
		if !sc.ForecastAvailable {
			out = append(out, models.Suggestion{
				Label:    "Forecast production",
				Action:   fmt.Sprintf("Forecast production for %s", subjectOr(sc, "this device")),
				Priority: models.PriorityRecommended,
				Icon:     "sun",
			})
		}
		return out
	case models.FlowPerformanceAudit:
		var out []models.Suggestion
		if sc.SpreadPct >= LargeGapSpread && sc.WorstLogger != "" {
			out = append(out, models.Suggestion{
				Label:    fmt.Sprintf("Diagnose %s", sc.WorstLogger),
				Action:   fmt.Sprintf("Diagnose error codes for %s", sc.WorstLogger),
				Priority: models.PriorityUrgent,
				Reason:   fmt.Sprintf("It trails the best device by %.0f%%", sc.SpreadPct),
				Icon:     "stethoscope",
			})
		}
		if sc.BestLogger != "" {
			out = append(out, models.Suggestion{
				Label:    fmt.Sprintf("Explore %s", sc.BestLogger),
				Action:   fmt.Sprintf("Check health for %s", sc.BestLogger),
				Priority: models.PriorityOptional,
				Reason:   "Best performer in the comparison",
				Icon:     "trophy",
			})
		}
		return out
	case models.FlowHealthCheck:
		if sc.IsFleet {
			return []models.Suggestion{{
				Label:    "Compare devices",
				Action:   "Compare performance across devices",
				Priority: models.PrioritySuggested,
				Icon:     "compare",
			}}
		}
		return []models.Suggestion{{
			Label:    "Check the whole fleet",
			Action:   "Check health for all devices",
			Priority: models.PriorityOptional,
			Icon:     "fleet",
		}}
	case models.FlowMorningBriefing:
		return []models.Suggestion{{
			Label:    "Run fleet health check",
			Action:   "Check health for all devices",
			Priority: models.PriorityRecommended,
			Icon:     "fleet",
		}}
	}
	return nil
}

func subjectOr(sc SuggestionContext, def string) string {
	if sc.Subject != "" {
		return sc.Subject
	}
	return def
}
