package models

import (
	"errors"
	"fmt"
)

// NarrativeBranch is one of the closed set of situational categories that drive narrative text.
type NarrativeBranch string

const (
	BranchHealthyAllClear          NarrativeBranch = "healthy_all_clear"
	BranchHealthyMinorNotes        NarrativeBranch = "healthy_minor_notes"
	BranchWarningSingleAnomaly     NarrativeBranch = "warning_single_anomaly"
	BranchWarningMultipleAnomalies NarrativeBranch = "warning_multiple_anomalies"
	BranchCriticalHighSeverity     NarrativeBranch = "critical_high_severity"
	BranchCriticalFleetWide        NarrativeBranch = "critical_fleet_wide"
	BranchDataIncomplete           NarrativeBranch = "data_incomplete"
	BranchDataStale                NarrativeBranch = "data_stale"
	BranchRecurrentIssue           NarrativeBranch = "recurrent_issue"
	BranchTrendDegrading           NarrativeBranch = "trend_degrading"
	BranchComparisonConsistent     NarrativeBranch = "comparison_consistent"
	BranchComparisonModerate       NarrativeBranch = "comparison_moderate"
	BranchComparisonSignificant    NarrativeBranch = "comparison_significant"
)

// AllBranches lists every narrative branch.
var AllBranches = []NarrativeBranch{
	BranchHealthyAllClear,
	BranchHealthyMinorNotes,
	BranchWarningSingleAnomaly,
	BranchWarningMultipleAnomalies,
	BranchCriticalHighSeverity,
	BranchCriticalFleetWide,
	BranchDataIncomplete,
	BranchDataStale,
	BranchRecurrentIssue,
	BranchTrendDegrading,
	BranchComparisonConsistent,
	BranchComparisonModerate,
	BranchComparisonSignificant,
}

// IsActionRequired reports whether the branch calls for user action.
func (b NarrativeBranch) IsActionRequired() bool {
	switch b {
	case BranchWarningSingleAnomaly, BranchWarningMultipleAnomalies, BranchCriticalHighSeverity,
		BranchCriticalFleetWide, BranchRecurrentIssue, BranchTrendDegrading:
		return true
	default:
		return false
	}
}

// IsDataQuality reports whether the branch is about missing or stale data.
func (b NarrativeBranch) IsDataQuality() bool {
	return b == BranchDataIncomplete || b == BranchDataStale
}

// IsHealthy reports whether the branch is one of the healthy outcomes.
func (b NarrativeBranch) IsHealthy() bool {
	return b == BranchHealthyAllClear || b == BranchHealthyMinorNotes
}

// Trend values for HistoricalContext.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDegrading = "degrading"
)

// DataQuality describes how complete and timely the narrated data is.
type DataQuality struct {
	Completeness     float64    `json:"completeness"`
	IsExpectedWindow bool       `json:"isExpectedWindow"`
	ActualWindow     *DateRange `json:"actualWindow,omitempty"`
	Confidence       string     `json:"confidence,omitempty"`
	MissingFields    []string   `json:"missingFields,omitempty"`
}

// HistoricalContext carries what previous turns observed about the same subject.
type HistoricalContext struct {
	IsRecurrent       bool    `json:"isRecurrent"`
	Trend             string  `json:"trend,omitempty"`
	PreviousBranch    string  `json:"previousBranch,omitempty"`
	PreviousHealthPct float64 `json:"previousHealthPct,omitempty"`
}

// TemporalContext carries a before/after pair used to phrase deltas.
type TemporalContext struct {
	PeriodLabel   string  `json:"periodLabel,omitempty"`
	PreviousValue float64 `json:"previousValue"`
	CurrentValue  float64 `json:"currentValue"`
	Unit          string  `json:"unit,omitempty"`
}

// NarrativeContext is built fresh for every narrative call from current tool results.
type NarrativeContext struct {
	FlowType          FlowType           `json:"flowType"`
	Subject           string             `json:"subject"`
	Data              map[string]any     `json:"data"`
	DataQuality       DataQuality        `json:"dataQuality"`
	HistoricalContext *HistoricalContext `json:"historicalContext,omitempty"`
	TemporalContext   *TemporalContext   `json:"temporalContext,omitempty"`
	IsFleetAnalysis   bool               `json:"isFleetAnalysis,omitempty"`
	FleetSize         int                `json:"fleetSize,omitempty"`
}

// ErrInvalidCompleteness is returned when completeness falls outside 0..100.
var ErrInvalidCompleteness = errors.New("completeness must be between 0 and 100")

// Validate checks the context invariants.
func (c NarrativeContext) Validate() error {
	if c.DataQuality.Completeness < 0 || c.DataQuality.Completeness > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidCompleteness, c.DataQuality.Completeness)
	}
	return nil
}

// Confidence values attached to narrative results.
const (
	ConfidenceGenerated = 0.9
	ConfidenceFallback  = 0.5
)

// NarrativeMetadata describes how a narrative was produced.
type NarrativeMetadata struct {
	BranchPath       []string `json:"branchPath"`
	WasRefined       bool     `json:"wasRefined"`
	RetryCount       int      `json:"retryCount"`
	GenerationTimeMs int64    `json:"generationTimeMs"`
}

// NarrativeResult is the outcome of one narrative call.
type NarrativeResult struct {
	Narrative    string            `json:"narrative"`
	Confidence   float64           `json:"confidence"`
	UsedFallback bool              `json:"usedFallback"`
	Branch       NarrativeBranch   `json:"branch"`
	Metadata     NarrativeMetadata `json:"metadata"`
}

// SuggestionPriority orders follow-up actions.
type SuggestionPriority string

const (
	PriorityUrgent      SuggestionPriority = "urgent"
	PriorityRecommended SuggestionPriority = "recommended"
	PrioritySuggested   SuggestionPriority = "suggested"
	PriorityOptional    SuggestionPriority = "optional"
)

// Rank returns the sort rank of the priority; lower ranks sort first.
func (p SuggestionPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityRecommended:
		return 1
	case PrioritySuggested:
		return 2
	case PriorityOptional:
		return 3
	default:
		return 4
	}
}

// Suggestion is a prioritized follow-up action chip.
type Suggestion struct {
	Label    string             `json:"label"`
	Action   string             `json:"action"`
	Priority SuggestionPriority `json:"priority"`
	Reason   string             `json:"reason,omitempty"`
	Badge    string             `json:"badge,omitempty"`
	Icon     string             `json:"icon,omitempty"`
}
