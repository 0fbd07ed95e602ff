// Package models defines conversation state structures shared by flows and hosts.
package models

import (
	"maps"
	"slices"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/util"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Verbosity values for narrative preferences.
const (
	VerbosityBrief    = "brief"
	VerbosityStandard = "standard"
	VerbosityDetailed = "detailed"
)

// NarrativePreferences holds the user's tone, verbosity and persona choices.
type NarrativePreferences struct {
	Tone      []string `json:"tone,omitempty"`
	Verbosity string   `json:"verbosity,omitempty"`
	Persona   string   `json:"persona,omitempty"`
}

// NarrativeMemory is what the last narrative about a subject observed.
type NarrativeMemory struct {
	Branch       NarrativeBranch `json:"branch"`
	HealthScore  float64         `json:"healthScore"`
	AnomalyCount int             `json:"anomalyCount"`
	RecordedAt   time.Time       `json:"recordedAt"`
}

// FleetHealthEntry is the per-logger line of a fleet health summary.
type FleetHealthEntry struct {
	LoggerID     string     `json:"loggerId"`
	Status       ToolStatus `json:"status"`
	AnomalyCount int        `json:"anomalyCount"`
	HealthScore  float64    `json:"healthScore"`
	Message      string     `json:"message,omitempty"`
}

// FleetHealthSummary aggregates a fan-out of health checks.
type FleetHealthSummary struct {
	TotalLoggers       int                `json:"totalLoggers"`
	HealthyLoggers     int                `json:"healthyLoggers"`
	LoggersWithIssues  int                `json:"loggersWithIssues"`
	LoggersWithoutData int                `json:"loggersWithoutData"`
	FailedChecks       int                `json:"failedChecks"`
	TotalAnomalies     int                `json:"totalAnomalies"`
	AverageHealthScore float64            `json:"averageHealthScore"`
	Entries            []FleetHealthEntry `json:"entries"`
}

// HealthContext is the health_check flow's typed context.
type HealthContext struct {
	LoggerID    string              `json:"loggerId,omitempty"`
	AllDevices  bool                `json:"allDevices,omitempty"`
	HealthScore float64             `json:"healthScore,omitempty"`
	Fleet       *FleetHealthSummary `json:"fleet,omitempty"`
}

// FinancialContext is the financial_report flow's typed context.
type FinancialContext struct {
	LoggerID        string     `json:"loggerId,omitempty"`
	Period          *DateRange `json:"period,omitempty"`
	ForecastSkipped bool       `json:"forecastSkipped,omitempty"`
}

// PerformanceContext is the performance_audit flow's typed context.
type PerformanceContext struct {
	LoggerIDs   []string           `json:"loggerIds,omitempty"`
	Date        string             `json:"date,omitempty"`
	SpreadPct   float64            `json:"spreadPct"`
	BestLogger  string             `json:"bestLogger,omitempty"`
	WorstLogger string             `json:"worstLogger,omitempty"`
	Averages    map[string]float64 `json:"averages,omitempty"`
}

// BriefingContext is the morning_briefing flow's typed context.
type BriefingContext struct {
	Overview *FleetOverview      `json:"overview,omitempty"`
	Fleet    *FleetHealthSummary `json:"fleet,omitempty"`
}

// FlowContext is the per-conversation working context of the active flow.
type FlowContext struct {
	Arguments        map[string]any             `json:"arguments,omitempty"`
	Prefill          map[string]any             `json:"prefill,omitempty"`
	Options          []LoggerInfo               `json:"options,omitempty"`
	ToolResults      map[string]ToolResponse    `json:"toolResults,omitempty"`
	ArgsSatisfied    bool                       `json:"argsSatisfied,omitempty"`
	NeedsRecovery    bool                       `json:"needsRecovery,omitempty"`
	AvailableRange   *DateRange                 `json:"availableRange,omitempty"`
	Preferences      NarrativePreferences       `json:"preferences"`
	LastNarrative    *NarrativeResult           `json:"lastNarrative,omitempty"`
	NarrativeHistory map[string]NarrativeMemory `json:"narrativeHistory,omitempty"`

	Health      *HealthContext      `json:"health,omitempty"`
	Financial   *FinancialContext   `json:"financial,omitempty"`
	Performance *PerformanceContext `json:"performance,omitempty"`
	Briefing    *BriefingContext    `json:"briefing,omitempty"`
}

// ContextPatch is a partial FlowContext update. Nil fields are left untouched.
type ContextPatch struct {
	Arguments        map[string]any
	Prefill          map[string]any
	Options          []LoggerInfo
	ToolResults      map[string]ToolResponse
	ArgsSatisfied    *bool
	NeedsRecovery    *bool
	AvailableRange   *DateRange
	Preferences      *NarrativePreferences
	LastNarrative    *NarrativeResult
	NarrativeHistory map[string]NarrativeMemory

	Health      *HealthContext
	Financial   *FinancialContext
	Performance *PerformanceContext
	Briefing    *BriefingContext
}

// Merge returns c with p applied. Scalars and pointers are replaced, nested
// argument maps are deep-merged, and keyed maps are merged key by key. The
// receiver's maps are never written to.
func (c FlowContext) Merge(p ContextPatch) FlowContext {
	out := c
	if p.Arguments != nil {
		out.Arguments = util.DeepMerge(c.Arguments, p.Arguments)
	}
	if p.Prefill != nil {
		out.Prefill = util.DeepMerge(c.Prefill, p.Prefill)
	}
	if p.Options != nil {
		out.Options = slices.Clone(p.Options)
	}
	if p.ToolResults != nil {
		out.ToolResults = mergeKeyed(c.ToolResults, p.ToolResults)
	}
	if p.ArgsSatisfied != nil {
		out.ArgsSatisfied = *p.ArgsSatisfied
	}
	if p.NeedsRecovery != nil {
		out.NeedsRecovery = *p.NeedsRecovery
		if !out.NeedsRecovery && p.AvailableRange == nil {
			out.AvailableRange = nil
		}
	}
	if p.AvailableRange != nil {
		r := *p.AvailableRange
		out.AvailableRange = &r
	}
	if p.Preferences != nil {
		out.Preferences = *p.Preferences
	}
	if p.LastNarrative != nil {
		out.LastNarrative = p.LastNarrative
	}
	if p.NarrativeHistory != nil {
		out.NarrativeHistory = mergeKeyed(c.NarrativeHistory, p.NarrativeHistory)
	}
	if p.Health != nil {
		out.Health = p.Health
	}
	if p.Financial != nil {
		out.Financial = p.Financial
	}
	if p.Performance != nil {
		out.Performance = p.Performance
	}
	if p.Briefing != nil {
		out.Briefing = p.Briefing
	}
	return out
}

// Then combines two patches so that applying the result equals applying p then next.
func (p ContextPatch) Then(next ContextPatch) ContextPatch {
	out := p
	if next.Arguments != nil {
		out.Arguments = util.DeepMerge(p.Arguments, next.Arguments)
	}
	if next.Prefill != nil {
		out.Prefill = util.DeepMerge(p.Prefill, next.Prefill)
	}
	if next.Options != nil {
		out.Options = next.Options
	}
	if next.ToolResults != nil {
		out.ToolResults = mergeKeyed(p.ToolResults, next.ToolResults)
	}
	if next.ArgsSatisfied != nil {
		out.ArgsSatisfied = next.ArgsSatisfied
	}
	if next.NeedsRecovery != nil {
		out.NeedsRecovery = next.NeedsRecovery
		if !*next.NeedsRecovery && next.AvailableRange == nil {
			out.AvailableRange = nil
		}
	}
	if next.AvailableRange != nil {
		out.AvailableRange = next.AvailableRange
	}
	if next.Preferences != nil {
		out.Preferences = next.Preferences
	}
	if next.LastNarrative != nil {
		out.LastNarrative = next.LastNarrative
	}
	if next.NarrativeHistory != nil {
		out.NarrativeHistory = mergeKeyed(p.NarrativeHistory, next.NarrativeHistory)
	}
	if next.Health != nil {
		out.Health = next.Health
	}
	if next.Financial != nil {
		out.Financial = next.Financial
	}
	if next.Performance != nil {
		out.Performance = next.Performance
	}
	if next.Briefing != nil {
		out.Briefing = next.Briefing
	}
	return out
}

func mergeKeyed[V any](base, overlay map[string]V) map[string]V {
	out := make(map[string]V, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}

// ConversationState is the caller-owned state of one conversation.
type ConversationState struct {
	Messages         []Message   `json:"messages"`
	ActiveFlow       FlowType    `json:"activeFlow,omitempty"`
	FlowStep         int         `json:"flowStep"`
	FlowContext      FlowContext `json:"flowContext"`
	PendingUIActions []UIAction  `json:"pendingUiActions,omitempty"`
	RecoveryAttempts int         `json:"recoveryAttempts"`
}

// StateUpdate is a partial update to a ConversationState.
type StateUpdate struct {
	// Messages are appended to the log.
	Messages []Message
	// ActiveFlow replaces the active flow when set; a pointer to "" clears it.
	ActiveFlow *FlowType
	FlowStep   *int
	// ResetContext replaces the flow context with an empty one, keeping
	// preferences and narrative history, before Context is applied.
	ResetContext bool
	Context      ContextPatch
	// ClearPending drops previously pending UI actions before PendingUIActions are appended.
	ClearPending     bool
	PendingUIActions []UIAction
	RecoveryAttempts *int
}

// Apply returns the state that results from applying u. The receiver is not modified.
func (s ConversationState) Apply(u StateUpdate) ConversationState {
	out := s
	if len(u.Messages) > 0 {
		out.Messages = append(slices.Clone(s.Messages), u.Messages...)
	}
	if u.ActiveFlow != nil {
		out.ActiveFlow = *u.ActiveFlow
	}
	if u.FlowStep != nil {
		out.FlowStep = *u.FlowStep
	}
	if u.ResetContext {
		out.FlowContext = FlowContext{
			Preferences:      s.FlowContext.Preferences,
			NarrativeHistory: s.FlowContext.NarrativeHistory,
		}
	}
	out.FlowContext = out.FlowContext.Merge(u.Context)
	if u.ClearPending {
		out.PendingUIActions = nil
	}
	if len(u.PendingUIActions) > 0 {
		out.PendingUIActions = append(slices.Clone(out.PendingUIActions), u.PendingUIActions...)
	}
	if u.RecoveryAttempts != nil {
		out.RecoveryAttempts = *u.RecoveryAttempts
	}
	return out
}

// Then combines two updates so that s.Apply(u.Then(next)) equals s.Apply(u).Apply(next).
func (u StateUpdate) Then(next StateUpdate) StateUpdate {
	out := u
	if len(next.Messages) > 0 {
		out.Messages = append(slices.Clone(u.Messages), next.Messages...)
	}
	if next.ActiveFlow != nil {
		out.ActiveFlow = next.ActiveFlow
	}
	if next.FlowStep != nil {
		out.FlowStep = next.FlowStep
	}
	if next.ResetContext {
		out.ResetContext = true
		carried := ContextPatch{Preferences: u.Context.Preferences, NarrativeHistory: u.Context.NarrativeHistory}
		out.Context = carried.Then(next.Context)
	} else {
		out.Context = u.Context.Then(next.Context)
	}
	if next.ClearPending {
		out.ClearPending = true
		out.PendingUIActions = slices.Clone(next.PendingUIActions)
	} else if len(next.PendingUIActions) > 0 {
		out.PendingUIActions = append(slices.Clone(u.PendingUIActions), next.PendingUIActions...)
	}
	if next.RecoveryAttempts != nil {
		out.RecoveryAttempts = next.RecoveryAttempts
	}
	return out
}

// Ptr returns a pointer to v. Used to build partial updates.
func Ptr[T any](v T) *T {
	return &v
}
