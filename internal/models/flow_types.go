// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific user intent handled by a fixed flow graph.
type FlowType string

// StepName represents a named step within a flow graph.
type StepName string

// ArgumentType represents the kind of value an argument spec asks for.
type ArgumentType string

// DefaultStrategy names how a missing argument may be filled without asking.
type DefaultStrategy string

// Flow type constants.
const (
	FlowHealthCheck      FlowType = "health_check"
	FlowFinancialReport  FlowType = "financial_report"
	FlowPerformanceAudit FlowType = "performance_audit"
	FlowMorningBriefing  FlowType = "morning_briefing"
)

// AllFlows lists every flow type in display order.
var AllFlows = []FlowType{FlowHealthCheck, FlowFinancialReport, FlowPerformanceAudit, FlowMorningBriefing}

// IsValidFlowType checks if the given flow type is supported.
func IsValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowHealthCheck, FlowFinancialReport, FlowPerformanceAudit, FlowMorningBriefing:
		return true
	default:
		return false
	}
}

// IsComparisonFlow reports whether narratives for ft are driven by spread between devices.
func IsComparisonFlow(ft FlowType) bool {
	return ft == FlowPerformanceAudit
}

// Step name constants shared by all flows.
const (
	StepFetchContext    StepName = "fetch-context"
	StepCheckArgs       StepName = "check-args"
	StepWaitForUser     StepName = "wait-for-user"
	StepInvokePrimary   StepName = "invoke-primary-tool"
	StepRecovery        StepName = "recovery"
	StepInvokeSecondary StepName = "invoke-secondary-tool"
	StepRender          StepName = "render"
	StepEnd             StepName = "__end__"
)

// Argument type constants.
const (
	ArgSingleLogger    ArgumentType = "single_logger"
	ArgMultipleLoggers ArgumentType = "multiple_loggers"
	ArgDate            ArgumentType = "date"
	ArgDateRange       ArgumentType = "date_range"
)

// Default strategy constants.
const (
	DefaultNone       DefaultStrategy = ""
	DefaultLast7Days  DefaultStrategy = "last_7_days"
	DefaultLast30Days DefaultStrategy = "last_30_days"
	DefaultLatestDate DefaultStrategy = "latest_date"
	DefaultAllLoggers DefaultStrategy = "all_loggers"
)

// ArgumentSpec describes one argument a flow needs before it can call tools.
type ArgumentSpec struct {
	Name            string          `json:"name"`
	Type            ArgumentType    `json:"type"`
	Required        bool            `json:"required"`
	DefaultStrategy DefaultStrategy `json:"defaultStrategy,omitempty"`
	MinCount        int             `json:"minCount,omitempty"`
	MaxCount        int             `json:"maxCount,omitempty"`
}

// Well-known argument names.
const (
	ArgNameLogger  = "loggerId"
	ArgNameLoggers = "loggerIds"
	ArgNameDate    = "date"
	ArgNamePeriod  = "period"
	ArgNameScope   = "scope"
)

// ScopeAllDevices is the scope value selecting the fleet-wide variant of a flow.
const ScopeAllDevices = "all"
