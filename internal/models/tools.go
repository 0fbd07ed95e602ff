// Package models defines tool structures exchanged with the analysis tool service.
package models

import (
	"encoding/json"
	"fmt"
)

// ToolName identifies an operation exposed by the analysis tool service.
type ToolName string

const (
	ToolListLoggers           ToolName = "list_loggers"
	ToolAnalyzeInverterHealth ToolName = "analyze_inverter_health"
	ToolGetPowerCurve         ToolName = "get_power_curve"
	ToolCompareLoggers        ToolName = "compare_loggers"
	ToolFinancialSavings      ToolName = "calculate_financial_savings"
	ToolPerformanceRatio      ToolName = "calculate_performance_ratio"
	ToolForecastProduction    ToolName = "forecast_production"
	ToolDiagnoseErrorCodes    ToolName = "diagnose_error_codes"
	ToolFleetOverview         ToolName = "get_fleet_overview"
	ToolHealthCheck           ToolName = "health_check"
)

// ToolStatus is the normalized outcome of a tool call.
type ToolStatus string

const (
	ToolStatusOK             ToolStatus = "ok"
	ToolStatusSuccess        ToolStatus = "success"
	ToolStatusNoData         ToolStatus = "no_data"
	ToolStatusNoDataInWindow ToolStatus = "no_data_in_window"
	ToolStatusError          ToolStatus = "error"
)

// IsValidToolStatus reports whether s is one of the known statuses.
func IsValidToolStatus(s ToolStatus) bool {
	switch s {
	case ToolStatusOK, ToolStatusSuccess, ToolStatusNoData, ToolStatusNoDataInWindow, ToolStatusError:
		return true
	default:
		return false
	}
}

// DateRange is an inclusive window of ISO dates (YYYY-MM-DD).
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r *DateRange) IsZero() bool {
	return r == nil || (r.Start == "" && r.End == "")
}

// ToolResponse is the tagged result of a single tool call.
type ToolResponse struct {
	Status         ToolStatus     `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	Message        string         `json:"message,omitempty"`
	AvailableRange *DateRange     `json:"availableRange,omitempty"`
}

// Succeeded reports whether the call produced usable data.
func (r ToolResponse) Succeeded() bool {
	return r.Status == ToolStatusOK || r.Status == ToolStatusSuccess
}

// ErrorResponse builds a ToolResponse for a failed call.
func ErrorResponse(message string) ToolResponse {
	return ToolResponse{Status: ToolStatusError, Message: message}
}

// DecodeResult converts the untyped result map into T via its JSON shape.
func DecodeResult[T any](r ToolResponse) (T, error) {
	var out T
	if len(r.Result) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(r.Result)
	if err != nil {
		return out, fmt.Errorf("failed to encode tool result: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return out, nil
}

// LoggerInfo is a single entry of the list_loggers result.
type LoggerInfo struct {
	LoggerID     string `json:"loggerId"`
	LoggerType   string `json:"loggerType,omitempty"`
	EarliestData string `json:"earliestData,omitempty"`
	LatestData   string `json:"latestData,omitempty"`
	RecordCount  int    `json:"recordCount,omitempty"`
}

// LoggerListResult is the list_loggers payload.
type LoggerListResult struct {
	Count   int          `json:"count"`
	Loggers []LoggerInfo `json:"loggers"`
}

// AnomalyPoint is one anomaly reported by analyze_inverter_health.
type AnomalyPoint struct {
	Timestamp        string   `json:"timestamp"`
	ActivePowerWatts *float64 `json:"activePowerWatts,omitempty"`
	Irradiance       *float64 `json:"irradiance,omitempty"`
	Reason           string   `json:"reason"`
}

// AnomalyReport is the analyze_inverter_health payload.
type AnomalyReport struct {
	LoggerID     string         `json:"loggerId"`
	DaysAnalyzed int            `json:"daysAnalyzed,omitempty"`
	TotalRecords int            `json:"totalRecords,omitempty"`
	AnomalyCount int            `json:"anomalyCount,omitempty"`
	Points       []AnomalyPoint `json:"points,omitempty"`
}

// FinancialReport is the calculate_financial_savings payload. The service has
// shipped two field spellings; both are accepted.
type FinancialReport struct {
	LoggerID           string     `json:"loggerId,omitempty"`
	DaysWithData       int        `json:"daysWithData,omitempty"`
	TotalEnergyKwh     float64    `json:"totalEnergyKwh,omitempty"`
	EnergyGenerated    float64    `json:"energyGenerated,omitempty"`
	SavingsUsd         float64    `json:"savingsUsd,omitempty"`
	Savings            float64    `json:"savings,omitempty"`
	ElectricityRateUsd float64    `json:"electricityRateUsd,omitempty"`
	Co2OffsetKg        float64    `json:"co2OffsetKg,omitempty"`
	TreesEquivalent    float64    `json:"treesEquivalent,omitempty"`
	Period             *DateRange `json:"period,omitempty"`
}

// Energy returns the generated energy in kWh whichever field carried it.
func (f FinancialReport) Energy() float64 {
	if f.TotalEnergyKwh != 0 {
		return f.TotalEnergyKwh
	}
	return f.EnergyGenerated
}

// Money returns the savings in USD whichever field carried it.
func (f FinancialReport) Money() float64 {
	if f.SavingsUsd != 0 {
		return f.SavingsUsd
	}
	return f.Savings
}

// ForecastDay is one day of forecast_production output.
type ForecastDay struct {
	Date        string  `json:"date"`
	ExpectedKwh float64 `json:"expectedKwh"`
	RangeMin    float64 `json:"rangeMin"`
	RangeMax    float64 `json:"rangeMax"`
	Confidence  string  `json:"confidence,omitempty"`
}

// ForecastResult is the forecast_production payload.
type ForecastResult struct {
	LoggerID    string        `json:"loggerId,omitempty"`
	Method      string        `json:"method,omitempty"`
	BasedOnDays int           `json:"basedOnDays,omitempty"`
	Forecasts   []ForecastDay `json:"forecasts,omitempty"`
}

// ComparisonResult is the compare_loggers payload. Data rows hold a timestamp
// plus one column per logger id.
type ComparisonResult struct {
	Metric      string           `json:"metric,omitempty"`
	LoggerIDs   []string         `json:"loggerIds,omitempty"`
	Date        string           `json:"date,omitempty"`
	RecordCount int              `json:"recordCount,omitempty"`
	Data        []map[string]any `json:"data,omitempty"`
}

// FleetStatus is the status block of get_fleet_overview.
type FleetStatus struct {
	TotalLoggers  int     `json:"totalLoggers"`
	ActiveLoggers int     `json:"activeLoggers"`
	PercentOnline float64 `json:"percentOnline"`
	FleetHealth   string  `json:"fleetHealth,omitempty"`
}

// FleetProduction is the production block of get_fleet_overview.
type FleetProduction struct {
	CurrentTotalPowerWatts float64 `json:"currentTotalPowerWatts"`
	TodayTotalEnergyKwh    float64 `json:"todayTotalEnergyKwh"`
	SiteAvgIrradiance      float64 `json:"siteAvgIrradiance"`
}

// FleetOverview is the get_fleet_overview payload.
type FleetOverview struct {
	Timestamp  string          `json:"timestamp,omitempty"`
	Status     FleetStatus     `json:"status"`
	Production FleetProduction `json:"production"`
	Summary    string          `json:"summary,omitempty"`
}
