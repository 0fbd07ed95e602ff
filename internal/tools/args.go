package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// Default argument values used by the tool service.
const (
	DefaultHealthDays       = 7
	DefaultForecastDays     = 1
	DefaultComparisonMetric = "power"
)

// Call executes a tool through g and converts a panic into an error response.
func Call(ctx context.Context, g Gateway, name models.ToolName, args map[string]any) (resp models.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tools.Call: gateway panicked", "tool", name, "panic", r)
			resp = models.ErrorResponse(fmt.Sprintf("tool %s failed unexpectedly", name))
		}
	}()
	if g == nil {
		return models.ErrorResponse("no tool gateway configured")
	}
	return g.Execute(ctx, name, args)
}

// HealthArgs builds analyze_inverter_health arguments.
func HealthArgs(loggerID string, days int) map[string]any {
	if days <= 0 {
		days = DefaultHealthDays
	}
	return map[string]any{"logger_id": loggerID, "days": days}
}

// SavingsArgs builds calculate_financial_savings arguments.
func SavingsArgs(loggerID string, period models.DateRange) map[string]any {
	args := map[string]any{"logger_id": loggerID, "start_date": period.Start}
	if period.End != "" {
		args["end_date"] = period.End
	}
	return args
}

// ForecastArgs builds forecast_production arguments.
func ForecastArgs(loggerID string, daysAhead int) map[string]any {
	if daysAhead <= 0 {
		daysAhead = DefaultForecastDays
	}
	return map[string]any{"logger_id": loggerID, "days_ahead": daysAhead}
}

// CompareArgs builds compare_loggers arguments.
func CompareArgs(loggerIDs []string, metric, date string) map[string]any {
	if metric == "" {
		metric = DefaultComparisonMetric
	}
	args := map[string]any{"logger_ids": loggerIDs, "metric": metric}
	if date != "" {
		args["date"] = date
	}
	return args
}
