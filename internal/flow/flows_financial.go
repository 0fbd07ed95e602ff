package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
	"github.com/BTreeMap/FleetPipe/internal/recovery"
	"github.com/BTreeMap/FleetPipe/internal/tools"
)

var financialSpecs = []models.ArgumentSpec{
	{Name: models.ArgNameLogger, Type: models.ArgSingleLogger, Required: true},
	{Name: models.ArgNamePeriod, Type: models.ArgDateRange, Required: true, DefaultStrategy: models.DefaultLast30Days},
}

type financialSteps struct {
	base
}

// BuildFinancialFlow builds the financial_report graph: savings for a period,
// then a next-day forecast when the savings call produced data.
func BuildFinancialFlow(deps Deps) Graph {
	s := &financialSteps{base: newBase(models.FlowFinancialReport, deps)}
	return canonicalGraph(s.base, s)
}

func (s *financialSteps) specs(models.ConversationState) []models.ArgumentSpec {
	return financialSpecs
}

func (s *financialSteps) recoveryTarget(state models.ConversationState) (string, string, string, models.InputType) {
	return KeySavings, argString(state.FlowContext.Arguments, models.ArgNameLogger), models.ArgNamePeriod, models.InputDateRange
}

func (s *financialSteps) invokePrimary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	args := state.FlowContext.Arguments
	loggerID := argString(args, models.ArgNameLogger)
	period, _ := argRange(args, models.ArgNamePeriod)

	resp := tools.Call(ctx, s.deps.Gateway, models.ToolFinancialSavings, tools.SavingsArgs(loggerID, period))
	missing := recovery.NeedsRecovery(resp)
	return models.StateUpdate{Context: models.ContextPatch{
		ToolResults:   map[string]models.ToolResponse{KeySavings: resp},
		NeedsRecovery: models.Ptr(missing),
		Financial: &models.FinancialContext{
			LoggerID:        loggerID,
			Period:          &period,
			ForecastSkipped: missing,
		},
	}}, nil
}

// invokeSecondary fetches the forecast. A failed forecast leaves the report without one.
func (s *financialSteps) invokeSecondary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	fin := models.FinancialContext{}
	if fc.Financial != nil {
		fin = *fc.Financial
	}
	if !fc.ToolResults[KeySavings].Succeeded() {
		fin.ForecastSkipped = true
		return models.StateUpdate{Context: models.ContextPatch{Financial: &fin}}, nil
	}

	resp := tools.Call(ctx, s.deps.Gateway, models.ToolForecastProduction, tools.ForecastArgs(fin.LoggerID, tools.DefaultForecastDays))
	if !resp.Succeeded() {
		slog.Warn("FinancialFlow.invokeSecondary: forecast unavailable", "logger", fin.LoggerID, "status", resp.Status, "message", resp.Message)
		fin.ForecastSkipped = true
	}
	return models.StateUpdate{Context: models.ContextPatch{
		ToolResults: map[string]models.ToolResponse{KeyForecast: resp},
		Financial:   &fin,
	}}, nil
}

func (s *financialSteps) render(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	loggerID := argString(fc.Arguments, models.ArgNameLogger)
	period, _ := argRange(fc.Arguments, models.ArgNamePeriod)

	resp := fc.ToolResults[KeySavings]
	var report models.FinancialReport
	if resp.Succeeded() {
		r, err := models.DecodeResult[models.FinancialReport](resp)
		if err != nil {
			return models.StateUpdate{}, fmt.Errorf("failed to decode financial report: %w", err)
		}
		report = r
	}

	forecast, hasForecast := forecastKwh(fc.ToolResults[KeyForecast])
	skipped := !hasForecast

	quality := models.DataQuality{Completeness: 100, IsExpectedWindow: true}
	if !resp.Succeeded() {
		quality.Completeness = 0
		quality.Confidence = "low"
	} else {
		quality.Completeness = periodCompleteness(period, report.DaysWithData)
		if report.Period != nil && !report.Period.IsZero() && !windowMatches(period, *report.Period) {
			actual := *report.Period
			quality.ActualWindow = &actual
			quality.IsExpectedWindow = false
		}
	}

	data := map[string]any{
		narrative.KeyEnergyKwh:   report.Energy(),
		narrative.KeySavingsUsd:  report.Money(),
		narrative.KeyCo2OffsetKg: report.Co2OffsetKg,
	}
	props := map[string]any{
		"loggerId":        loggerID,
		"energyKwh":       math.Max(0, report.Energy()),
		"savingsUsd":      report.Money(),
		"co2OffsetKg":     math.Max(0, report.Co2OffsetKg),
		"treesEquivalent": math.Max(0, report.TreesEquivalent),
		"period":          rangeArg(period),
		"forecastKwh":     nil,
		"forecastSkipped": skipped,
	}
	if hasForecast {
		data[narrative.KeyForecastKwh] = forecast
		props["forecastKwh"] = forecast
	}

	nc := models.NarrativeContext{
		FlowType:    models.FlowFinancialReport,
		Subject:     loggerID,
		Data:        data,
		DataQuality: quality,
	}
	sc := narrative.SuggestionContext{ForecastAvailable: hasForecast}
	return s.finish(ctx, state, nc, models.ComponentFinancialReport, props, sc), nil
}

// forecastKwh returns the first forecast day's expected energy.
func forecastKwh(resp models.ToolResponse) (float64, bool) {
	if !resp.Succeeded() {
		return 0, false
	}
	fr, err := models.DecodeResult[models.ForecastResult](resp)
	if err != nil || len(fr.Forecasts) == 0 {
		return 0, false
	}
	return fr.Forecasts[0].ExpectedKwh, true
}

// windowMatches reports whether the tool analyzed the requested period. An
// open bound in the request matches whatever the tool filled in.
func windowMatches(requested, actual models.DateRange) bool {
	if requested.IsZero() {
		return true
	}
	return (requested.Start == "" || requested.Start == actual.Start) &&
		(requested.End == "" || requested.End == actual.End)
}

// periodCompleteness is the share of the requested days that had data. An
// unreported day count or an open period counts as complete.
func periodCompleteness(period models.DateRange, daysWithData int) float64 {
	if daysWithData <= 0 || !validDate(period.Start) || !validDate(period.End) {
		return 100
	}
	start, _ := time.Parse(dateLayout, period.Start)
	end, _ := time.Parse(dateLayout, period.End)
	days := int(end.Sub(start).Hours()/24) + 1
	if days <= 0 {
		return 100
	}
	return math.Min(100, 100*float64(daysWithData)/float64(days))
}
