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

// Irradiance levels (W/m²) at which a zero-output anomaly is graded.
const (
	HighSeverityIrradiance   = 500.0
	MediumSeverityIrradiance = 200.0
)

var healthLoggerSpec = models.ArgumentSpec{Name: models.ArgNameLogger, Type: models.ArgSingleLogger, Required: true}

type healthSteps struct {
	base
}

// BuildHealthFlow builds the health_check graph. With scope "all" the primary
// step fans out over every known logger.
func BuildHealthFlow(deps Deps) Graph {
	s := &healthSteps{base: newBase(models.FlowHealthCheck, deps)}
	return canonicalGraph(s.base, s)
}

func isAllDevices(state models.ConversationState) bool {
	fc := state.FlowContext
	return argString(fc.Arguments, models.ArgNameScope) == models.ScopeAllDevices ||
		argString(fc.Prefill, models.ArgNameScope) == models.ScopeAllDevices
}

func (s *healthSteps) specs(state models.ConversationState) []models.ArgumentSpec {
	if isAllDevices(state) {
		return nil
	}
	return []models.ArgumentSpec{healthLoggerSpec}
}

func (s *healthSteps) recoveryTarget(state models.ConversationState) (string, string, string, models.InputType) {
	// analyze_inverter_health takes a look-back in days, so the picker offers a single date.
	return KeyHealth, argString(state.FlowContext.Arguments, models.ArgNameLogger), models.ArgNameDate, models.InputDate
}

func (s *healthSteps) invokePrimary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	if isAllDevices(state) {
		ids := optionIDs(fc.Options)
		results := s.fanOutHealth(ctx, ids)
		sum := summarizeFleet(ids, results)
		keyed := make(map[string]models.ToolResponse, len(ids))
		for i, id := range ids {
			keyed[KeyFleetHealthPrefix+id] = results[i]
		}
		slog.Debug("HealthFlow.invokePrimary: fleet checked", "loggers", sum.TotalLoggers, "issues", sum.LoggersWithIssues)
		return models.StateUpdate{Context: models.ContextPatch{
			ToolResults:   keyed,
			NeedsRecovery: models.Ptr(false),
			Health:        &models.HealthContext{AllDevices: true, HealthScore: sum.AverageHealthScore, Fleet: &sum},
		}}, nil
	}

	loggerID := argString(fc.Arguments, models.ArgNameLogger)
	resp := tools.Call(ctx, s.deps.Gateway, models.ToolAnalyzeInverterHealth, tools.HealthArgs(loggerID, healthDays(fc.Arguments, s.deps.Now())))
	patch := models.ContextPatch{
		ToolResults:   map[string]models.ToolResponse{KeyHealth: resp},
		NeedsRecovery: models.Ptr(recovery.NeedsRecovery(resp)),
		Health:        &models.HealthContext{LoggerID: loggerID},
	}
	if resp.Succeeded() {
		report, err := models.DecodeResult[models.AnomalyReport](resp)
		if err != nil {
			return models.StateUpdate{}, fmt.Errorf("failed to decode health report: %w", err)
		}
		patch.Health.HealthScore = healthScore(report)
	}
	return models.StateUpdate{Context: patch}, nil
}

// MaxHealthDays is the longest look-back the health tool accepts.
const MaxHealthDays = 365

// healthDays derives the look-back window. The tool counts days back from
// now, so a picked start date becomes the number of days since it.
func healthDays(args map[string]any, now time.Time) int {
	if picked := argString(args, models.ArgNameDate); validDate(picked) {
		start, _ := time.Parse(dateLayout, picked)
		today := now.UTC().Truncate(24 * time.Hour)
		days := int(today.Sub(start).Hours()/24) + 1
		return max(1, min(MaxHealthDays, days))
	}
	return tools.DefaultHealthDays
}

func (s *healthSteps) render(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	if fc.Health != nil && fc.Health.AllDevices {
		return s.renderFleet(ctx, state)
	}

	loggerID := argString(fc.Arguments, models.ArgNameLogger)
	resp := fc.ToolResults[KeyHealth]
	var report models.AnomalyReport
	if resp.Succeeded() {
		r, err := models.DecodeResult[models.AnomalyReport](resp)
		if err != nil {
			return models.StateUpdate{}, fmt.Errorf("failed to decode health report: %w", err)
		}
		report = r
	}
	if report.LoggerID == "" {
		report.LoggerID = loggerID
	}

	anomalies := anomalyProps(report.Points)
	score := healthScore(report)
	quality := models.DataQuality{Completeness: 100, IsExpectedWindow: true}
	switch {
	case !resp.Succeeded():
		quality.Completeness = 0
		quality.Confidence = "low"
	case report.TotalRecords == 0 && report.DaysAnalyzed == 0 && len(report.Points) == 0:
		// An ok payload carrying no counts at all.
		quality.Completeness = 0
		quality.MissingFields = []string{"activePowerWatts"}
	}

	nc := models.NarrativeContext{
		FlowType: models.FlowHealthCheck,
		Subject:  loggerID,
		Data: map[string]any{
			narrative.KeyAnomalies:    anomaliesForNarrative(anomalies),
			narrative.KeyHealthScore:  score,
			narrative.KeyDaysAnalyzed: report.DaysAnalyzed,
		},
		DataQuality: quality,
	}
	props := map[string]any{
		"loggerId":     loggerID,
		"healthScore":  score,
		"daysAnalyzed": report.DaysAnalyzed,
		"totalRecords": report.TotalRecords,
		"anomalies":    anomalies,
	}
	upd := s.finish(ctx, state, nc, models.ComponentHealthReport, props, narrative.SuggestionContext{})
	return upd, nil
}

func (s *healthSteps) renderFleet(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	sum := state.FlowContext.Health.Fleet
	if sum == nil {
		sum = &models.FleetHealthSummary{}
	}
	nc := models.NarrativeContext{
		FlowType: models.FlowHealthCheck,
		Data: map[string]any{
			narrative.KeyHealthScore:       fleetScore(*sum),
			narrative.KeyLoggersWithIssues: sum.LoggersWithIssues,
			narrative.KeyTotalLoggers:      sum.TotalLoggers,
		},
		DataQuality:     models.DataQuality{Completeness: fleetCompleteness(*sum), IsExpectedWindow: true},
		IsFleetAnalysis: true,
		FleetSize:       sum.TotalLoggers,
	}
	props := map[string]any{
		"totalLoggers":       sum.TotalLoggers,
		"healthyLoggers":     sum.HealthyLoggers,
		"loggersWithIssues":  sum.LoggersWithIssues,
		"loggersWithoutData": sum.LoggersWithoutData,
		"failedChecks":       sum.FailedChecks,
		"totalAnomalies":     sum.TotalAnomalies,
		"averageHealthScore": fleetScore(*sum),
		"entries":            fleetEntriesProps(sum.Entries),
	}
	return s.finish(ctx, state, nc, models.ComponentFleetHealth, props, narrative.SuggestionContext{IsFleet: true}), nil
}

// fleetScore is the average health of loggers with data, or 100 when none reported.
func fleetScore(sum models.FleetHealthSummary) float64 {
	if sum.HealthyLoggers+sum.LoggersWithIssues == 0 {
		return narrative.DefaultHealthScore
	}
	return sum.AverageHealthScore
}

func anomalyCount(r models.AnomalyReport) int {
	if r.AnomalyCount > len(r.Points) {
		return r.AnomalyCount
	}
	return len(r.Points)
}

// AnomalyPenalty is the score lost per anomaly when no record count is reported.
const AnomalyPenalty = 10.0

// healthScore is the share of records without anomalies, as a percentage.
func healthScore(r models.AnomalyReport) float64 {
	n := anomalyCount(r)
	if r.TotalRecords <= 0 {
		return math.Max(0, narrative.DefaultHealthScore-AnomalyPenalty*float64(n))
	}
	score := 100 * float64(r.TotalRecords-n) / float64(r.TotalRecords)
	return math.Round(math.Max(0, math.Min(100, score))*10) / 10
}

// anomalySeverity grades a zero-output point by how much sun was available.
func anomalySeverity(p models.AnomalyPoint) string {
	if p.Irradiance == nil {
		return narrative.SeverityLow
	}
	switch irr := *p.Irradiance; {
	case irr >= HighSeverityIrradiance:
		return narrative.SeverityHigh
	case irr >= MediumSeverityIrradiance:
		return narrative.SeverityMedium
	default:
		return narrative.SeverityLow
	}
}

func anomalyProps(points []models.AnomalyPoint) []map[string]any {
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]any{
			"timestamp": p.Timestamp,
			"reason":    p.Reason,
			"severity":  anomalySeverity(p),
		})
	}
	return out
}

func anomaliesForNarrative(points []map[string]any) []any {
	out := make([]any, len(points))
	for i, p := range points {
		out[i] = p
	}
	return out
}
