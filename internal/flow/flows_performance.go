package flow

import (
	"context"
	"fmt"
	"math"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
	"github.com/BTreeMap/FleetPipe/internal/recovery"
	"github.com/BTreeMap/FleetPipe/internal/tools"
)

// Comparison bounds accepted by compare_loggers.
const (
	MinComparedLoggers = 2
	MaxComparedLoggers = 5
)

var performanceSpecs = []models.ArgumentSpec{
	{Name: models.ArgNameLoggers, Type: models.ArgMultipleLoggers, Required: true, MinCount: MinComparedLoggers, MaxCount: MaxComparedLoggers},
	{Name: models.ArgNameDate, Type: models.ArgDate, Required: true, DefaultStrategy: models.DefaultLatestDate},
}

type performanceSteps struct {
	base
}

// BuildPerformanceFlow builds the performance_audit graph comparing 2 to 5
// loggers on one day.
func BuildPerformanceFlow(deps Deps) Graph {
	s := &performanceSteps{base: newBase(models.FlowPerformanceAudit, deps)}
	return canonicalGraph(s.base, s)
}

func (s *performanceSteps) specs(models.ConversationState) []models.ArgumentSpec {
	return performanceSpecs
}

func (s *performanceSteps) recoveryTarget(state models.ConversationState) (string, string, string, models.InputType) {
	return KeyComparison, joinIDs(argStrings(state.FlowContext.Arguments, models.ArgNameLoggers)), models.ArgNameDate, models.InputDate
}

func (s *performanceSteps) invokePrimary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	args := state.FlowContext.Arguments
	ids := argStrings(args, models.ArgNameLoggers)
	date := argString(args, models.ArgNameDate)

	resp := tools.Call(ctx, s.deps.Gateway, models.ToolCompareLoggers, tools.CompareArgs(ids, tools.DefaultComparisonMetric, date))
	perf := &models.PerformanceContext{LoggerIDs: ids, Date: date}
	if resp.Succeeded() {
		cmp, err := models.DecodeResult[models.ComparisonResult](resp)
		if err != nil {
			return models.StateUpdate{}, fmt.Errorf("failed to decode comparison: %w", err)
		}
		perf.Averages = loggerAverages(ids, cmp.Data)
		perf.BestLogger, perf.WorstLogger, perf.SpreadPct = spread(ids, perf.Averages)
	}
	return models.StateUpdate{Context: models.ContextPatch{
		ToolResults:   map[string]models.ToolResponse{KeyComparison: resp},
		NeedsRecovery: models.Ptr(recovery.NeedsRecovery(resp)),
		Performance:   perf,
	}}, nil
}

func (s *performanceSteps) render(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	perf := models.PerformanceContext{}
	if fc.Performance != nil {
		perf = *fc.Performance
	}
	if len(perf.LoggerIDs) == 0 {
		perf.LoggerIDs = argStrings(fc.Arguments, models.ArgNameLoggers)
	}
	resp := fc.ToolResults[KeyComparison]

	quality := models.DataQuality{Completeness: 100, IsExpectedWindow: true}
	if !resp.Succeeded() {
		quality.Completeness = 0
		quality.Confidence = "low"
	} else if len(perf.LoggerIDs) > 0 {
		quality.Completeness = 100 * float64(len(perf.Averages)) / float64(len(perf.LoggerIDs))
		for _, id := range perf.LoggerIDs {
			if _, ok := perf.Averages[id]; !ok {
				quality.MissingFields = append(quality.MissingFields, id)
			}
		}
	}

	subject := joinIDs(perf.LoggerIDs)
	nc := models.NarrativeContext{
		FlowType: models.FlowPerformanceAudit,
		Subject:  subject,
		Data: map[string]any{
			narrative.KeySpreadPct:   perf.SpreadPct,
			narrative.KeyBestLogger:  perf.BestLogger,
			narrative.KeyWorstLogger: perf.WorstLogger,
		},
		DataQuality: quality,
	}
	averages := make(map[string]any, len(perf.Averages))
	for id, avg := range perf.Averages {
		averages[id] = avg
	}
	props := map[string]any{
		"loggerIds":   stringsArg(perf.LoggerIDs),
		"date":        perf.Date,
		"metric":      tools.DefaultComparisonMetric,
		"spreadPct":   perf.SpreadPct,
		"bestLogger":  perf.BestLogger,
		"worstLogger": perf.WorstLogger,
		"averages":    averages,
	}
	sc := narrative.SuggestionContext{
		SpreadPct:   perf.SpreadPct,
		BestLogger:  perf.BestLogger,
		WorstLogger: perf.WorstLogger,
	}
	return s.finish(ctx, state, nc, models.ComponentPerformanceComparison, props, sc), nil
}

// loggerAverages averages each logger's numeric column across the data rows.
// Loggers without a single value are left out.
func loggerAverages(ids []string, rows []map[string]any) map[string]float64 {
	sums := make(map[string]float64, len(ids))
	counts := make(map[string]int, len(ids))
	for _, row := range rows {
		for _, id := range ids {
			v, ok := row[id].(float64)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sums[id] += v
			counts[id]++
		}
	}
	out := make(map[string]float64, len(counts))
	for id, n := range counts {
		out[id] = math.Round(sums[id]/float64(n)*100) / 100
	}
	return out
}

// spread finds the best and worst performers in id order and returns the gap
// as a percentage of the best. A non-positive best yields zero spread.
func spread(ids []string, averages map[string]float64) (best, worst string, pct float64) {
	for _, id := range ids {
		avg, ok := averages[id]
		if !ok {
			continue
		}
		if best == "" || avg > averages[best] {
			best = id
		}
		if worst == "" || avg < averages[worst] {
			worst = id
		}
	}
	if best == "" || averages[best] <= 0 {
		return best, worst, 0
	}
	pct = (averages[best] - averages[worst]) / averages[best] * 100
	return best, worst, math.Round(pct*10) / 10
}
