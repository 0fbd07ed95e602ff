package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
	"github.com/BTreeMap/FleetPipe/internal/recovery"
	"github.com/BTreeMap/FleetPipe/internal/tools"
)

type briefingSteps struct {
	base
}

// BuildBriefingFlow builds the morning_briefing graph: the fleet overview,
// then a health check of every known logger.
func BuildBriefingFlow(deps Deps) Graph {
	s := &briefingSteps{base: newBase(models.FlowMorningBriefing, deps)}
	return canonicalGraph(s.base, s)
}

func (s *briefingSteps) specs(models.ConversationState) []models.ArgumentSpec {
	return nil
}

func (s *briefingSteps) recoveryTarget(models.ConversationState) (string, string, string, models.InputType) {
	return KeyOverview, "your fleet", models.ArgNameDate, models.InputDate
}

func (s *briefingSteps) invokePrimary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	resp := tools.Call(ctx, s.deps.Gateway, models.ToolFleetOverview, map[string]any{})
	patch := models.ContextPatch{
		ToolResults:   map[string]models.ToolResponse{KeyOverview: resp},
		NeedsRecovery: models.Ptr(recovery.NeedsRecovery(resp)),
	}
	if resp.Succeeded() {
		overview, err := models.DecodeResult[models.FleetOverview](resp)
		if err != nil {
			return models.StateUpdate{}, fmt.Errorf("failed to decode fleet overview: %w", err)
		}
		patch.Briefing = &models.BriefingContext{Overview: &overview}
	}
	return models.StateUpdate{Context: patch}, nil
}

func (s *briefingSteps) invokeSecondary(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	if fc.Briefing == nil || fc.Briefing.Overview == nil {
		return models.StateUpdate{}, nil
	}
	ids := optionIDs(fc.Options)
	results := s.fanOutHealth(ctx, ids)
	sum := summarizeFleet(ids, results)
	slog.Debug("BriefingFlow.invokeSecondary: fleet checked", "loggers", sum.TotalLoggers, "issues", sum.LoggersWithIssues)

	keyed := make(map[string]models.ToolResponse, len(ids))
	for i, id := range ids {
		keyed[KeyFleetHealthPrefix+id] = results[i]
	}
	return models.StateUpdate{Context: models.ContextPatch{
		ToolResults: keyed,
		Briefing:    &models.BriefingContext{Overview: fc.Briefing.Overview, Fleet: &sum},
	}}, nil
}

func (s *briefingSteps) render(ctx context.Context, state models.ConversationState) (models.StateUpdate, error) {
	fc := state.FlowContext
	resp := fc.ToolResults[KeyOverview]

	var overview models.FleetOverview
	var fleet models.FleetHealthSummary
	if fc.Briefing != nil {
		if fc.Briefing.Overview != nil {
			overview = *fc.Briefing.Overview
		}
		if fc.Briefing.Fleet != nil {
			fleet = *fc.Briefing.Fleet
		}
	}
	status := overview.Status
	total := max(status.TotalLoggers, fleet.TotalLoggers)

	quality := models.DataQuality{Completeness: 100, IsExpectedWindow: true}
	switch {
	case !resp.Succeeded():
		quality.Completeness = 0
		quality.Confidence = "low"
	case total == 0:
		quality.Completeness = 0
	}

	nc := models.NarrativeContext{
		FlowType: models.FlowMorningBriefing,
		Data: map[string]any{
			narrative.KeyTotalLoggers:      total,
			narrative.KeyActiveLoggers:     status.ActiveLoggers,
			narrative.KeyPercentOnline:     status.PercentOnline,
			narrative.KeyTodayEnergyKwh:    overview.Production.TodayTotalEnergyKwh,
			narrative.KeyLoggersWithIssues: fleet.LoggersWithIssues,
			narrative.KeyHealthScore:       fleetScore(fleet),
		},
		DataQuality:     quality,
		IsFleetAnalysis: true,
		FleetSize:       total,
	}
	props := map[string]any{
		"totalLoggers":      total,
		"activeLoggers":     max(0, status.ActiveLoggers),
		"percentOnline":     math.Max(0, math.Min(100, status.PercentOnline)),
		"todayEnergyKwh":    math.Max(0, overview.Production.TodayTotalEnergyKwh),
		"loggersWithIssues": fleet.LoggersWithIssues,
	}
	return s.finish(ctx, state, nc, models.ComponentMorningBriefing, props, narrative.SuggestionContext{IsFleet: true}), nil
}
