package flow

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
)

var testNow = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type toolCall struct {
	name models.ToolName
	args map[string]any
}

// fakeGateway answers tool calls from per-tool handlers and records every call.
type fakeGateway struct {
	mu       sync.Mutex
	handlers map[models.ToolName]func(args map[string]any) models.ToolResponse
	calls    []toolCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{handlers: map[models.ToolName]func(map[string]any) models.ToolResponse{}}
}

func (g *fakeGateway) on(name models.ToolName, fn func(args map[string]any) models.ToolResponse) *fakeGateway {
	g.handlers[name] = fn
	return g
}

func (g *fakeGateway) reply(name models.ToolName, resp models.ToolResponse) *fakeGateway {
	return g.on(name, func(map[string]any) models.ToolResponse { return resp })
}

func (g *fakeGateway) Execute(_ context.Context, name models.ToolName, args map[string]any) models.ToolResponse {
	g.mu.Lock()
	g.calls = append(g.calls, toolCall{name: name, args: args})
	fn := g.handlers[name]
	g.mu.Unlock()
	if fn == nil {
		return models.ErrorResponse("unexpected tool " + string(name))
	}
	return fn(args)
}

func (g *fakeGateway) callsTo(name models.ToolName) []toolCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []toolCall
	for _, c := range g.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func testDeps(g *fakeGateway) Deps {
	return Deps{
		Gateway:  g,
		Narrator: narrative.NewEngine(nil, narrative.WithClock(fixedClock)),
		Resolver: NewResolver(nil, WithResolverClock(fixedClock)),
		Now:      fixedClock,
	}
}

func okResponse(result map[string]any) models.ToolResponse {
	return models.ToolResponse{Status: models.ToolStatusOK, Result: result}
}

// loggerList builds a list_loggers response; every logger has data from
// 2024-01-01 to 2024-06-10.
func loggerList(ids ...string) models.ToolResponse {
	loggers := make([]any, 0, len(ids))
	for _, id := range ids {
		loggers = append(loggers, map[string]any{
			"loggerId":     id,
			"loggerType":   "inverter",
			"earliestData": "2024-01-01T00:00:00",
			"latestData":   "2024-06-10T18:45:00",
			"recordCount":  1000,
		})
	}
	return okResponse(map[string]any{"count": float64(len(ids)), "loggers": loggers})
}

func loggerOpts(ids ...string) []models.LoggerInfo {
	out := make([]models.LoggerInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.LoggerInfo{
			LoggerID:     id,
			LoggerType:   "inverter",
			EarliestData: "2024-01-01T00:00:00",
			LatestData:   "2024-06-10T18:45:00",
		})
	}
	return out
}

func healthyReport(id string) models.ToolResponse {
	return okResponse(map[string]any{"loggerId": id, "daysAnalyzed": float64(7), "totalRecords": float64(672), "points": []any{}})
}

func anomalousReport(id string, irradiance ...float64) models.ToolResponse {
	points := make([]any, 0, len(irradiance))
	for i, irr := range irradiance {
		points = append(points, map[string]any{
			"timestamp":  time.Date(2024, 6, 10+i, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
			"irradiance": irr,
			"reason":     "zero output with sunlight",
		})
	}
	return okResponse(map[string]any{
		"loggerId":     id,
		"daysAnalyzed": float64(7),
		"totalRecords": float64(672),
		"anomalyCount": float64(len(irradiance)),
		"points":       points,
	})
}

func selectionOf(state models.ConversationState) *models.SelectionRequest {
	for i := len(state.PendingUIActions) - 1; i >= 0; i-- {
		if a := state.PendingUIActions[i]; a.Type == models.UIActionSelection {
			return a.Selection
		}
	}
	return nil
}

func lastTraceStep(trace []models.StepName) models.StepName {
	if len(trace) == 0 {
		return ""
	}
	return trace[len(trace)-1]
}
