package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/FleetPipe/internal/flow"
	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/store"
	"github.com/BTreeMap/FleetPipe/internal/tools"
)

// stubTurns records calls and returns a canned result.
type stubTurns struct {
	calls  int
	last   flow.TurnInput
	result flow.TurnResult
	err    error
}

func (s *stubTurns) HandleTurn(_ context.Context, state models.ConversationState, in flow.TurnInput) (flow.TurnResult, error) {
	s.calls++
	s.last = in
	if s.err != nil {
		return flow.TurnResult{}, s.err
	}
	res := s.result
	res.State = state.Apply(res.Update)
	return res, nil
}

type stubHealth struct{ err error }

func (h stubHealth) Health(context.Context) error { return h.err }

func newTestServer(t *testing.T, turns TurnHandler, opts ...Option) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewInMemoryStore()
	if err != nil {
		t.Fatalf("NewInMemoryStore: %v", err)
	}
	return NewServer(turns, st, opts...), st
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON body %q: %v", method, path, rr.Body.String(), err)
	}
	return rr, resp
}

func createConversation(t *testing.T, h http.Handler) string {
	t.Helper()
	rr, resp := do(t, h, http.MethodPost, "/conversations", "", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	result, _ := resp.Result.(map[string]any)
	id, _ := result["id"].(string)
	if !strings.HasPrefix(id, "c_") {
		t.Fatalf("unexpected conversation id %q", id)
	}
	return id
}

func TestServer_ConversationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &stubTurns{})
	h := srv.Handler()
	id := createConversation(t, h)

	rr, resp := do(t, h, http.MethodGet, "/conversations/"+id, "", nil)
	if rr.Code != http.StatusOK || resp.Status != "ok" {
		t.Fatalf("get: %d %+v", rr.Code, resp)
	}

	rr, _ = do(t, h, http.MethodDelete, "/conversations/"+id, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	rr, _ = do(t, h, http.MethodGet, "/conversations/"+id, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rr.Code)
	}
	rr, _ = do(t, h, http.MethodDelete, "/conversations/"+id, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestServer_CreateConversationWithPreferences(t *testing.T) {
	srv, st := newTestServer(t, &stubTurns{})
	h := srv.Handler()

	rr, resp := do(t, h, http.MethodPost, "/conversations", `{"preferences":{"verbosity":"brief"}}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	id := resp.Result.(map[string]any)["id"].(string)
	conv, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.State.FlowContext.Preferences.Verbosity != models.VerbosityBrief {
		t.Errorf("preferences not stored: %+v", conv.State.FlowContext.Preferences)
	}

	rr, _ = do(t, h, http.MethodPost, "/conversations", `{"preferences":{"verbosity":"loud"}}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid verbosity: expected 400, got %d", rr.Code)
	}
	rr, _ = do(t, h, http.MethodPost, "/conversations", `{`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: expected 400, got %d", rr.Code)
	}
}

func TestServer_TurnPersistsState(t *testing.T) {
	payload := models.RenderPayload{Component: models.ComponentHealthReport}
	turns := &stubTurns{result: flow.TurnResult{
		Update: models.StateUpdate{
			ActiveFlow:       models.Ptr(models.FlowHealthCheck),
			FlowStep:         models.Ptr(5),
			PendingUIActions: []models.UIAction{models.RenderAction(payload)},
		},
		Render: &payload,
		Flow:   models.FlowHealthCheck,
		Trace:  []models.StepName{models.StepFetchContext, models.StepCheckArgs, models.StepInvokePrimary, models.StepRender, models.StepEnd},
	}}
	srv, st := newTestServer(t, turns)
	h := srv.Handler()
	id := createConversation(t, h)

	rr, resp := do(t, h, http.MethodPost, "/conversations/"+id+"/turns", `{"message":"check 925","arguments":{"loggerId":"925"}}`, nil)
	if rr.Code != http.StatusOK || resp.Status != "ok" {
		t.Fatalf("turn: %d %+v", rr.Code, resp)
	}
	if turns.last.Message != "check 925" || turns.last.Arguments["loggerId"] != "925" {
		t.Errorf("turn input = %+v", turns.last)
	}
	result := resp.Result.(map[string]any)
	if result["flow"] != string(models.FlowHealthCheck) || result["render"] == nil {
		t.Errorf("turn result = %v", result)
	}

	conv, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.State.ActiveFlow != models.FlowHealthCheck || conv.State.FlowStep != 5 {
		t.Errorf("state not saved: %+v", conv.State)
	}
}

func TestServer_TurnPendingSelection(t *testing.T) {
	turns := &stubTurns{result: flow.TurnResult{
		Update: models.StateUpdate{PendingUIActions: []models.UIAction{
			models.SelectionAction(models.SelectionRequest{Prompt: "Which device?", Argument: "loggerId"}),
		}},
		Flow: models.FlowHealthCheck,
	}}
	srv, _ := newTestServer(t, turns)
	h := srv.Handler()
	id := createConversation(t, h)

	rr, resp := do(t, h, http.MethodPost, "/conversations/"+id+"/turns", `{"message":"health check"}`, nil)
	if rr.Code != http.StatusOK || resp.Status != string(models.APIStatusPending) {
		t.Errorf("expected pending, got %d %+v", rr.Code, resp)
	}
}

func TestServer_TurnErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		missing bool
		want    int
	}{
		{"bad json", `{`, nil, false, http.StatusBadRequest},
		{"empty turn", `{}`, nil, false, http.StatusBadRequest},
		{"invalid flow", `{"flow":"weather"}`, nil, false, http.StatusBadRequest},
		{"unknown conversation", `{"message":"hi"}`, nil, true, http.StatusNotFound},
		{"unknown flow from handler", `{"message":"hi"}`, flow.ErrUnknownFlow, false, http.StatusBadRequest},
		{"timeout", `{"message":"hi"}`, context.DeadlineExceeded, false, http.StatusGatewayTimeout},
		{"cancelled", `{"message":"hi"}`, context.Canceled, false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubTurns{err: tt.err})
			h := srv.Handler()
			id := createConversation(t, h)
			if tt.missing {
				id = "c_missing"
			}
			rr, resp := do(t, h, http.MethodPost, "/conversations/"+id+"/turns", tt.body, nil)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
			if resp.Status != string(models.APIStatusError) {
				t.Errorf("expected error status, got %q", resp.Status)
			}
		})
	}
}

func TestServer_IdempotentTurns(t *testing.T) {
	turns := &stubTurns{result: flow.TurnResult{Flow: models.FlowMorningBriefing}}
	srv, _ := newTestServer(t, turns)
	h := srv.Handler()
	id := createConversation(t, h)
	header := map[string]string{IdempotencyKeyHeader: "req-42"}

	for i := 0; i < 3; i++ {
		rr, _ := do(t, h, http.MethodPost, "/conversations/"+id+"/turns", `{"message":"good morning"}`, header)
		if rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, rr.Code)
		}
	}
	if turns.calls != 1 {
		t.Errorf("expected one handled turn, got %d", turns.calls)
	}

	do(t, h, http.MethodPost, "/conversations/"+id+"/turns", `{"message":"good morning"}`, nil)
	if turns.calls != 2 {
		t.Errorf("turn without key should run, calls = %d", turns.calls)
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, &stubTurns{})
	if rr, _ := do(t, srv.Handler(), http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Errorf("no checker: expected 200, got %d", rr.Code)
	}

	srv, _ = newTestServer(t, &stubTurns{}, WithHealthChecker(stubHealth{err: errors.New("tool service unreachable")}))
	rr, resp := do(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(resp.Message, "unreachable") {
		t.Errorf("unhealthy: %d %+v", rr.Code, resp)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &stubTurns{})
	req := httptest.NewRequest(http.MethodPut, "/conversations/c_1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestServer_WithOrchestrator(t *testing.T) {
	gw := tools.GatewayFunc(func(context.Context, models.ToolName, map[string]any) models.ToolResponse {
		return models.ToolResponse{Status: models.ToolStatusError, Message: "offline"}
	})
	srv, st := newTestServer(t, flow.NewOrchestrator(flow.Deps{Gateway: gw}))
	h := srv.Handler()
	id := createConversation(t, h)

	rr, resp := do(t, h, http.MethodPost, "/conversations/"+id+"/turns", `{"message":"hello"}`, nil)
	if rr.Code != http.StatusOK || resp.Status != string(models.APIStatusPending) {
		t.Fatalf("expected flow picker, got %d %+v", rr.Code, resp)
	}
	conv, _ := st.Get(context.Background(), id)
	if len(conv.State.Messages) != 2 {
		t.Errorf("expected user and assistant messages, got %d", len(conv.State.Messages))
	}
}

func TestNewServer_Defaults(t *testing.T) {
	srv := NewServer(&stubTurns{}, nil)
	if srv.addr != DefaultAddr || srv.turnTimeout != DefaultTurnTimeout {
		t.Errorf("defaults not applied: %q %v", srv.addr, srv.turnTimeout)
	}
	srv = NewServer(&stubTurns{}, nil, WithAddr(":9090"), WithTurnTimeout(5))
	if srv.addr != ":9090" || srv.turnTimeout != 5 {
		t.Errorf("options not applied: %q %v", srv.addr, srv.turnTimeout)
	}
}
