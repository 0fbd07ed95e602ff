package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

func newToolServer(t *testing.T, handler func(w http.ResponseWriter, name string, args map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy","service":"solar-analyst-http"}`))
			return
		}
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/tools/") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get(requestIDHeader) == "" {
			t.Errorf("missing %s header", requestIDHeader)
		}
		var args map[string]any
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			t.Errorf("failed to decode args: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, strings.TrimPrefix(r.URL.Path, "/tools/"), args)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGatewayExecuteSuccess(t *testing.T) {
	srv := newToolServer(t, func(w http.ResponseWriter, name string, args map[string]any) {
		if name != "calculate_financial_savings" {
			t.Errorf("tool = %q", name)
		}
		if args["logger_id"] != "INV-1" || args["start_date"] != "2025-01-01" {
			t.Errorf("args = %v", args)
		}
		_, _ = w.Write([]byte(`{"success":true,"result":{"status":"ok","energyGenerated":1250.5,"savings":250.1}}`))
	})

	g := NewHTTPGateway(srv.URL + "/")
	resp := g.Execute(context.Background(), models.ToolFinancialSavings, SavingsArgs("INV-1", models.DateRange{Start: "2025-01-01"}))

	if resp.Status != models.ToolStatusOK {
		t.Fatalf("status = %q, message = %q", resp.Status, resp.Message)
	}
	if resp.Result["savings"] != 250.1 {
		t.Errorf("result = %v", resp.Result)
	}
}

func TestHTTPGatewayExecuteNoDataInWindow(t *testing.T) {
	srv := newToolServer(t, func(w http.ResponseWriter, name string, args map[string]any) {
		_, _ = w.Write([]byte(`{"success":true,"result":{"status":"no_data_in_window","message":"nothing there","availableRange":{"start":"2024-01-01","end":"2024-06-30"}}}`))
	})

	resp := NewHTTPGateway(srv.URL).Execute(context.Background(), models.ToolAnalyzeInverterHealth, HealthArgs("INV-1", 0))

	if resp.Status != models.ToolStatusNoDataInWindow {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.AvailableRange == nil || resp.AvailableRange.Start != "2024-01-01" || resp.AvailableRange.End != "2024-06-30" {
		t.Errorf("availableRange = %v", resp.AvailableRange)
	}
	if resp.Message != "nothing there" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestHTTPGatewayExecuteFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"tool error", http.StatusInternalServerError, `{"success":false,"error":"database down"}`, "database down"},
		{"unknown tool", http.StatusNotFound, `{"success":false}`, "HTTP 404"},
		{"malformed body", http.StatusOK, `not json`, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newToolServer(t, func(w http.ResponseWriter, name string, args map[string]any) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			resp := NewHTTPGateway(srv.URL).Execute(context.Background(), models.ToolListLoggers, nil)
			if resp.Status != models.ToolStatusError {
				t.Fatalf("status = %q", resp.Status)
			}
			if !strings.Contains(resp.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", resp.Message, tt.wantMsg)
			}
		})
	}
}

func TestHTTPGatewayTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp := NewHTTPGateway(url, WithTimeout(time.Second)).Execute(context.Background(), models.ToolListLoggers, nil)
	if resp.Status != models.ToolStatusError || resp.Message == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHTTPGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	resp := NewHTTPGateway(srv.URL, WithTimeout(50*time.Millisecond)).Execute(context.Background(), models.ToolListLoggers, nil)
	if resp.Status != models.ToolStatusError {
		t.Errorf("status = %q, want error", resp.Status)
	}
}

func TestHTTPGatewayHealth(t *testing.T) {
	srv := newToolServer(t, nil)
	if err := NewHTTPGateway(srv.URL).Health(context.Background()); err != nil {
		t.Errorf("Health() = %v", err)
	}

	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
	}))
	defer degraded.Close()
	if err := NewHTTPGateway(degraded.URL).Health(context.Background()); !errors.Is(err, ErrUnhealthy) {
		t.Errorf("Health() = %v, want ErrUnhealthy", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   models.ToolStatus
	}{
		{"missing status", map[string]any{"count": 2}, models.ToolStatusOK},
		{"success", map[string]any{"status": "success"}, models.ToolStatusSuccess},
		{"no data", map[string]any{"status": "no_data"}, models.ToolStatusNoData},
		{"unknown status", map[string]any{"status": "healthy"}, models.ToolStatusOK},
		{"non-string status", map[string]any{"status": 3}, models.ToolStatusOK},
		{"nil result", nil, models.ToolStatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.result).Status; got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallRecoversPanics(t *testing.T) {
	g := GatewayFunc(func(context.Context, models.ToolName, map[string]any) models.ToolResponse {
		panic("boom")
	})
	resp := Call(context.Background(), g, models.ToolFleetOverview, nil)
	if resp.Status != models.ToolStatusError {
		t.Errorf("status = %q, want error", resp.Status)
	}
	if resp := Call(context.Background(), nil, models.ToolFleetOverview, nil); resp.Status != models.ToolStatusError {
		t.Errorf("nil gateway status = %q, want error", resp.Status)
	}
}

func TestFormatToolArgumentsForLog(t *testing.T) {
	if got := formatToolArgumentsForLog(nil); got != "" {
		t.Errorf("empty = %q", got)
	}
	long := []byte(strings.Repeat("a", toolArgumentsLogLimit+10))
	if got := formatToolArgumentsForLog(long); !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("long args not truncated")
	}
}

func TestArgBuilders(t *testing.T) {
	if got := HealthArgs("A", 0); got["days"] != DefaultHealthDays {
		t.Errorf("HealthArgs default days = %v", got["days"])
	}
	if got := ForecastArgs("A", 0); got["days_ahead"] != DefaultForecastDays {
		t.Errorf("ForecastArgs default = %v", got["days_ahead"])
	}
	if got := SavingsArgs("A", models.DateRange{Start: "s"}); got["end_date"] != nil {
		t.Errorf("SavingsArgs without end = %v", got)
	}
	got := CompareArgs([]string{"A", "B"}, "", "")
	if got["metric"] != DefaultComparisonMetric || got["date"] != nil {
		t.Errorf("CompareArgs = %v", got)
	}
}
