// Package tools is the client side of the solar analysis tool service. Every
// call is normalized into a models.ToolResponse; transport failures never
// escape as Go errors.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/util"
)

// Gateway calls a named tool with arguments.
type Gateway interface {
	Execute(ctx context.Context, name models.ToolName, args map[string]any) models.ToolResponse
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, name models.ToolName, args map[string]any) models.ToolResponse

// Execute calls f.
func (f GatewayFunc) Execute(ctx context.Context, name models.ToolName, args map[string]any) models.ToolResponse {
	return f(ctx, name, args)
}

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

const (
	toolArgumentsLogLimit = 1024
	maxResponseBytes      = 8 << 20
	requestIDHeader       = "X-Request-ID"
)

// ErrUnhealthy is returned by Health when the tool service reports a degraded state.
var ErrUnhealthy = errors.New("tool service unhealthy")

// envelope is the tool service's response wrapper.
type envelope struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result"`
	Error   string         `json:"error"`
}

// Opts holds configuration for the HTTP gateway.
type Opts struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a function for configuring the HTTP gateway.
type Option func(*Opts)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// HTTPGateway talks to the tool service over HTTP.
type HTTPGateway struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPGateway creates a gateway for the tool service at baseURL.
func NewHTTPGateway(baseURL string, opts ...Option) *HTTPGateway {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: cfg.Timeout,
		client:  client,
	}
}

// Execute calls POST {base}/tools/{name}.
func (g *HTTPGateway) Execute(ctx context.Context, name models.ToolName, args map[string]any) models.ToolResponse {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		slog.Error("HTTPGateway.Execute: failed to encode arguments", "tool", name, "error", err)
		return models.ErrorResponse(fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	requestID := util.GenerateRequestID()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/tools/"+string(name), bytes.NewReader(body))
	if err != nil {
		return models.ErrorResponse(fmt.Sprintf("failed to build request for %s: %v", name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	slog.Debug("HTTPGateway.Execute: calling tool", "tool", name, "requestID", requestID, "args", formatToolArgumentsForLog(body))
	start := time.Now()

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Warn("HTTPGateway.Execute: transport failure", "tool", name, "requestID", requestID, "error", err)
		return models.ErrorResponse(fmt.Sprintf("tool %s unavailable: %v", name, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		slog.Warn("HTTPGateway.Execute: failed to read response", "tool", name, "requestID", requestID, "error", err)
		return models.ErrorResponse(fmt.Sprintf("failed to read %s response: %v", name, err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("HTTPGateway.Execute: malformed response", "tool", name, "status", resp.StatusCode, "error", err)
		return models.ErrorResponse(fmt.Sprintf("malformed %s response (HTTP %d)", name, resp.StatusCode))
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("tool %s failed (HTTP %d)", name, resp.StatusCode)
		}
		slog.Warn("HTTPGateway.Execute: tool reported failure", "tool", name, "requestID", requestID, "error", msg)
		return models.ErrorResponse(msg)
	}

	out := Normalize(env.Result)
	slog.Debug("HTTPGateway.Execute: tool completed", "tool", name, "requestID", requestID,
		"status", out.Status, "duration", time.Since(start))
	return out
}

// Normalize turns a successful tool result body into a ToolResponse. The body's
// own status, message and availableRange fields are lifted out; a missing or
// unknown status counts as ok.
func Normalize(result map[string]any) models.ToolResponse {
	out := models.ToolResponse{Status: models.ToolStatusOK, Result: result}
	if s, ok := result["status"].(string); ok && models.IsValidToolStatus(models.ToolStatus(s)) {
		out.Status = models.ToolStatus(s)
	}
	if msg, ok := result["message"].(string); ok {
		out.Message = msg
	}
	if raw, ok := result["availableRange"].(map[string]any); ok {
		start, _ := raw["start"].(string)
		end, _ := raw["end"].(string)
		if start != "" || end != "" {
			out.AvailableRange = &models.DateRange{Start: start, End: end}
		}
	}
	return out
}

// Health calls GET {base}/health.
func (g *HTTPGateway) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("tool service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "healthy" {
		return fmt.Errorf("%w: status %q (HTTP %d)", ErrUnhealthy, body.Status, resp.StatusCode)
	}
	return nil
}

func formatToolArgumentsForLog(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	argStr := strings.TrimSpace(string(raw))
	if len(argStr) > toolArgumentsLogLimit {
		return argStr[:toolArgumentsLogLimit] + "...(truncated)"
	}
	return argStr
}
