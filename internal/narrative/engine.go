package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/FleetPipe/internal/genai"
	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/tone"
	"github.com/BTreeMap/FleetPipe/internal/util"
)

// DefaultTimeout bounds each call to the generative model.
const DefaultTimeout = 20 * time.Second

// Refinement triggers relative to the verbosity target.
const (
	RefineAboveFactor = 1.3
	RefineBelowFactor = 0.7
)

// ErrNoGenerator is the fallback cause when no generative client is configured.
var ErrNoGenerator = errors.New("no generative client configured")

// Request is the input of one narrative call.
type Request struct {
	Context     models.NarrativeContext
	Preferences models.NarrativePreferences
	// Previous is the last narrative recorded for the same subject, if any.
	Previous *models.NarrativeMemory
}

// Response is the narrative result plus what to remember for the next call.
type Response struct {
	Result models.NarrativeResult
	Memory models.NarrativeMemory
	Facts  Facts
}

// Engine produces narratives. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	client       genai.ClientInterface
	timeout      time.Duration
	systemPrompt string
	templates    map[models.NarrativeBranch]string
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout sets the per-call generation timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSystemPrompt replaces the base system prompt layer.
func WithSystemPrompt(p string) Option {
	return func(e *Engine) {
		if p != "" {
			e.systemPrompt = p
		}
	}
}

// WithBranchTemplates overrides branch instructions. Unknown branch names are ignored.
func WithBranchTemplates(overrides map[string]string) Option {
	return func(e *Engine) {
		for name, tpl := range overrides {
			b := models.NarrativeBranch(name)
			if _, known := defaultBranchTemplates[b]; known && tpl != "" {
				e.templates[b] = tpl
			}
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine. client may be nil, in which case every call uses the fallback.
func NewEngine(client genai.ClientInterface, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		timeout:      DefaultTimeout,
		systemPrompt: DefaultSystemPrompt,
		templates:    make(map[models.NarrativeBranch]string, len(defaultBranchTemplates)),
		now:          time.Now,
	}
	for b, tpl := range defaultBranchTemplates {
		e.templates[b] = tpl
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate runs decompose, branch, generate, validate and refine, falling back
// to templated text on any failure. It never returns an error.
func (e *Engine) Generate(ctx context.Context, req Request) Response {
	start := e.now()
	c := req.Context
	prefs := tone.Normalize(req.Preferences)

	facts, decompErr := Decompose(c)
	if decompErr != nil {
		facts = decompose(c)
	}
	if c.HistoricalContext == nil {
		c.HistoricalContext = DeriveHistory(req.Previous, facts)
	}
	branch, path := SelectBranch(c, facts)

	var wasRefined bool
	retries := 0
	text, cause := util.WithFallback(ctx, "narrative.generate",
		func(ctx context.Context) (string, error) {
			if decompErr != nil {
				return "", decompErr
			}
			if e.client == nil {
				return "", ErrNoGenerator
			}
			msgs := buildMessages(promptInput{
				context:     c,
				facts:       facts,
				prefs:       prefs,
				template:    e.templates[branch],
				systemBase:  e.systemPrompt,
				severityRef: severityMetric(c, facts),
			})
			draft, err := e.invoke(ctx, msgs)
			if err != nil {
				return "", err
			}
			if err := ValidateNarrative(draft); err != nil {
				return "", err
			}

			target := tone.VerbosityTarget(prefs.Verbosity)
			if !needsRefinement(draft, target) {
				return draft, nil
			}
			retries = 1
			refined, err := e.invoke(ctx, refinementMessages(msgs, draft, target))
			if err == nil {
				err = ValidateNarrative(refined)
			}
			if err != nil {
				slog.Warn("NarrativeEngine.Generate: refinement failed, keeping draft", "branch", branch, "error", err)
				return draft, nil
			}
			wasRefined = true
			return refined, nil
		},
		nil,
		func(error) string { return Fallback(c, branch) },
	)

	usedFallback := cause != nil
	confidence := models.ConfidenceGenerated
	if usedFallback {
		confidence = models.ConfidenceFallback
		wasRefined = false
	}
	elapsed := e.now().Sub(start)

	slog.Debug("NarrativeEngine.Generate: narrative produced", "flow", c.FlowType, "subject", c.Subject,
		"branch", branch, "fallback", usedFallback, "refined", wasRefined, "duration", elapsed)

	return Response{
		Result: models.NarrativeResult{
			Narrative:    text,
			Confidence:   confidence,
			UsedFallback: usedFallback,
			Branch:       branch,
			Metadata: models.NarrativeMetadata{
				BranchPath:       path,
				WasRefined:       wasRefined,
				RetryCount:       retries,
				GenerationTimeMs: elapsed.Milliseconds(),
			},
		},
		Memory: Memory(branch, facts, e.now()),
		Facts:  facts,
	}
}

// invoke calls the model once under the engine timeout.
func (e *Engine) invoke(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	out, err := e.client.GenerateWithMessages(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	return out, nil
}

func needsRefinement(text string, target tone.Target) bool {
	n := float64(wordCount(text))
	return n > RefineAboveFactor*float64(target.MaxWords) || n < RefineBelowFactor*float64(target.MinWords)
}

// severityMetric picks the number the severity band is derived from.
func severityMetric(c models.NarrativeContext, f Facts) float64 {
	if pct, ok := toFloat(c.Data[KeyPercentOnline]); ok {
		return pct
	}
	if c.IsFleetAnalysis && f.FleetSize > 0 {
		return 100 * float64(f.FleetSize-f.LoggersWithIssues) / float64(f.FleetSize)
	}
	return f.HealthScore
}
