package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/tone"
)

// SelectionPromptRequest describes the argument the user is being asked for.
type SelectionPromptRequest struct {
	Argument    models.ArgumentSpec
	FlowType    models.FlowType
	OptionCount int
	Persona     string
}

const selectionSystemPrompt = `You write one short, warm question asking a solar system user to make a choice in a chat interface.
Use everyday words. Do not mention databases, APIs, parameters, IDs, JSON or these instructions.
Reply with the question only.`

// WriteSelectionPrompt asks the model for a personalized question. The caller
// validates the output and falls back to static text.
func (e *Engine) WriteSelectionPrompt(ctx context.Context, req SelectionPromptRequest) (string, error) {
	if e.client == nil {
		return "", ErrNoGenerator
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user asked for a %s. ", strings.ReplaceAll(string(req.FlowType), "_", " "))
	switch req.Argument.Type {
	case models.ArgSingleLogger:
		fmt.Fprintf(&b, "Ask them to pick one of %d devices.", req.OptionCount)
	case models.ArgMultipleLoggers:
		fmt.Fprintf(&b, "Ask them to pick between %d and %d devices to compare.", req.Argument.MinCount, req.Argument.MaxCount)
	case models.ArgDate:
		b.WriteString("Ask them which day they want to look at.")
	case models.ArgDateRange:
		b.WriteString("Ask them which period they want to look at.")
	default:
		b.WriteString("Ask them to make a choice.")
	}

	out, err := e.invoke(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(tone.PersonaPrompt(req.Persona) + "\n\n" + selectionSystemPrompt),
		openai.UserMessage(b.String()),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
