package recovery

import (
	"fmt"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// Notice is what the user sees when a flow stops for recovery.
type Notice struct {
	Message   string
	Range     *models.DateRange
	Selection *models.SelectionRequest
}

// BuildNotice describes the data gap for subject and, while attempts remain,
// offers a date picker bounded by the available range. argument names the
// flow argument the picked value answers; inputType is date or date-range.
func BuildNotice(flow models.FlowType, subject string, resp models.ToolResponse, attempts int, argument string, inputType models.InputType) Notice {
	r := ExtractAvailableRange(resp)
	n := Notice{Range: r}

	if subject == "" {
		subject = "this device"
	}
	switch {
	case r != nil && r.Start != "" && r.End != "":
		n.Message = fmt.Sprintf("I couldn't find data for %s in the requested window. Data is available from %s to %s.", subject, r.Start, r.End)
	case r != nil && r.End != "":
		n.Message = fmt.Sprintf("I couldn't find data for %s in the requested window. The latest data is from %s.", subject, r.End)
	default:
		n.Message = fmt.Sprintf("There is no recorded data for %s yet.", subject)
	}

	if r == nil || attempts >= MaxAttempts {
		if attempts >= MaxAttempts {
			n.Message += " You may want to try a different device."
		}
		return n
	}

	n.Selection = &models.SelectionRequest{
		Prompt:        "Pick a date within the available range.",
		Options:       []models.SelectionOption{},
		SelectionType: models.SelectionSingle,
		InputType:     inputType,
		MinDate:       r.Start,
		MaxDate:       r.End,
		FlowHint:      string(flow),
		Argument:      argument,
	}
	if inputType == models.InputDateRange {
		n.Selection.Prompt = "Pick a period within the available range."
	}
	return n
}
