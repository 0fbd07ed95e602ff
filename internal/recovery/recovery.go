// Package recovery detects data-availability failures in tool responses and
// builds the notice that steers the user towards data that does exist.
package recovery

import (
	"github.com/BTreeMap/FleetPipe/internal/models"
)

// MaxAttempts is how many consecutive recoveries a conversation may go
// through before the notice stops offering another date picker.
const MaxAttempts = 3

// NeedsRecovery reports whether resp signals that the requested data is absent.
// It is true iff the status is no_data or no_data_in_window.
func NeedsRecovery(resp models.ToolResponse) bool {
	switch resp.Status {
	case models.ToolStatusNoData, models.ToolStatusNoDataInWindow:
		return true
	default:
		return false
	}
}

// ExtractAvailableRange returns the range of data the tool reported as
// available, or nil when the response does not need recovery or carries no range.
func ExtractAvailableRange(resp models.ToolResponse) *models.DateRange {
	if !NeedsRecovery(resp) {
		return nil
	}
	if !resp.AvailableRange.IsZero() {
		r := *resp.AvailableRange
		return &r
	}
	// Some tools only put the range inside the result body.
	if raw, ok := resp.Result["availableRange"].(map[string]any); ok {
		start, _ := raw["start"].(string)
		end, _ := raw["end"].(string)
		if start != "" || end != "" {
			return &models.DateRange{Start: start, End: end}
		}
	}
	return nil
}
