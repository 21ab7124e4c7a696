package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/ledger-monitor/internal/syncer"
)

// FormatSyncMessage creates a notification body from a sync result.
func FormatSyncMessage(result *syncer.Result, duration time.Duration) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Succeeded: %d\n", result.Succeeded))
	sb.WriteString(fmt.Sprintf("Failed: %d\n", result.Failed))
	sb.WriteString(fmt.Sprintf("Duration: %s", duration.Round(time.Second)))

	if len(result.Errors) > 0 {
		sb.WriteString("\n\nErrors:\n")
		limit := 3
		if len(result.Errors) < limit {
			limit = len(result.Errors)
		}
		for i := 0; i < limit; i++ {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", result.Errors[i].Item, result.Errors[i].Message))
		}
		if len(result.Errors) > 3 {
			sb.WriteString(fmt.Sprintf("... and %d more errors", len(result.Errors)-3))
		}
	}

	return sb.String()
}
