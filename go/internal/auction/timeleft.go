package auction

import (
	"fmt"
	"strings"
	"time"
)

const endedLabel = "Auction ended"

// FormatTimeLeft renders a countdown as "1d 2h 3m 4s". Days are only shown
// when non-zero; hours and minutes always are.
func FormatTimeLeft(d time.Duration) string {
	if d <= 0 {
		return endedLabel
	}

	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	fmt.Fprintf(&b, "%dh %dm %ds", hours, minutes, seconds)
	return b.String()
}
