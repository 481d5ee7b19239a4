package timeline

import "fmt"

// DurationToLabel renders a second count as a compact human label:
// 0 is "0s", 20 is "20s", 100 is "1m40s", 3720 is "1h2m".
func DurationToLabel(seconds int64) string {
	if seconds < 0 {
		return "-" + DurationToLabel(-seconds)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0 && secs > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, secs)
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0 && secs > 0:
		return fmt.Sprintf("%dm%ds", minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
