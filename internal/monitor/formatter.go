package monitor

import "fmt"

// FormatRate formats a throughput value as "X.X runs/min"
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f runs/min", rate)
}

// FormatRunDuration formats a run duration in seconds as "X.Xms",
// "X.Xs" or "Xm Ys"
func FormatRunDuration(seconds float64) string {
	if seconds < 1.0 {
		// Convert to milliseconds
		ms := seconds * 1000
		return fmt.Sprintf("%.1fms", ms)
	}
	if seconds < 60.0 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	minutes := int64(seconds) / 60
	rest := int64(seconds) % 60
	return fmt.Sprintf("%dm %ds", minutes, rest)
}

// FormatQuality formats a quality score as "0.85", or "n/a" when no
// finished run has reported one yet
func FormatQuality(score float64) string {
	if score <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", score)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
