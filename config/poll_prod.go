//go:build !dev

package config

// Prod default: 15 minutes. Override with POLL_INTERVAL_MINUTES.
func defaultPollIntervalMinutes() int {
	return 15
}
