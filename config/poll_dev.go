//go:build dev

package config

// Dev default: poll every minute so local changes surface quickly.
// Still overridable via POLL_INTERVAL_MINUTES.
func defaultPollIntervalMinutes() int {
	return 1
}
