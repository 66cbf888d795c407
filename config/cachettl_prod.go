//go:build !dev

package config

// Prod default: 24h. Override with CACHE_TTL_HOURS.
func defaultCacheTTLHours() int {
	return 24
}
