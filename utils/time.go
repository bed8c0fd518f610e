package utils

import "time"

// PickTTL returns the first positive override, falling back to the default.
func PickTTL(defaultTTL time.Duration, ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	return defaultTTL
}
