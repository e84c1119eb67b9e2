package models

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	// DefaultHandlerTimeout bounds a single remote handler call, in seconds.
	DefaultHandlerTimeout = 15

	// DefaultAutoSyncInterval is how often a pass runs while online, in seconds.
	DefaultAutoSyncInterval = 60

	// DefaultProbeInterval is the connectivity probe period, in seconds.
	DefaultProbeInterval = 10

	// DefaultProbeTimeout bounds a single probe request, in seconds.
	DefaultProbeTimeout = 3

	// DefaultMaxProbeBackoff caps the offline re-probe delay, in seconds.
	DefaultMaxProbeBackoff = 60

	// DefaultRedisKeyPrefix namespaces queue and cache keys in redis.
	DefaultRedisKeyPrefix = "taller:offline"
)

// ConnectivityState names the online flag for logs.
func ConnectivityState(online bool) string {
	if online {
		return StatusOnline
	}
	return StatusOffline
}
