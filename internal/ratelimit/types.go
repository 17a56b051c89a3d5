// Package ratelimit holds the request-per-minute policy shared by the API
// and admin route groups, distinct from the per-client session/token quota.
package ratelimit

// EndpointRateLimit is the per-minute ceiling for one route group.
type EndpointRateLimit struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requestsPerMinute"`
}

// AuthFailureThreshold blocks a caller for BlockMinutes once it has
// accumulated Failures failed admin authentications.
type AuthFailureThreshold struct {
	Failures     int `json:"failures"`
	BlockMinutes int `json:"blockMinutes"`
}

// AuthFailureConfig is the escalating lockout schedule for bad admin tokens.
type AuthFailureConfig struct {
	Enabled    bool                   `json:"enabled"`
	Thresholds []AuthFailureThreshold `json:"thresholds"`
}

// RateLimitConfig is the on-disk shape of .config/ratelimit.json.
type RateLimitConfig struct {
	API         EndpointRateLimit `json:"api"`
	Admin       EndpointRateLimit `json:"admin"`
	AuthFailure AuthFailureConfig `json:"authFailure"`
}

// GetDefaultConfig returns the configuration seeded on first start.
func GetDefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		// Chat traffic: conversational cadence, one message every few seconds at most
		API: EndpointRateLimit{
			Enabled:           true,
			RequestsPerMinute: 30,
		},
		Admin: EndpointRateLimit{
			Enabled:           true,
			RequestsPerMinute: 60,
		},
		AuthFailure: AuthFailureConfig{
			Enabled: true,
			Thresholds: []AuthFailureThreshold{
				{Failures: 5, BlockMinutes: 1},
				{Failures: 10, BlockMinutes: 5},
				{Failures: 20, BlockMinutes: 30},
			},
		},
	}
}
