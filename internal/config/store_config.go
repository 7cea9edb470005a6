package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	loginDelayEnvVar     = "LOGIN_DELAY"
	logoutDelayEnvVar    = "LOGOUT_DELAY"
	sessionIdleTTLEnvVar = "SESSION_IDLE_TTL"
	sweepIntervalEnvVar  = "SESSION_SWEEP_INTERVAL"
)

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetLoginDelay() time.Duration {
	return getDuration(loginDelayEnvVar, 1000*time.Millisecond)
}

func (Store) GetLogoutDelay() time.Duration {
	return getDuration(logoutDelayEnvVar, 500*time.Millisecond)
}

// GetSessionIdleTTL is how long a page session may go unused before it is
// discarded. Zero keeps page sessions until they are explicitly ended.
func (Store) GetSessionIdleTTL() time.Duration {
	return getDuration(sessionIdleTTLEnvVar, 30*time.Minute)
}

func (Store) GetSessionSweepInterval() time.Duration {
	return getDuration(sweepIntervalEnvVar, time.Minute)
}

// getDuration parses a time.ParseDuration string, falling back to defaultValue
// when unset, malformed or negative.
func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Warn().Str("var", envVar).Str("value", raw).Msg("ignoring invalid duration")
		return defaultValue
	}
	return d
}
