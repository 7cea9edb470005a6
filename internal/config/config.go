package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// StoreConfig holds the simulated latency of the mock operations and the
// lifetime of the per-page stores.
type StoreConfig interface {
	GetLoginDelay() time.Duration
	GetLogoutDelay() time.Duration
	GetSessionIdleTTL() time.Duration
	GetSessionSweepInterval() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	Store
}

func New() Config {
	return mainConfig{}
}
