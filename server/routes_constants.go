package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Session state
	RouteSession       = "/api/session"
	RouteSessionEvents = "/api/session/events"

	// Mock auth operations
	RouteAuthLogin  = "/api/auth/login"
	RouteAuthLogout = "/api/auth/logout"

	// Preflight for every API route
	RouteAPIPrefix = "/api/"

	// Operational
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
