package server

import (
	"net/http"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Session state
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("DELETE "+RouteSession, ChainMiddleware(s.EndSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSessionEvents, ChainMiddleware(s.SessionEventsHandler(), s.APIMiddleware()...))

	// Mock login / logout
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// CORS preflight, answered entirely by CorsMiddleware
	s.RegisterRouteHandler("OPTIONS "+RouteAPIPrefix, ChainMiddleware(func(http.ResponseWriter, *http.Request) {}, s.APIMiddleware()...))

	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.MetricsHandler())
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeText)
		_, _ = w.Write([]byte("ok"))
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler(s.gatherer)
}
