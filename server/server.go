package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/server/pagesession"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Deps holds the collaborators the Server is built from
type Deps struct {
	PageSessions pagesession.Repo    // Registry of per-page stores (required)
	Gatherer     prometheus.Gatherer // Optional, /metrics is only routed when set
}

type Server struct {
	env          string // Environment (e.g., "DEV", "PROD")
	mux          *http.ServeMux
	routes       []string
	config       config.Config
	pageSessions pagesession.Repo
	gatherer     prometheus.Gatherer
}

func New(config config.Config, deps Deps) (*Server, error) {
	if config == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if deps.PageSessions == nil {
		return nil, errors.New("[Server New] page session repo is required")
	}

	s := &Server{
		env:          config.GetEnv(),
		mux:          http.NewServeMux(),
		config:       config,
		pageSessions: deps.PageSessions,
		gatherer:     deps.Gatherer,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colouredMethod(method), path)
}

func logError(method, path string, err error) {
	log.Error().Err(err).Msgf("[%-19s] %s", colouredMethod(method), path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
