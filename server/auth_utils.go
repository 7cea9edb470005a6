package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// pageSessionCookieName identifies the browser page session whose store a request acts on
	pageSessionCookieName = "auth_page_session"

	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// errorResponse mirrors the OAuth2 error body shape
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (s *Server) SetPageSessionCookie(w http.ResponseWriter, sessionID string, r *http.Request, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     pageSessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// pageSessionID returns the request's page session ID if it carries a well formed one.
func pageSessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(pageSessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return "", false
	}
	return cookie.Value, true
}

// pageStore returns the store for the caller's page session, starting a new
// page session (and setting its cookie) when the request has none.
func (s *Server) pageStore(w http.ResponseWriter, r *http.Request) (*auth.Store, error) {
	sessionID, ok := pageSessionID(r)
	if !ok {
		sessionID = uuid.New().String()
	}

	store, created, err := s.pageSessions.GetOrCreate(sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Server.pageStore] GetOrCreate")
	}

	if created {
		s.SetPageSessionCookie(w, sessionID, r, 0)
		log.Debug().Str("page_session", sessionID).Msg("page session started")
	}
	return store, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error:            http.StatusText(status),
		ErrorDescription: err.Error(),
	})
}
