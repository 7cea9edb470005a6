package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/rs/zerolog/log"
)

// LoginRequest is the body of POST /api/auth/login. Neither field is validated.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionHandler returns the caller's current session (GET /api/session)
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := s.pageStore(w, r)
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, apperrors.ErrInternal)
			return
		}
		writeJSON(w, http.StatusOK, store.Session())
	}
}

// LoginHandler runs the mock login for the caller's page session and responds
// once it has completed (POST /api/auth/login)
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, apperrors.Wrapf(apperrors.ErrInvalidRequest, "decode login body: %s", err.Error()))
			return
		}

		store, err := s.pageStore(w, r)
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, apperrors.ErrInternal)
			return
		}

		store.Login(req.Email, req.Password)
		writeJSON(w, http.StatusOK, store.Session())
	}
}

// LogoutHandler runs the mock logout for the caller's page session (POST /api/auth/logout)
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, err := s.pageStore(w, r)
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, apperrors.ErrInternal)
			return
		}

		store.Logout()
		writeJSON(w, http.StatusOK, store.Session())
	}
}

// EndSessionHandler discards the caller's page session and its store, the
// equivalent of the page being torn down (DELETE /api/session)
func (s *Server) EndSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pageSessionID(r)
		if ok {
			if err := s.pageSessions.Delete(sessionID); err != nil {
				log.Err(err).Str("page_session", sessionID).Msg("Failed to delete page session")
			}
		}
		s.SetPageSessionCookie(w, "", r, -1) // Delete cookie
		w.WriteHeader(http.StatusNoContent)
	}
}
