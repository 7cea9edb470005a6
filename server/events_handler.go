package server

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// eventBuffer is how many unsent changes a slow client may fall behind by
// before further changes are dropped for it.
const eventBuffer = 16

// SessionEventsHandler upgrades to a websocket and pushes the caller's session
// as a JSON text frame: once on connect, then after every change. The page
// session must already exist; the stream is closed when it ends.
// (GET /api/session/events)
func (s *Server) SessionEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := pageSessionID(r)
		if !ok {
			writeError(w, http.StatusNotFound, apperrors.ErrSessionNotFound)
			return
		}
		store, err := s.pageSessions.Get(sessionID)
		if apperrors.Is(err, apperrors.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, apperrors.ErrSessionNotFound)
			return
		}
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, apperrors.ErrInternal)
			return
		}

		// Carry the CORS headers into the handshake response
		upgrader := ws.HTTPUpgrader{Header: w.Header()}
		conn, _, _, err := upgrader.Upgrade(r, w)
		if err != nil {
			logError(r.Method, r.URL.Path, errors.Wrap(err, "websocket upgrade"))
			return
		}
		defer conn.Close()

		updates := make(chan sessions.Session, eventBuffer)
		unsubscribe := store.Subscribe(func(session sessions.Session) {
			select {
			case updates <- session:
			default:
				log.Warn().Str("path", r.URL.Path).Msg("session event dropped, client too slow")
			}
		})
		defer unsubscribe()

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			drainClient(conn)
		}()

		if err := writeSessionEvent(conn, store.Session()); err != nil {
			log.Debug().Err(err).Msg("session events: initial write failed")
			return
		}

		for {
			select {
			case session := <-updates:
				if err := writeSessionEvent(conn, session); err != nil {
					log.Debug().Err(err).Msg("session events: write failed")
					return
				}
			case <-store.Done():
				closeFrame := ws.NewCloseFrameBody(ws.StatusNormalClosure, "page session ended")
				if err := wsutil.WriteServerMessage(conn, ws.OpClose, closeFrame); err != nil {
					log.Debug().Err(err).Msg("session events: close write failed")
				}
				return
			case <-closed:
				return
			}
		}
	}
}

// drainClient reads (and discards) client frames until the connection closes.
// wsutil answers pings and close frames on our behalf.
func drainClient(conn net.Conn) {
	for {
		if _, _, err := wsutil.ReadClientData(conn); err != nil {
			return
		}
	}
}

func writeSessionEvent(conn net.Conn, session sessions.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	return wsutil.WriteServerMessage(conn, ws.OpText, payload)
}
