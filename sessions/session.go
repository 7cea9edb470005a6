package sessions

import (
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/users"
)

// Session is a point-in-time view of the login state of a store.
// IsAuthenticated is true exactly when User is non-nil.
type Session struct {
	User            *users.User `json:"user"`            // Logged in user, nil when logged out
	IsAuthenticated bool        `json:"isAuthenticated"` // Whether a user is logged in
}

// LoggedOut is the state every store starts in.
func LoggedOut() Session {
	return Session{}
}

// LoggedIn returns an authenticated session holding a copy of user.
func LoggedIn(user users.User) Session {
	return Session{User: utils.Ptr(user), IsAuthenticated: true}
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	if s.User == nil {
		return Session{IsAuthenticated: s.IsAuthenticated}
	}
	return Session{User: utils.Ptr(*s.User), IsAuthenticated: s.IsAuthenticated}
}

// Valid reports whether the user/flag invariant holds.
func (s Session) Valid() bool {
	return s.IsAuthenticated == (s.User != nil)
}
