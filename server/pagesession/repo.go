package pagesession

import (
	"context"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
)

// Repo maps page session IDs (one per browser cookie) to the store owning that page's login state.
type Repo interface {
	// GetOrCreate returns the store for id, creating a logged out one when
	// none exists. created reports whether a new store was made.
	GetOrCreate(sessionID string) (store *auth.Store, created bool, err error)
	Get(sessionID string) (*auth.Store, error)
	Delete(sessionID string) error
	Len() int
	// Sweep removes page sessions idle for longer than the repo's TTL and
	// returns how many were removed.
	Sweep() int
	RunSweeper(ctx context.Context, interval time.Duration)
}
