package core

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/voicehub/internal/domain"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidSession    = errors.New("invalid or expired session")
	ErrStoreUnavailable  = errors.New("session store unavailable")
)

// SessionValidator resolves the session credential of an upgrade request to a
// user. It only reads from the session store; it never issues sessions.
type SessionValidator interface {
	Validate(ctx context.Context, r *http.Request) (domain.UserID, error)
}
