package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/rs/zerolog/log"
)

// UserIDKey is the session value holding the integer user id.
const UserIDKey = "user_id"

const DefaultCookieName = "VoiceSessions"

// NewCookieStore builds the signed cookie store shared by the validator and
// the debug login route. maxAge bounds both the cookie attribute and the
// signed timestamp checked on decode.
func NewCookieStore(secret string, maxAge int) cookie.Store {
	store := cookie.NewStore([]byte(secret))
	if codec, ok := store.(interface{ MaxAge(int) }); ok {
		codec.MaxAge(maxAge)
	}
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// CookieValidator reads the user id from a signed session cookie.
type CookieValidator struct {
	store cookie.Store
	name  string
}

func NewCookieValidator(store cookie.Store, name string) *CookieValidator {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieValidator{store: store, name: name}
}

func (v *CookieValidator) Validate(_ context.Context, r *http.Request) (domain.UserID, error) {
	if _, err := r.Cookie(v.name); errors.Is(err, http.ErrNoCookie) {
		return 0, core.ErrMissingCredential
	}
	sess, err := v.store.Get(r, v.name)
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.session").Msg("cookie decode")
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidSession, err)
	}
	raw, ok := sess.Values[UserIDKey]
	if !ok {
		return 0, core.ErrInvalidSession
	}
	uid, err := domain.ParseUserID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidSession, err)
	}
	return uid, nil
}
