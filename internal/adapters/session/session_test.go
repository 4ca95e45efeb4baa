package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gorilla/securecookie"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func signedCookie(t *testing.T, secret string, values map[any]any) *http.Cookie {
	t.Helper()
	store := NewCookieStore(secret, 3600)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	sess, err := store.New(req, DefaultCookieName)
	require.NoError(t, err)
	for k, v := range values {
		sess.Values[k] = v
	}
	require.NoError(t, store.Save(req, rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

// issuedCookie signs a session cookie the way the store does, stamped at
// issuedAt instead of now.
func issuedCookie(t *testing.T, secret string, uid int64, issuedAt time.Time) *http.Cookie {
	t.Helper()
	raw, err := securecookie.GobEncoder{}.Serialize(map[any]any{UserIDKey: uid})
	require.NoError(t, err)
	value := base64.URLEncoding.EncodeToString(raw)
	ts := issuedAt.Unix()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s|%d|%s", DefaultCookieName, ts, value)))
	signed := fmt.Sprintf("%d|%s|", ts, value) + string(mac.Sum(nil))
	return &http.Cookie{Name: DefaultCookieName, Value: base64.URLEncoding.EncodeToString([]byte(signed))}
}

func TestCookieValidator_MaxAge(t *testing.T) {
	v := NewCookieValidator(NewCookieStore("s3cret", 60), "")

	t.Run("within max age", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(issuedCookie(t, "s3cret", 7, time.Now().Add(-10*time.Second)))
		uid, err := v.Validate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, domain.UserID(7), uid)
	})

	t.Run("expired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(issuedCookie(t, "s3cret", 7, time.Now().Add(-2*time.Minute)))
		_, err := v.Validate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrInvalidSession)
	})
}

func TestCookieValidator(t *testing.T) {
	v := NewCookieValidator(NewCookieStore("s3cret", 3600), "")

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(signedCookie(t, "s3cret", map[any]any{UserIDKey: int64(42)}))
		uid, err := v.Validate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, domain.UserID(42), uid)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		_, err := v.Validate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrMissingCredential)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(signedCookie(t, "other", map[any]any{UserIDKey: int64(42)}))
		_, err := v.Validate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrInvalidSession)
	})

	t.Run("garbled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "garbage"})
		_, err := v.Validate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrInvalidSession)
	})

	t.Run("no user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(signedCookie(t, "s3cret", map[any]any{"theme": "dark"}))
		_, err := v.Validate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrInvalidSession)
	})
}

type mockRedis struct {
	mock.Mock
}

func (m *mockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx, "get", key)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func TestRedisValidator(t *testing.T) {
	ctx := context.Background()
	withToken := func(token string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/signal", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
		return req
	}

	t.Run("valid", func(t *testing.T) {
		m := &mockRedis{}
		m.On("Get", mock.Anything, "session:abc").Return("7", nil)
		v, err := NewRedisValidator(m, "", "")
		require.NoError(t, err)

		uid, err := v.Validate(ctx, withToken("abc"))
		require.NoError(t, err)
		assert.Equal(t, domain.UserID(7), uid)
		m.AssertExpectations(t)
	})

	t.Run("unknown token", func(t *testing.T) {
		m := &mockRedis{}
		m.On("Get", mock.Anything, "session:nope").Return("", redis.Nil)
		v, _ := NewRedisValidator(m, "", "")

		_, err := v.Validate(ctx, withToken("nope"))
		assert.ErrorIs(t, err, core.ErrInvalidSession)
	})

	t.Run("store down", func(t *testing.T) {
		m := &mockRedis{}
		m.On("Get", mock.Anything, "session:abc").Return("", errors.New("connection refused"))
		v, _ := NewRedisValidator(m, "", "")

		_, err := v.Validate(ctx, withToken("abc"))
		assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	})

	t.Run("corrupt value", func(t *testing.T) {
		m := &mockRedis{}
		m.On("Get", mock.Anything, "session:abc").Return("not-a-number", nil)
		v, _ := NewRedisValidator(m, "", "")

		_, err := v.Validate(ctx, withToken("abc"))
		assert.ErrorIs(t, err, core.ErrInvalidSession)
	})

	t.Run("no cookie", func(t *testing.T) {
		m := &mockRedis{}
		v, _ := NewRedisValidator(m, "", "")

		_, err := v.Validate(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, core.ErrMissingCredential)
		m.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}
