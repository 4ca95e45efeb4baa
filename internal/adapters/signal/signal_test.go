package signal_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	router "github.com/dkeye/voicehub/internal/adapters/http"
	"github.com/dkeye/voicehub/internal/adapters/membership"
	"github.com/dkeye/voicehub/internal/adapters/signal"
	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/config"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headerValidator trusts an X-User header; "down" simulates a store outage.
type headerValidator struct{}

func (headerValidator) Validate(_ context.Context, r *http.Request) (domain.UserID, error) {
	v := r.Header.Get("X-User")
	switch v {
	case "":
		return 0, core.ErrMissingCredential
	case "down":
		return 0, core.ErrStoreUnavailable
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, core.ErrInvalidSession
	}
	return domain.UserID(n), nil
}

type hub struct {
	url  string
	orch *orch.Orchestrator
}

func newHub(t *testing.T, limit int) *hub {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Channels: app.NewChannels(),
		Membership: membership.NewStatic([]domain.ChannelSpec{
			{ID: 1, Voice: true, Members: []int64{1, 2}},
		}),
		Policy: app.SimplePolicy{},
		Clock:  clock.New(),
	}
	limiter := signal.NewUserRateLimiter(limit, time.Minute, nil)
	ctl := signal.NewSignalWSController(o, headerValidator{}, limiter, signal.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	r := router.SetupRouter(ctx, &config.Config{Mode: "test"}, router.Deps{Orch: o, Signal: ctl})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		o.Shutdown()
		cancel()
		srv.Close()
		ctl.Wait()
	})
	return &hub{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal", orch: o}
}

func (h *hub) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if user != "" {
		header.Set("X-User", user)
	}
	conn, _, err := websocket.DefaultDialer.Dial(h.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env domain.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readType skips envelopes until one of typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) domain.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		if env := read(t, conn); env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s envelope", typ)
	return domain.Envelope{}
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	env, err := domain.NewEnvelope(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce.Code
	}
}

func errorReason(t *testing.T, env domain.Envelope) string {
	t.Helper()
	require.Equal(t, domain.TypeError, env.Type)
	var data domain.ErrorData
	require.NoError(t, env.Decode(&data))
	return data.Reason
}

func TestHandleSignal_RefusesWithoutSession(t *testing.T) {
	h := newHub(t, 0)
	assert.Equal(t, domain.CloseUnauthorized, closeCode(t, h.dial(t, "")))
	assert.Equal(t, domain.CloseUnauthorized, closeCode(t, h.dial(t, "garbage")))
	assert.Equal(t, 0, h.orch.Registry.Count())
}

func TestHandleSignal_StoreUnavailableIsRetryable(t *testing.T) {
	h := newHub(t, 0)
	assert.Equal(t, domain.CloseTryAgain, closeCode(t, h.dial(t, "down")))
}

func TestHandleSignal_ConnectedAndPing(t *testing.T) {
	h := newHub(t, 0)
	conn := h.dial(t, "1")

	env := read(t, conn)
	require.Equal(t, domain.TypeConnected, env.Type)
	var ack domain.ConnectedData
	require.NoError(t, env.Decode(&ack))
	assert.Equal(t, domain.UserID(1), ack.UserID)
	assert.NotEmpty(t, ack.ConnectionID)

	send(t, conn, domain.TypePing, nil)
	assert.Equal(t, domain.TypePong, read(t, conn).Type)
}

func TestHandleSignal_MalformedInputKeepsConnection(t *testing.T) {
	h := newHub(t, 0)
	conn := h.dial(t, "1")
	readType(t, conn, domain.TypeConnected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	assert.Equal(t, domain.ReasonBadJSON, errorReason(t, read(t, conn)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join_channel","data":{"channelId":"x"}}`)))
	assert.Equal(t, domain.ReasonBadPayload, errorReason(t, read(t, conn)))

	send(t, conn, "future_feature", map[string]int{"a": 1})
	send(t, conn, domain.TypePing, nil)
	assert.Equal(t, domain.TypePong, read(t, conn).Type, "unknown types are ignored")
}

func TestHandleSignal_DuplicateLogin(t *testing.T) {
	h := newHub(t, 0)
	first := h.dial(t, "1")
	readType(t, first, domain.TypeConnected)

	second := h.dial(t, "1")
	readType(t, second, domain.TypeConnected)

	assert.Equal(t, domain.CloseSuperseded, closeCode(t, first))

	send(t, second, domain.TypePing, nil)
	assert.Equal(t, domain.TypePong, read(t, second).Type)
	assert.Equal(t, 1, h.orch.Registry.Count())
}

func TestHandleSignal_JoinAndRelay(t *testing.T) {
	h := newHub(t, 0)
	alice := h.dial(t, "1")
	bob := h.dial(t, "2")
	readType(t, alice, domain.TypeConnected)
	readType(t, bob, domain.TypeConnected)

	send(t, alice, domain.TypeJoinChannel, domain.JoinChannelData{ChannelID: 1})
	readType(t, alice, domain.TypeChannelJoined)

	send(t, bob, domain.TypeJoinChannel, domain.JoinChannelData{ChannelID: 1})
	env := readType(t, bob, domain.TypeChannelJoined)
	var joined domain.ChannelJoinedData
	require.NoError(t, env.Decode(&joined))
	assert.Len(t, joined.Members, 2)

	env = readType(t, alice, domain.TypeUserJoined)
	var p domain.PresenceData
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, domain.UserID(2), p.UserID)

	send(t, alice, domain.TypeSignal, domain.SignalData{
		TargetUserID: 2,
		ChannelID:    1,
		Kind:         domain.SignalCandidate,
		Payload:      []byte(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}`),
	})
	env = readType(t, bob, domain.TypeSignal)
	var relayed domain.RelayedSignalData
	require.NoError(t, env.Decode(&relayed))
	assert.Equal(t, domain.UserID(1), relayed.FromUserID)
	assert.JSONEq(t, `{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}`, string(relayed.Payload))

	send(t, alice, domain.TypeSignal, domain.SignalData{TargetUserID: 1, ChannelID: 1, Kind: domain.SignalOffer, Payload: []byte(`{}`)})
	assert.Equal(t, domain.ReasonSelfSignal, errorReason(t, read(t, alice)))

	require.NoError(t, bob.Close())
	env = readType(t, alice, domain.TypeUserLeft)
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, domain.UserID(2), p.UserID)
}

func TestHandleSignal_RateLimited(t *testing.T) {
	h := newHub(t, 2)
	conn := h.dial(t, "1")
	readType(t, conn, domain.TypeConnected)

	send(t, conn, domain.TypePing, nil)
	send(t, conn, domain.TypePing, nil)
	send(t, conn, domain.TypePing, nil)

	assert.Equal(t, domain.TypePong, read(t, conn).Type)
	assert.Equal(t, domain.TypePong, read(t, conn).Type)
	assert.Equal(t, domain.ReasonRateLimited, errorReason(t, read(t, conn)))
}
