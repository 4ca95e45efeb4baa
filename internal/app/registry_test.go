package app_test

import (
	"sync"
	"testing"

	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/core/coretest"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterDisplacesOlder(t *testing.T) {
	reg := app.NewRegistry()
	first, firstSig := coretest.NewConn(1)
	second, secondSig := coretest.NewConn(1)

	assert.Nil(t, reg.Register(first))
	old := reg.Register(second)
	require.Same(t, first, old)

	code, closed := firstSig.CloseCode()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseSuperseded, code)
	_, closed = secondSig.CloseCode()
	assert.False(t, closed)

	cur, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, cur)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_StaleUnregisterKeepsNewer(t *testing.T) {
	reg := app.NewRegistry()
	first, _ := coretest.NewConn(1)
	second, _ := coretest.NewConn(1)
	reg.Register(first)
	reg.Register(second)

	assert.False(t, reg.Unregister(first), "old connection must not evict the new one")
	cur, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, cur)

	assert.True(t, reg.Unregister(second))
	assert.False(t, reg.Unregister(second))
	_, ok = reg.Lookup(1)
	assert.False(t, ok)
}

func TestRegistry_ConcurrentRegisterLeavesOne(t *testing.T) {
	reg := app.NewRegistry()
	conns := make([]*core.Connection, 50)
	for i := range conns {
		conns[i], _ = coretest.NewConn(9)
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *core.Connection) {
			defer wg.Done()
			reg.Register(c)
		}(c)
	}
	wg.Wait()

	cur, ok := reg.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, 1, reg.Count())
	open := 0
	for _, c := range conns {
		if !c.Closed() {
			open++
			assert.Same(t, cur, c)
		}
	}
	assert.Equal(t, 1, open, "exactly the registered connection stays open")
}

func TestRegistry_BroadcastReportsBackpressure(t *testing.T) {
	reg := app.NewRegistry()
	fast, fastSig := coretest.NewConn(1)
	slowSig := coretest.NewSignal(1)
	slow := core.NewConnection("slow", 2, slowSig, fast.ConnectedAt())
	other, otherSig := coretest.NewConn(3)
	reg.Register(fast)
	reg.Register(slow)
	reg.Register(other)

	env, err := domain.NewEnvelope(domain.TypeUserJoined, domain.PresenceData{ChannelID: 1, UserID: 4})
	require.NoError(t, err)

	res := reg.Broadcast(func(c *core.Connection) bool { return c != other }, env)
	assert.Equal(t, 2, res.SendTo)
	assert.Empty(t, res.Dropped)

	res = reg.Broadcast(func(c *core.Connection) bool { return c != other }, env)
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Same(t, slow, res.Dropped[0])

	assert.Len(t, fastSig.OfType(domain.TypeUserJoined), 2)
	assert.Empty(t, otherSig.Envelopes())
}
