package signal

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestUserRateLimiter_Window(t *testing.T) {
	clk := clock.NewMock()
	rl := NewUserRateLimiter(2, time.Second, clk)

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "users are limited independently")

	clk.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow(1))

	rl.Forget(1)
	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
}

func TestUserRateLimiter_Disabled(t *testing.T) {
	rl := NewUserRateLimiter(0, time.Second, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(1))
	}
}
