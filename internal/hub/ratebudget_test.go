package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateGuard_FixedWindow(t *testing.T) {
	clock := newClock()
	g := NewRateGuard(10*time.Second, map[Kind]int{KindMessageSend: 3}, clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, g.Allow("c1", KindMessageSend), "call %d", i+1)
	}
	assert.False(t, g.Allow("c1", KindMessageSend), "call 4 exceeds budget")
	assert.True(t, g.Allow("c2", KindMessageSend), "budgets are per connection")
	assert.True(t, g.Allow("c1", KindTypingStart), "events without a budget are not limited")

	clock.Advance(10 * time.Second)
	assert.True(t, g.Allow("c1", KindMessageSend), "new window")
}

func TestRateGuard_Purge(t *testing.T) {
	g := NewRateGuard(time.Minute, map[Kind]int{KindCallStart: 1}, nil)
	assert.True(t, g.Allow("c1", KindCallStart))
	assert.False(t, g.Allow("c1", KindCallStart))

	g.Purge("c1")
	assert.False(t, g.Tracked("c1"))
	assert.True(t, g.Allow("c1", KindCallStart))
}

func TestHandle_RateLimitedEventIsDropped(t *testing.T) {
	x := newHarness(t, Options{Budgets: map[Kind]int{KindTypingStart: 2}, RateWindow: time.Second})
	a, b := x.user("alice"), x.user("bob")
	sa, pa := x.join(a)
	_, pb := x.join(b)

	for i := 0; i < 3; i++ {
		x.emit(sa, "typing:start", obj{"receiverId": b})
	}
	assert.Equal(t, 2, pb.count("typing:start"))
	assert.Equal(t, "RATE_LIMITED", pa.lastError(t).Code)

	x.clock.Advance(time.Second)
	x.emit(sa, "typing:start", obj{"receiverId": b})
	assert.Equal(t, 3, pb.count("typing:start"))
}
