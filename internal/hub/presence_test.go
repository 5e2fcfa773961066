package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_BroadcastsOnlineToOthers(t *testing.T) {
	x := newHarness(t, Options{})
	a, b := x.user("alice"), x.user("bob")
	_, pa := x.join(a)
	_, pb := x.join(b)

	online := pa.last(t, EvUserOnline).Payload.(PresencePayload)
	assert.Equal(t, b, online.UserID)
	assert.True(t, online.IsOnline)
	assert.Equal(t, 0, pb.count(EvUserOnline), "joiner must not receive its own online event")

	joined := pb.last(t, EvUserJoined).Payload.(JoinedPayload)
	assert.ElementsMatch(t, []string{a, b}, joined.OnlineUsers)

	u, err := x.store.FindUserByID(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
}

func TestJoin_IdentityMismatch(t *testing.T) {
	x := newHarness(t, Options{})
	a := x.user("alice")
	s, p := x.connect(a, NamespaceMain)

	x.emit(s, "user:join", obj{"userId": "someone-else"})

	assert.Equal(t, "FORBIDDEN", p.lastError(t).Code)
	assert.False(t, x.hub.Registry().IsOnline(a))
}

func TestStatus_SubscribeAndRequest(t *testing.T) {
	x := newHarness(t, Options{})
	a, b := x.user("alice"), x.user("bob")
	sa, pa := x.join(a)

	x.emitReq(sa, "user:subscribe-status", "r1", obj{"targetId": b})
	snap := pa.last(t, EvStatusUpdate)
	assert.Equal(t, "r1", snap.RequestID)
	assert.False(t, snap.Payload.(PresencePayload).IsOnline)

	sb, _ := x.join(b)
	update := pa.last(t, EvStatusUpdate).Payload.(PresencePayload)
	assert.Equal(t, b, update.UserID)
	assert.True(t, update.IsOnline)

	x.emit(sa, "user:status-request", obj{"targetId": b})
	assert.True(t, pa.last(t, EvStatusResponse).Payload.(PresencePayload).IsOnline)

	x.hub.Disconnect(context.Background(), sb)
	offline := pa.last(t, EvStatusUpdate).Payload.(PresencePayload)
	assert.False(t, offline.IsOnline)
	require.NotNil(t, offline.LastSeen)
	assert.Equal(t, x.clock.Now(), *offline.LastSeen)
}

func TestStatus_ReadsRegistryNotStore(t *testing.T) {
	x := newHarness(t, Options{})
	a, b := x.user("alice"), x.user("bob")
	sa, pa := x.join(a)
	require.NoError(t, x.store.SetPresence(context.Background(), b, true, x.clock.Now()))

	x.emit(sa, "user:status-request", obj{"targetId": b})

	assert.False(t, pa.last(t, EvStatusResponse).Payload.(PresencePayload).IsOnline)
}
