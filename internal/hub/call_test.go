package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatbull/internal/push"
	"chatbull/internal/push/mocks"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callPair struct {
	a, b   string
	sa, sb *Session
	pa, pb *fakePeer
}

func newCallPair(t *testing.T, x *harness) callPair {
	t.Helper()
	cp := callPair{a: x.user("alice"), b: x.user("bob")}
	cp.sa, cp.pa = x.join(cp.a)
	cp.sb, cp.pb = x.join(cp.b)
	return cp
}

func (cp callPair) start(t *testing.T, x *harness) string {
	t.Helper()
	x.emit(cp.sa, "call:start", obj{"receiverId": cp.b, "type": "video"})
	started := cp.pa.last(t, EvCallStarted).Payload.(CallPayload)
	incoming := cp.pb.last(t, EvCallIncoming).Payload.(CallPayload)
	require.Equal(t, started.CallID, incoming.CallID)
	return started.CallID
}

func TestCall_AcceptWithoutStartRejected(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)

	x.emit(cp.sb, "call:accept", nil)

	assert.Equal(t, "VALIDATION", cp.pb.lastError(t).Code)
	assert.Equal(t, 0, cp.pa.count(EvCallAccepted))
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.a))
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.b))
}

func TestCall_FullLifecycle(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)
	calls := x.hub.Calls()

	id := cp.start(t, x)
	assert.Equal(t, CallCalling, calls.StateOf(cp.a))
	assert.Equal(t, CallIncoming, calls.StateOf(cp.b))

	x.emit(cp.sa, "call:accept", obj{"callId": id})
	assert.Equal(t, "VALIDATION", cp.pa.lastError(t).Code, "caller cannot accept its own call")

	x.emit(cp.sb, "call:accept", obj{"callId": id})
	assert.Equal(t, id, cp.pa.last(t, EvCallAccepted).Payload.(CallPayload).CallID)
	assert.Equal(t, CallConnecting, calls.StateOf(cp.a))
	assert.Equal(t, CallConnecting, calls.StateOf(cp.b))

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	x.emit(cp.sa, "call:signal", obj{"callId": id, "targetId": cp.b, "signal": offer})
	sig := cp.pb.last(t, EvCallSignal).Payload.(SignalPayload)
	assert.Equal(t, cp.a, sig.FromID)
	assert.JSONEq(t, string(offer), string(sig.Signal))
	assert.Equal(t, CallConnecting, calls.StateOf(cp.a))

	x.emit(cp.sb, "call:signal", obj{"targetId": cp.a, "signal": obj{"type": "answer", "sdp": "v=0"}})
	assert.Equal(t, 1, cp.pa.count(EvCallConnected))
	assert.Equal(t, 1, cp.pb.count(EvCallConnected))
	assert.Equal(t, CallActive, calls.StateOf(cp.a))
	assert.Equal(t, CallActive, calls.StateOf(cp.b))

	x.emit(cp.sa, "call:signal", obj{"targetId": cp.b, "signal": obj{"candidate": "ice"}})
	assert.Equal(t, 2, cp.pb.count(EvCallSignal))

	x.emit(cp.sa, "call:end", obj{"callId": id})
	assert.Equal(t, "ended", cp.pb.last(t, EvCallEnded).Payload.(CallPayload).Reason)
	assert.Equal(t, 1, cp.pa.count(EvCallEnded))
	assert.Equal(t, CallIdle, calls.StateOf(cp.a))
	assert.Equal(t, CallIdle, calls.StateOf(cp.b))
	assert.Equal(t, 0, calls.Len())

	x.emit(cp.sb, "call:end", obj{"callId": id})
	assert.Equal(t, 0, cp.pb.count(EvError), "ending an idle call is a no-op")
}

func TestCall_Reject(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)
	cp.start(t, x)

	x.emit(cp.sb, "call:reject", nil)

	assert.Equal(t, "rejected", cp.pa.last(t, EvCallRejected).Payload.(CallPayload).Reason)
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.a))
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.b))
}

func TestCall_SignalRequiresAcceptedCallWithTarget(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)
	c := x.user("carol")
	_, pc := x.join(c)
	cp.start(t, x)

	x.emit(cp.sa, "call:signal", obj{"targetId": cp.b, "signal": obj{"type": "offer"}})
	assert.Equal(t, "VALIDATION", cp.pa.lastError(t).Code)

	x.emit(cp.sb, "call:accept", nil)
	x.emit(cp.sa, "call:signal", obj{"targetId": c, "signal": obj{"type": "offer"}})
	assert.Equal(t, "VALIDATION", cp.pa.lastError(t).Code)
	assert.Equal(t, 0, pc.count(EvCallSignal))
	assert.Equal(t, 0, cp.pb.count(EvCallSignal))
}

func TestCall_BusyAndSelf(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)
	c := x.user("carol")
	sc, pc := x.join(c)
	cp.start(t, x)

	x.emit(sc, "call:start", obj{"receiverId": cp.b})
	assert.Equal(t, "busy", pc.last(t, EvCallBusy).Payload.(CallPayload).Reason)
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(c))

	x.emit(sc, "call:start", obj{"receiverId": c})
	assert.Equal(t, "VALIDATION", pc.lastError(t).Code)

	x.emit(sc, "call:start", obj{"receiverId": cp.a, "type": "hologram"})
	assert.Equal(t, "VALIDATION", pc.lastError(t).Code)
}

func TestCall_OfflineReceiverIsUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	x := newHarness(t, Options{Notifier: notifier})
	a, b := x.user("alice"), x.user("bob")
	require.NoError(t, x.store.SetDeviceToken(context.Background(), b, "device-b"))
	sa, pa := x.join(a)

	notifier.EXPECT().
		Send(gomock.Any(), "device-b", "Missed audio call from alice", "").
		Return(push.Result{Success: true}, nil)

	x.emit(sa, "call:start", obj{"receiverId": b})

	assert.Equal(t, "offline", pa.last(t, EvCallUnavailable).Payload.(CallPayload).Reason)
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(a))
	require.NoError(t, x.hub.Shutdown(context.Background()))
}

func TestCall_DisconnectEndsCall(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)
	cp.start(t, x)
	x.emit(cp.sb, "call:accept", nil)

	x.hub.Disconnect(context.Background(), cp.sb)

	assert.Equal(t, "disconnected", cp.pa.last(t, EvCallEnded).Payload.(CallPayload).Reason)
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.a))
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.b))
}

func TestCall_RingTimeout(t *testing.T) {
	x := newHarness(t, Options{CallRingTimeout: 20 * time.Millisecond})
	cp := newCallPair(t, x)
	cp.start(t, x)

	require.Eventually(t, func() bool {
		return cp.pa.count(EvCallEnded) == 1 && cp.pb.count(EvCallEnded) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "timeout", cp.pa.last(t, EvCallEnded).Payload.(CallPayload).Reason)
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.a))
}

func TestCall_ConnectTimeoutDisarmedOnAnswer(t *testing.T) {
	x := newHarness(t, Options{CallConnectTimeout: 30 * time.Millisecond})
	cp := newCallPair(t, x)
	cp.start(t, x)
	x.emit(cp.sb, "call:accept", nil)
	x.emit(cp.sb, "call:signal", obj{"targetId": cp.a, "signal": obj{"type": "answer"}})

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, CallActive, x.hub.Calls().StateOf(cp.a))
	assert.Equal(t, 0, cp.pa.count(EvCallEnded))
}

func TestCall_ShutdownStopsTimers(t *testing.T) {
	x := newHarness(t, Options{CallRingTimeout: 20 * time.Millisecond})
	cp := newCallPair(t, x)
	cp.start(t, x)

	require.NoError(t, x.hub.Shutdown(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, cp.pa.count(EvCallEnded))
}

func TestCall_IncomingNotDeliverable(t *testing.T) {
	x := newHarness(t, Options{})
	cp := newCallPair(t, x)
	cp.pb.close()

	x.emit(cp.sa, "call:start", obj{"receiverId": cp.b})

	assert.Equal(t, 1, cp.pa.count(EvCallStarted))
	assert.Equal(t, "unavailable", cp.pa.last(t, EvCallEnded).Payload.(CallPayload).Reason)
	assert.Equal(t, CallIdle, x.hub.Calls().StateOf(cp.a))
	assert.Equal(t, 0, x.hub.Calls().Len())
}
