package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatbull/internal/models"
	"chatbull/internal/store"

	"github.com/stretchr/testify/require"
)

var peerSeq atomic.Int64

// fakePeer 记录发给它的所有帧。
type fakePeer struct {
	id     string
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func newPeer() *fakePeer {
	return &fakePeer{id: fmt.Sprintf("conn-%d", peerSeq.Add(1))}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(f Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, f)
	return true
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) events(typ string) []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Frame
	for _, f := range p.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (p *fakePeer) count(typ string) int { return len(p.events(typ)) }

func (p *fakePeer) last(t *testing.T, typ string) Frame {
	t.Helper()
	evs := p.events(typ)
	require.NotEmpty(t, evs, "no %s frame for %s", typ, p.id)
	return evs[len(evs)-1]
}

func (p *fakePeer) lastError(t *testing.T) ErrorPayload {
	t.Helper()
	return p.last(t, EvError).Payload.(ErrorPayload)
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	hub   *Hub
	store *store.Memory
	clock *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemory(), opts)
}

func newHarnessWithStore(t *testing.T, mem *store.Memory, opts Options) *harness {
	t.Helper()
	clock := newClock()
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	return &harness{t: t, hub: New(mem, opts), store: mem, clock: clock}
}

func (x *harness) user(name string) string {
	x.t.Helper()
	u := &models.User{Username: name, PasswordHash: "x"}
	require.NoError(x.t, x.store.CreateUser(context.Background(), u))
	return u.ID
}

func (x *harness) connect(userID string, ns Namespace) (*Session, *fakePeer) {
	p := newPeer()
	return x.hub.Connect(p, ns, userID), p
}

// join 连接主通道并发送 user:join。
func (x *harness) join(userID string) (*Session, *fakePeer) {
	x.t.Helper()
	s, p := x.connect(userID, NamespaceMain)
	x.emit(s, "user:join", nil)
	require.Equal(x.t, 1, p.count(EvUserJoined))
	return s, p
}

func (x *harness) emit(s *Session, typ string, payload any) {
	x.emitReq(s, typ, "", payload)
}

func (x *harness) emitReq(s *Session, typ, requestID string, payload any) {
	x.t.Helper()
	in := Inbound{Type: typ, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(x.t, err)
		in.Payload = raw
	}
	data, err := json.Marshal(in)
	require.NoError(x.t, err)
	x.hub.Handle(context.Background(), s, data)
}

type obj map[string]any
