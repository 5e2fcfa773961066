package hub

import (
	"sync"
	"time"
)

// DefaultBudgets 是每个窗口内各事件允许的最大次数；未列出的事件不限。
var DefaultBudgets = map[Kind]int{
	KindUserJoin:            10,
	KindUserSubscribeStatus: 50,
	KindUserStatusRequest:   50,
	KindMessageSend:         30,
	KindMessagesGet:         20,
	KindMessagesRead:        30,
	KindTypingStart:         60,
	KindTypingStop:          60,
	KindReactionAdd:         30,
	KindReactionRemove:      30,
	KindCallStart:           5,
	KindCallSignal:          300,
	KindPrivateJoin:         5,
	KindPrivateSend:         30,
	KindPrivateBroadcast:    30,
	KindPrivateUsers:        20,
}

type budget struct {
	start time.Time
	count int
}

// RateGuard 是按 (连接, 事件) 计数的固定窗口限流器。
type RateGuard struct {
	mu      sync.Mutex
	window  time.Duration
	max     map[Kind]int
	now     func() time.Time
	buckets map[string]map[Kind]*budget
}

func NewRateGuard(window time.Duration, max map[Kind]int, now func() time.Time) *RateGuard {
	if max == nil {
		max = DefaultBudgets
	}
	if now == nil {
		now = time.Now
	}
	return &RateGuard{window: window, max: max, now: now, buckets: make(map[string]map[Kind]*budget)}
}

func (g *RateGuard) Allow(connID string, k Kind) bool {
	limit, ok := g.max[k]
	if !ok || limit <= 0 {
		return true
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	conn := g.buckets[connID]
	if conn == nil {
		conn = make(map[Kind]*budget)
		g.buckets[connID] = conn
	}
	b := conn[k]
	if b == nil || now.Sub(b.start) >= g.window {
		conn[k] = &budget{start: now, count: 1}
		return true
	}
	b.count++
	return b.count <= limit
}

// Purge 丢弃连接的全部计数，连接断开时调用。
func (g *RateGuard) Purge(connID string) {
	g.mu.Lock()
	delete(g.buckets, connID)
	g.mu.Unlock()
}

func (g *RateGuard) Tracked(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.buckets[connID]
	return ok
}
