package ws

import (
	"sync"
)

// Tracker 记录当前存活的连接，关停时统一关闭它们，使读循环走完断线清理。
type Tracker struct {
	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
	wg      sync.WaitGroup
}

func NewTracker() *Tracker { return &Tracker{clients: make(map[string]*Client)} }

func (t *Tracker) add(c *Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.clients[c.id] = c
	t.wg.Add(1)
	return true
}

func (t *Tracker) remove(c *Client) {
	t.mu.Lock()
	_, ok := t.clients[c.id]
	delete(t.clients, c.id)
	t.mu.Unlock()
	if ok {
		t.wg.Done()
	}
}

// Online 返回存活连接数。
func (t *Tracker) Online() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// CloseAll 拒绝新连接，关闭现有连接，并等待它们的断线清理完成。
func (t *Tracker) CloseAll() {
	t.mu.Lock()
	t.closed = true
	clients := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	t.wg.Wait()
}
