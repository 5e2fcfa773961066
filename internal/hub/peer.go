package hub

import "sync"

// Peer 是一个活动连接的句柄，由传输层实现。
// Send 不得阻塞：写缓冲已满或连接已关闭时返回 false。
type Peer interface {
	ID() string
	Send(f Frame) bool
}

// Session 是中枢为每个连接保存的状态。同一连接上的事件由传输层串行交付。
type Session struct {
	peer   Peer
	ns     Namespace
	userID string

	mu     sync.Mutex
	joined bool
	closed bool
}

func (s *Session) UserID() string       { return s.userID }
func (s *Session) Namespace() Namespace { return s.ns }
func (s *Session) Peer() Peer           { return s.peer }

func (s *Session) setJoined() {
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
}

func (s *Session) isJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markClosed 只有第一次调用返回 true。
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}
