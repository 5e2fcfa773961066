package hub

import (
	"sort"
	"sync"
	"time"
)

// LobbyEntry 是私密大厅中的一个匿名身份，只存在于内存。
type LobbyEntry struct {
	SessionID string
	Alias     string
	PublicKey string
	OwnerID   string
	Peer      Peer
	// Durable 表示该会话来自 POST /private/start，结束时需同时删除会话记录。
	Durable  bool
	JoinedAt time.Time
}

type Lobby struct {
	mu        sync.RWMutex
	byConn    map[string]*LobbyEntry
	byAlias   map[string]*LobbyEntry
	bySession map[string]*LobbyEntry
}

func NewLobby() *Lobby {
	return &Lobby{
		byConn:    make(map[string]*LobbyEntry),
		byAlias:   make(map[string]*LobbyEntry),
		bySession: make(map[string]*LobbyEntry),
	}
}

// Add 在同一把锁内分配不冲突的昵称并登记条目；同一会话已在大厅中时返回 false。
func (l *Lobby) Add(e *LobbyEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.bySession[e.SessionID]; ok {
		return false
	}
	e.Alias = newAlias(func(a string) bool {
		_, ok := l.byAlias[a]
		return ok
	})
	l.byConn[e.Peer.ID()] = e
	l.byAlias[e.Alias] = e
	l.bySession[e.SessionID] = e
	return true
}

func (l *Lobby) ByConn(connID string) (*LobbyEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byConn[connID]
	return e, ok
}

func (l *Lobby) ByAlias(alias string) (*LobbyEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byAlias[alias]
	return e, ok
}

func (l *Lobby) BySession(sessionID string) (*LobbyEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.bySession[sessionID]
	return e, ok
}

// Remove 删除指定条目；条目已被删除时返回 false。
func (l *Lobby) Remove(e *LobbyEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.byConn[e.Peer.ID()]
	if !ok || cur != e {
		return false
	}
	delete(l.byConn, e.Peer.ID())
	delete(l.byAlias, e.Alias)
	delete(l.bySession, e.SessionID)
	return true
}

// Others 返回除 connID 外的全部条目，按昵称排序。
func (l *Lobby) Others(connID string) []*LobbyEntry {
	l.mu.RLock()
	out := make([]*LobbyEntry, 0, len(l.byConn))
	for id, e := range l.byConn {
		if id != connID {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

func (l *Lobby) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byConn)
}
