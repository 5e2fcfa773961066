package hub

import (
	"sort"
	"sync"
)

// Registry 把用户 ID 映射到其唯一的活动连接（后加入者覆盖先前的连接），
// 并记录在线状态订阅关系。状态只存活于进程生命周期内。
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Peer
	byConn map[string]string
	subs   map[string]map[string]Peer
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Peer),
		byConn: make(map[string]string),
		subs:   make(map[string]map[string]Peer),
	}
}

// Join 记录或覆盖 userID 的活动连接，返回被替换的旧连接（若有）。
func (r *Registry) Join(userID string, p Peer) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[userID]
	if prev != nil && prev.ID() != p.ID() {
		delete(r.byConn, prev.ID())
	} else {
		prev = nil
	}
	r.byUser[userID] = p
	r.byConn[p.ID()] = userID
	return prev
}

func (r *Registry) Lookup(userID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byUser[userID]
	return p, ok
}

// Remove 删除句柄对应的条目；对已删除或已被替换的句柄重复调用不产生任何效果。
func (r *Registry) Remove(p Peer) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byConn[p.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, p.ID())
	if cur := r.byUser[userID]; cur != nil && cur.ID() == p.ID() {
		delete(r.byUser, userID)
	}
	return userID, true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Peers 返回当前全部活动连接的快照。
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.byUser))
	for _, p := range r.byUser {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) Subscribe(targetID string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.subs[targetID]
	if set == nil {
		set = make(map[string]Peer)
		r.subs[targetID] = set
	}
	set[p.ID()] = p
}

func (r *Registry) Subscribers(targetID string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.subs[targetID]))
	for _, p := range r.subs[targetID] {
		out = append(out, p)
	}
	return out
}

// Unsubscribe 移除该连接的全部订阅。
func (r *Registry) Unsubscribe(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for target, set := range r.subs {
		delete(set, p.ID())
		if len(set) == 0 {
			delete(r.subs, target)
		}
	}
}
