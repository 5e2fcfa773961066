package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatbull/internal/models"

	"github.com/google/uuid"
)

// Memory 是进程内的持久层实现，用于 STORE_DRIVER=memory 的本地开发与测试。
type Memory struct {
	mu       sync.Mutex
	users    map[string]*models.User
	tokens   map[string]*models.RefreshToken
	groups   map[string][]string
	messages []*models.Message
	sessions map[string]*models.EphemeralSession
	private  map[string][]*models.PrivateMessage
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*models.User),
		tokens:   make(map[string]*models.RefreshToken),
		groups:   make(map[string][]string),
		sessions: make(map[string]*models.EphemeralSession),
		private:  make(map[string][]*models.PrivateMessage),
		now:      time.Now,
	}
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := m.now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UserExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *Memory) SetPresence(_ context.Context, id string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	if !online {
		t := at
		u.LastSeen = &t
	}
	return nil
}

func (m *Memory) SetDeviceToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.DeviceToken = token
	return nil
}

func (m *Memory) SaveRefreshToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt, CreatedAt: m.now()}
	return nil
}

func (m *Memory) RotateRefreshToken(_ context.Context, oldToken, newToken string, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rec, ok := m.tokens[oldToken]
	if !ok || rec.RevokedAt != nil || !rec.ExpiresAt.After(now) {
		return "", ErrNotFound
	}
	rec.RevokedAt = &now
	m.tokens[newToken] = &models.RefreshToken{UserID: rec.UserID, Token: newToken, ExpiresAt: expiresAt, CreatedAt: now}
	return rec.UserID, nil
}

func (m *Memory) CreateGroup(_ context.Context, g *models.Group, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt = m.now()
	m.groups[g.ID] = append([]string(nil), memberIDs...)
	return nil
}

func (m *Memory) GroupMemberIDs(_ context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), ids...), nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, q HistoryQuery) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < q.limit(); i-- {
		msg := m.messages[i]
		if matchesHistory(msg, q) {
			out = append(out, *msg)
		}
	}
	reverse(out)
	return out, nil
}

func matchesHistory(msg *models.Message, q HistoryQuery) bool {
	if q.GroupID != "" {
		return msg.GroupID != nil && *msg.GroupID == q.GroupID
	}
	if msg.ReceiverID == nil {
		return false
	}
	return (msg.SenderID == q.UserID && *msg.ReceiverID == q.OtherUserID) ||
		(msg.SenderID == q.OtherUserID && *msg.ReceiverID == q.UserID)
}

func (m *Memory) MarkRead(_ context.Context, senderID, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.SenderID == senderID && msg.ReceiverID != nil && *msg.ReceiverID == receiverID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateSession(_ context.Context, s *models.EphemeralSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; ok {
		return ErrConflict
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *Memory) FindSession(_ context.Context, sessionID string) (*models.EphemeralSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) EndSession(_ context.Context, sessionID, ownerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if s.OwnerID != ownerID {
		return 0, ErrNotOwner
	}
	wiped := int64(len(m.private[sessionID]))
	delete(m.private, sessionID)
	delete(m.sessions, sessionID)
	return wiped, nil
}

func (m *Memory) CreatePrivateMessage(_ context.Context, pm *models.PrivateMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm.ID == "" {
		pm.ID = uuid.NewString()
	}
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = m.now()
	}
	if pm.ExpiresAt.IsZero() {
		pm.ExpiresAt = pm.CreatedAt.Add(models.DefaultPrivateMessageTTL)
	}
	cp := *pm
	m.private[pm.SessionID] = append(m.private[pm.SessionID], &cp)
	return nil
}

func (m *Memory) CountPrivateMessages(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.private[sessionID])), nil
}

func (m *Memory) DeletePrivateMessages(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.private[sessionID]))
	delete(m.private, sessionID)
	return n, nil
}

func (m *Memory) SweepExpired(_ context.Context, now time.Time) (SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out SweepResult
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			out.Messages += int64(len(m.private[id]))
			delete(m.private, id)
			delete(m.sessions, id)
			out.Sessions++
		}
	}
	for id, msgs := range m.private {
		kept := msgs[:0]
		for _, pm := range msgs {
			if pm.ExpiresAt.After(now) {
				kept = append(kept, pm)
				continue
			}
			out.Messages++
		}
		if len(kept) == 0 {
			delete(m.private, id)
			continue
		}
		m.private[id] = kept
	}
	return out, nil
}

// SessionIDs 返回当前仍存在的会话 ID，按字典序排列，仅用于诊断与测试。
func (m *Memory) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
