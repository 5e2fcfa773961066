// Package store 实现事件中枢依赖的持久层：Postgres（gorm）与进程内存两种实现，
// 以及对有时效集合做 TTL 兜底清理的 Sweeper。
package store

import (
	"context"
	"errors"
	"time"

	"chatbull/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrNotOwner = errors.New("session owned by another user")
)

// HistoryLimit 是单次历史查询返回的最大条数。
const HistoryLimit = 100

// HistoryQuery 指定会话双方或群组，二者择一。
type HistoryQuery struct {
	UserID      string
	OtherUserID string
	GroupID     string
	Limit       int
}

func (q HistoryQuery) limit() int {
	if q.Limit <= 0 || q.Limit > HistoryLimit {
		return HistoryLimit
	}
	return q.Limit
}

type SweepResult struct {
	Sessions int64
	Messages int64
}

// Store 是完整的持久层契约，Gorm 与 Memory 都实现它。
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	UserExists(ctx context.Context, id string) (bool, error)
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
	SetDeviceToken(ctx context.Context, id, token string) error

	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (string, error)

	CreateGroup(ctx context.Context, g *models.Group, memberIDs []string) error
	GroupMemberIDs(ctx context.Context, groupID string) ([]string, error)

	CreateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, q HistoryQuery) ([]models.Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)

	CreateSession(ctx context.Context, s *models.EphemeralSession) error
	FindSession(ctx context.Context, sessionID string) (*models.EphemeralSession, error)
	EndSession(ctx context.Context, sessionID, ownerID string) (int64, error)

	CreatePrivateMessage(ctx context.Context, m *models.PrivateMessage) error
	CountPrivateMessages(ctx context.Context, sessionID string) (int64, error)
	DeletePrivateMessages(ctx context.Context, sessionID string) (int64, error)

	SweepExpired(ctx context.Context, now time.Time) (SweepResult, error)
}

// reverse 把按时间倒序取出的消息翻转为升序（最新的在最后）。
func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
