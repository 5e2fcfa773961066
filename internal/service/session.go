package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"chatbull/internal/apperr"
	"chatbull/internal/metrics"
	"chatbull/internal/models"
	"chatbull/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Evictor 把已结束的会话移出内存大厅，返回期间额外擦除的消息数。
type Evictor interface {
	EvictSession(ctx context.Context, sessionID string) int64
}

// SessionService 管理私密模式会话的开始与结束。
type SessionService struct {
	store   store.Store
	evictor Evictor
	ttl     time.Duration
	now     func() time.Time
}

func NewSessionService(s store.Store, evictor Evictor, ttl time.Duration) *SessionService {
	return &SessionService{store: s, evictor: evictor, ttl: ttl, now: time.Now}
}

type StartResult struct {
	SessionID       string    `json:"sessionId"`
	EphemeralUserID string    `json:"ephemeralUserId"`
	EncryptionKey   string    `json:"encryptionKey"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Start 为已有资料的用户创建一个带过期时间的私密会话。
func (s *SessionService) Start(ctx context.Context, ownerID string) (*StartResult, error) {
	ok, err := s.store.UserExists(ctx, ownerID)
	if err != nil {
		return nil, apperr.Transient("lookup profile", err)
	}
	if !ok {
		return nil, ErrProfileNotFound
	}
	key, err := randomKey()
	if err != nil {
		return nil, apperr.Internal("generate session key", err)
	}
	now := s.now()
	sess := models.EphemeralSession{
		SessionID:       uuid.NewString(),
		EphemeralUserID: "anon_" + uuid.NewString()[:8],
		OwnerID:         ownerID,
		ExpiresAt:       now.Add(s.ttl),
		EncryptionKey:   key,
		IsActive:        true,
		CreatedAt:       now,
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return nil, apperr.Transient("create session", err)
	}
	log.Info().Str("session_id", sess.SessionID).Time("expires_at", sess.ExpiresAt).Msg("private session started")
	return &StartResult{
		SessionID:       sess.SessionID,
		EphemeralUserID: sess.EphemeralUserID,
		EncryptionKey:   key,
		ExpiresAt:       sess.ExpiresAt,
	}, nil
}

type EndResult struct {
	SessionID          string `json:"sessionId"`
	WipedMessagesCount int64  `json:"wipedMessagesCount"`
}

// End 校验归属并在同一事务内删除会话及其全部私密消息，返回擦除条数。
func (s *SessionService) End(ctx context.Context, ownerID, sessionID string) (*EndResult, error) {
	if sessionID == "" {
		return nil, apperr.Validation("sessionId is required")
	}
	wiped, err := s.store.EndSession(ctx, sessionID, ownerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, store.ErrNotOwner):
		return nil, ErrNotSessionOwner
	case err != nil:
		return nil, apperr.Transient("end session", err)
	}
	metrics.PrivateWipedTotal.Add(float64(wiped))
	if s.evictor != nil {
		wiped += s.evictor.EvictSession(ctx, sessionID)
	}
	log.Info().Str("session_id", sessionID).Int64("wiped", wiped).Str("reason", "end").Msg("private session wiped")
	return &EndResult{SessionID: sessionID, WipedMessagesCount: wiped}, nil
}

func randomKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
