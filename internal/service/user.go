package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatbull/internal/apperr"
	"chatbull/internal/auth"
	"chatbull/internal/config"
	"chatbull/internal/models"
	"chatbull/internal/store"
)

// UserService 封装注册、登录与 token 刷新。
type UserService struct {
	store store.Store
	cfg   config.Config
	now   func() time.Time
}

func NewUserService(s store.Store, cfg config.Config) *UserService {
	return &UserService{store: s, cfg: cfg, now: time.Now}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// Register 注册新用户。
func (s *UserService) Register(ctx context.Context, username, password, displayName string) (*RegisterResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("invalid payload")
	}
	if len(username) < 2 || len(username) > 64 {
		return nil, apperr.Validation("invalid username")
	}
	if len(password) < 4 || len(password) > 128 {
		return nil, apperr.Validation("invalid password")
	}
	if _, err := s.store.FindUserByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Transient("lookup username", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	user := models.User{Username: username, PasswordHash: hash, DisplayName: strings.TrimSpace(displayName)}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, apperr.Transient("create user", err)
	}
	return &RegisterResult{ID: user.ID, Username: user.Username, DisplayName: user.DisplayName}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"-"`
}

// Login 校验用户名密码并签发 token 对；deviceToken 非空时登记为推送目标。
func (s *UserService) Login(ctx context.Context, username, password, deviceToken string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("invalid payload")
	}
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, apperr.Transient("lookup user", err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if deviceToken != "" {
		if err := s.store.SetDeviceToken(ctx, user.ID, deviceToken); err != nil {
			return nil, apperr.Transient("save device token", err)
		}
		user.DeviceToken = deviceToken
	}
	at, rt, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: *user}, nil
}

func (s *UserService) issue(ctx context.Context, userID string) (string, string, error) {
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return "", "", apperr.Internal("sign access token", err)
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", "", apperr.Internal("generate refresh token", err)
	}
	if err := s.store.SaveRefreshToken(ctx, userID, rt, s.refreshExpiry()); err != nil {
		return "", "", apperr.Transient("save refresh token", err)
	}
	return at, rt, nil
}

func (s *UserService) refreshExpiry() time.Time {
	return s.now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新，旧 token 立即作废）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	if oldRT == "" {
		return nil, apperr.Validation("invalid payload")
	}
	newRT, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, apperr.Internal("generate refresh token", err)
	}
	userID, err := s.store.RotateRefreshToken(ctx, oldRT, newRT, s.refreshExpiry())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, apperr.Transient("rotate refresh token", err)
	}
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, apperr.Internal("sign access token", err)
	}
	return &RefreshResult{AccessToken: at, RefreshToken: newRT}, nil
}
