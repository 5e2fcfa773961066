package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatbull/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Profiles 用于确认 token 中的用户仍然存在。
type Profiles interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

// Verifier 把 bearer 凭证换成稳定的用户 ID。
type Verifier struct {
	secret   string
	profiles Profiles
}

func NewVerifier(secret string, profiles Profiles) *Verifier {
	return &Verifier{secret: secret, profiles: profiles}
}

func (v *Verifier) Verify(ctx context.Context, bearer string) (string, error) {
	if bearer == "" {
		return "", apperr.Unauthorized("missing bearer token")
	}
	claims, err := ParseAccessToken(bearer, v.secret)
	if err != nil {
		return "", apperr.Unauthorized("invalid token")
	}
	ok, err := v.profiles.UserExists(ctx, claims.UserID)
	if err != nil {
		return "", apperr.Transient("lookup user", err)
	}
	if !ok {
		return "", apperr.Unauthorized("user not found")
	}
	return claims.UserID, nil
}

// BearerToken 依次从 Authorization 头和 token 查询参数中提取凭证（浏览器 WebSocket 无法设置头）。
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := v.Verify(c.Request.Context(), BearerToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.From(err).Message})
			return
		}
		c.Set("userID", uid)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(string); ok2 {
			return id
		}
	}
	return ""
}
