package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatbull/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	require.NoError(t, err)

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPassword(tt.hash, tt.password))
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	token, err := GenerateAccessToken("user-42", secret, 15)
	require.NoError(t, err)
	expired, err := GenerateAccessToken("user-42", secret, -1)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID string
		wantErr bool
	}{
		{"valid token", token, secret, "user-42", false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"expired token", expired, secret, "", true},
		{"invalid token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UserID != tt.wantUID {
				t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	token1, err := GenerateRefreshToken()
	require.NoError(t, err)
	token2, err := GenerateRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, token1, token2)
	assert.Len(t, token1, 64)
}

type profiles map[string]bool

func (p profiles) UserExists(_ context.Context, id string) (bool, error) { return p[id], nil }

func TestVerifier(t *testing.T) {
	v := NewVerifier("secret", profiles{"alice": true})
	good, _ := GenerateAccessToken("alice", "secret", 5)
	ghost, _ := GenerateAccessToken("ghost", "secret", 5)

	uid, err := v.Verify(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	_, err = v.Verify(context.Background(), ghost)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = v.Verify(context.Background(), "")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", BearerToken(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(r))
}
