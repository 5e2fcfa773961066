package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatbull/internal/config"
	"chatbull/internal/hub"
	"chatbull/internal/models"
	"chatbull/internal/store"
	"chatbull/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine *gin.Engine
	store  *store.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", Env: "dev", JWTSecret: "secret", StoreDriver: "memory"}
	cfg.AccessTokenTTLMinutes = 15
	cfg.RefreshTokenTTLDays = 7
	cfg.PrivateSessionTTL = time.Hour
	cfg.PrivateStartLimit = 2
	cfg.PrivateStartWindow = time.Hour
	cfg.WSPingInterval = 30 * time.Second
	cfg.WSPongWait = time.Minute
	mem := store.NewMemory()
	lim := NewLimiters(cfg)
	t.Cleanup(lim.Stop)
	engine := SetupRouter(cfg, mem, hub.New(mem, hub.Options{}), ws.NewTracker(), lim)
	return &testEnv{engine: engine, store: mem}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

// login 注册并登录，返回 access token 与用户 ID。
func (e *testEnv) login(t *testing.T, username string) (string, string) {
	t.Helper()
	code, reg := e.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": username, "password": "secret"})
	require.Equal(t, http.StatusOK, code)
	code, res := e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": username, "password": "secret"})
	require.Equal(t, http.StatusOK, code)
	return res["access_token"].(string), reg["id"].(string)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.login(t, "alice")

	code, _ := e.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": "alice", "password": "secret"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, res := e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "alice", "password": "secret"})
	require.Equal(t, http.StatusOK, code)
	code, refreshed := e.do(t, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": res["refresh_token"]})
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, refreshed["access_token"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/private/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPrivateStartEnd(t *testing.T) {
	e := newTestEnv(t)
	tokA, _ := e.login(t, "alice")
	tokB, _ := e.login(t, "bob")

	code, started := e.do(t, http.MethodPost, "/api/v1/private/start", tokA, nil)
	require.Equal(t, http.StatusOK, code)
	sid := started["sessionId"].(string)
	require.NotEmpty(t, sid)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.store.CreatePrivateMessage(ctx, &models.PrivateMessage{SessionID: sid, SenderAlias: "x", ReceiverAlias: "*", Content: "secret"}))
	}

	code, body := e.do(t, http.MethodPost, "/api/v1/private/end", tokB, gin.H{"sessionId": sid})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	code, body = e.do(t, http.MethodPost, "/api/v1/private/end", tokA, gin.H{"sessionId": sid})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["wipedMessagesCount"])
	n, err := e.store.CountPrivateMessages(ctx, sid)
	require.NoError(t, err)
	assert.Zero(t, n)

	code, _ = e.do(t, http.MethodPost, "/api/v1/private/end", tokA, gin.H{"sessionId": sid})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPrivateStartLimited(t *testing.T) {
	e := newTestEnv(t)
	tok, _ := e.login(t, "alice")

	for i := 0; i < 2; i++ {
		code, _ := e.do(t, http.MethodPost, "/api/v1/private/start", tok, nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := e.do(t, http.MethodPost, "/api/v1/private/start", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "EXHAUSTED_ATTEMPTS", body["code"])
}

func TestGroupsAndHistory(t *testing.T) {
	e := newTestEnv(t)
	tokA, _ := e.login(t, "alice")
	tokC, _ := e.login(t, "carol")
	_, idB := e.login(t, "bob")

	code, g := e.do(t, http.MethodPost, "/api/v1/groups", tokA, gin.H{"name": "friends", "memberIds": []string{idB}})
	require.Equal(t, http.StatusOK, code)
	gid := g["id"].(string)

	code, members := e.do(t, http.MethodGet, "/api/v1/groups/"+gid+"/members", tokA, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, members["members"], 2)

	code, _ = e.do(t, http.MethodGet, "/api/v1/groups/"+gid+"/members", tokC, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, hist := e.do(t, http.MethodGet, "/api/v1/messages?groupId="+gid, tokA, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, hist["messages"])

	code, _ = e.do(t, http.MethodGet, "/api/v1/messages", tokA, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
