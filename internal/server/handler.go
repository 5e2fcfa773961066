package server

import (
	"net/http"
	"strconv"

	"chatbull/internal/apperr"
	"chatbull/internal/auth"
	"chatbull/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	sessionSvc *service.SessionService
	groupSvc   *service.GroupService
	msgSvc     *service.MessageService
}

func NewHandler(userSvc *service.UserService, sessionSvc *service.SessionService, groupSvc *service.GroupService, msgSvc *service.MessageService) *Handler {
	return &Handler{userSvc: userSvc, sessionSvc: sessionSvc, groupSvc: groupSvc, msgSvc: msgSvc}
}

// fail 按错误码写出响应；5xx 才记错误日志。
func fail(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	ae := apperr.From(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Str("user_id", auth.GetUserID(c)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": ae.Message, "code": ae.Code, "retryable": ae.Retryable})
}

func badPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "code": apperr.CodeValidation})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	result, err := h.userSvc.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		fail(c, "register", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DeviceToken string `json:"deviceToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Username, req.Password, req.DeviceToken)
	if err != nil {
		fail(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badPayload(c)
		return
	}
	result, err := h.userSvc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StartPrivate 开启私密模式会话。
func (h *Handler) StartPrivate(c *gin.Context) {
	result, err := h.sessionSvc.Start(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, "private.start", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EndPrivate 结束私密模式会话，响应中的 wipedMessagesCount 是擦除确认。
func (h *Handler) EndPrivate(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		badPayload(c)
		return
	}
	result, err := h.sessionSvc.End(c.Request.Context(), auth.GetUserID(c), req.SessionID)
	if err != nil {
		fail(c, "private.end", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateGroup 处理创建群组请求。
func (h *Handler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	g, err := h.groupSvc.Create(c.Request.Context(), auth.GetUserID(c), req.Name, req.MemberIDs)
	if err != nil {
		fail(c, "group.create", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// GroupMembers 返回群成员及在线状态。
func (h *Handler) GroupMembers(c *gin.Context) {
	members, err := h.groupSvc.Members(c.Request.Context(), auth.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, "group.members", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// ListMessages 处理历史消息查询，otherUserId 与 groupId 二选一。
func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.msgSvc.History(c.Request.Context(), auth.GetUserID(c), c.Query("otherUserId"), c.Query("groupId"), limit)
	if err != nil {
		fail(c, "messages.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
