package service

import (
	"chatbull/internal/apperr"
)

// 业务层通用错误，handler 通过 apperr.HTTPStatus 映射到 HTTP 状态码。
var (
	ErrUsernameTaken      = apperr.Conflict("username taken")
	ErrInvalidCredentials = apperr.Unauthorized("invalid credentials")
	ErrInvalidRefresh     = apperr.Unauthorized("invalid refresh token")
	ErrProfileNotFound    = apperr.NotFound("profile not found")
	ErrSessionNotFound    = apperr.NotFound("session not found")
	ErrNotSessionOwner    = apperr.Forbidden("session owned by another user")
	ErrGroupNotFound      = apperr.NotFound("group not found")
	ErrNotGroupMember     = apperr.Forbidden("not a member of this group")
)
