// Package apperr 定义事件中枢与 REST 层共用的错误分类。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHENTICATED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeTransient    Code = "STORE_UNAVAILABLE"
	CodeExhausted    Code = "EXHAUSTED_ATTEMPTS"
	CodeInternal     Code = "INTERNAL"
)

type AppError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Cause     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is 按错误码比较，便于 errors.Is(err, apperr.Validation("")) 之类的判断。
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) error {
	return &AppError{Code: code, Message: msg}
}

func Wrap(code Code, msg string, cause error) error {
	return &AppError{Code: code, Message: msg, Cause: cause, Retryable: code == CodeTransient}
}

func Validation(msg string) error   { return New(CodeValidation, msg) }
func NotFound(msg string) error     { return New(CodeNotFound, msg) }
func Unauthorized(msg string) error { return New(CodeUnauthorized, msg) }
func Forbidden(msg string) error    { return New(CodeForbidden, msg) }
func Conflict(msg string) error     { return New(CodeConflict, msg) }
func RateLimited(msg string) error  { return New(CodeRateLimited, msg) }
func Exhausted(msg string) error    { return New(CodeExhausted, msg) }

// Transient 表示持久层暂时失败，客户端可以重试。
func Transient(msg string, cause error) error { return Wrap(CodeTransient, msg, cause) }

func Internal(msg string, cause error) error { return Wrap(CodeInternal, msg, cause) }

// From 把任意错误归一为 *AppError，未分类的错误视为 INTERNAL。
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return &AppError{Code: CodeInternal, Message: "internal error", Cause: err}
}

func CodeOf(err error) Code {
	if ae := From(err); ae != nil {
		return ae.Code
	}
	return ""
}

// HTTPStatus 将错误码映射到 REST 状态码。
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited, CodeExhausted:
		return http.StatusTooManyRequests
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
