// Package push 是推送通知这一外部协作方的边界：中枢只调用 Send(deviceToken, title, body)。
package push

import (
	"context"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks chatbull/internal/push Notifier

type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, deviceToken, title, body string) (Result, error)
}

// LogNotifier 只记录推送请求，未接入真实推送服务时使用。
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, deviceToken, title, body string) (Result, error) {
	id := uuid.NewString()
	log.Debug().Str("push_id", id).Str("token_suffix", suffix(deviceToken, 6)).Str("title", title).Int("body_len", len(body)).Msg("push notification")
	return Result{Success: true, ID: id}, nil
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Preview 截断正文，推送里不放完整消息。
func Preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
