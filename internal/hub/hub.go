// Package hub 是实时事件中枢：在进程内存中持有连接注册表、私密大厅与通话状态，
// 处理在线状态与消息投递、私密模式会话以及通话信令三套协议。
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatbull/internal/apperr"
	"chatbull/internal/metrics"
	"chatbull/internal/models"
	"chatbull/internal/push"
	"chatbull/internal/store"

	"github.com/rs/zerolog/log"
)

// Store 是中枢使用的持久层能力。
type Store interface {
	UserExists(ctx context.Context, id string) (bool, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
	GroupMemberIDs(ctx context.Context, groupID string) ([]string, error)

	CreateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, q store.HistoryQuery) ([]models.Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)

	FindSession(ctx context.Context, sessionID string) (*models.EphemeralSession, error)
	EndSession(ctx context.Context, sessionID, ownerID string) (int64, error)
	CreatePrivateMessage(ctx context.Context, m *models.PrivateMessage) error
	DeletePrivateMessages(ctx context.Context, sessionID string) (int64, error)
}

type Options struct {
	Notifier           push.Notifier
	Budgets            map[Kind]int
	RateWindow         time.Duration
	PrivateMessageTTL  time.Duration
	CallRingTimeout    time.Duration
	CallConnectTimeout time.Duration
	Now                func() time.Time
}

func (o *Options) defaults() {
	if o.Notifier == nil {
		o.Notifier = push.LogNotifier{}
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 10 * time.Second
	}
	if o.PrivateMessageTTL <= 0 {
		o.PrivateMessageTTL = models.DefaultPrivateMessageTTL
	}
	if o.CallRingTimeout <= 0 {
		o.CallRingTimeout = 45 * time.Second
	}
	if o.CallConnectTimeout <= 0 {
		o.CallConnectTimeout = 60 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Hub 持有全部进程内状态，由调用方构造并注入，测试时每个用例一个新实例。
type Hub struct {
	store    Store
	notifier push.Notifier
	opts     Options

	registry *Registry
	budgets  *RateGuard
	lobby    *Lobby
	calls    *Calls

	bg sync.WaitGroup
}

func New(s Store, opts Options) *Hub {
	opts.defaults()
	return &Hub{
		store:    s,
		notifier: opts.Notifier,
		opts:     opts,
		registry: NewRegistry(),
		budgets:  NewRateGuard(opts.RateWindow, opts.Budgets, opts.Now),
		lobby:    NewLobby(),
		calls:    NewCalls(),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Lobby() *Lobby       { return h.lobby }
func (h *Hub) Calls() *Calls       { return h.calls }

// Connect 为已认证的连接建立会话。
func (h *Hub) Connect(p Peer, ns Namespace, userID string) *Session {
	metrics.WsConnections.WithLabelValues(ns.String()).Inc()
	return &Session{peer: p, ns: ns, userID: userID}
}

// Handle 处理一帧入站数据。任何失败都转换成只发给当前连接的 error 事件，不会向上抛出。
func (h *Hub) Handle(ctx context.Context, s *Session, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.fail(s, KindUnknown, "", apperr.Validation("malformed frame"))
		return
	}
	kind := ParseKind(in.Type)
	if kind == KindUnknown {
		h.fail(s, kind, in.RequestID, apperr.Validation(fmt.Sprintf("unknown event %q", in.Type)))
		return
	}
	if kind.Namespace() != s.ns {
		h.fail(s, kind, in.RequestID, apperr.Validation("event not available on this namespace"))
		return
	}
	metrics.WsEventsTotal.WithLabelValues(kind.String()).Inc()
	if !h.budgets.Allow(s.peer.ID(), kind) {
		metrics.WsRateLimitedTotal.WithLabelValues(kind.String()).Inc()
		h.fail(s, kind, in.RequestID, apperr.RateLimited("rate limit exceeded"))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", kind.String()).Str("user_id", s.userID).Interface("panic", r).Msg("hub handler panic")
			h.fail(s, kind, in.RequestID, apperr.Internal("internal error", nil))
		}
	}()
	if err := h.dispatch(ctx, s, kind, in); err != nil {
		h.fail(s, kind, in.RequestID, err)
	}
}

var errUnhandled = apperr.Validation("unhandled event")

func (h *Hub) dispatch(ctx context.Context, s *Session, kind Kind, in Inbound) error {
	if kind.Namespace() == NamespaceMain && kind != KindUserJoin && !s.isJoined() {
		return apperr.Validation("user:join required")
	}
	switch kind {
	case KindUserJoin:
		return h.handleJoin(ctx, s, in)
	case KindUserSubscribeStatus:
		return h.handleSubscribeStatus(s, in)
	case KindUserStatusRequest:
		return h.handleStatusRequest(s, in)
	case KindMessageSend:
		return h.handleMessageSend(ctx, s, in)
	case KindMessagesGet:
		return h.handleMessagesGet(ctx, s, in)
	case KindMessagesRead:
		return h.handleMessagesRead(ctx, s, in)
	case KindTypingStart, KindTypingStop:
		return h.handleTyping(ctx, s, kind, in)
	case KindReactionAdd, KindReactionRemove:
		return h.handleReaction(ctx, s, kind, in)
	case KindCallStart:
		return h.handleCallStart(ctx, s, in)
	case KindCallAccept:
		return h.handleCallAccept(s, in)
	case KindCallSignal:
		return h.handleCallSignal(s, in)
	case KindCallReject, KindCallHangup, KindCallEnd:
		return h.handleCallFinish(s, kind, in)
	case KindPrivateJoin:
		return h.handlePrivateJoin(ctx, s, in)
	case KindPrivateSend:
		return h.handlePrivateSend(ctx, s, in)
	case KindPrivateBroadcast:
		return h.handlePrivateBroadcast(ctx, s, in)
	case KindPrivateUsers:
		return h.handlePrivateUsers(s, in)
	case KindPrivateExit:
		return h.handlePrivateExit(ctx, s, in)
	case KindUnknown, kindCount:
	}
	return errUnhandled
}

func (h *Hub) fail(s *Session, kind Kind, requestID string, err error) {
	ae := apperr.From(err)
	ev := log.Debug()
	if ae.Code == apperr.CodeInternal || ae.Code == apperr.CodeTransient {
		ev = log.Error()
	}
	ev.Err(err).Str("event", kind.String()).Str("user_id", s.userID).Str("conn_id", s.peer.ID()).Msg("hub event rejected")

	payload := ErrorPayload{Code: string(ae.Code), Message: ae.Message, Retryable: ae.Retryable}
	if kind != KindUnknown {
		payload.Event = kind.String()
	}
	s.peer.Send(Frame{Type: EvError, RequestID: requestID, Payload: payload})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperr.Validation("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Validation("invalid payload")
	}
	return nil
}

func reply(s *Session, in Inbound, typ string, payload any) {
	s.peer.Send(Frame{Type: typ, RequestID: in.RequestID, Payload: payload})
}

func send(p Peer, typ string, payload any) bool {
	return p.Send(Frame{Type: typ, Payload: payload})
}

// sendToUser 只投递给在线用户，离线时静默丢弃。
func (h *Hub) sendToUser(userID, typ string, payload any) bool {
	p, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	return send(p, typ, payload)
}

// authorize 校验载荷里声明的身份与连接认证身份一致；为空时取认证身份。
func authorize(s *Session, claimed string) (string, error) {
	if claimed == "" || claimed == s.userID {
		return s.userID, nil
	}
	return "", apperr.Forbidden("identity mismatch")
}

// goBackground 运行不阻塞事件处理的后台任务（推送等），Shutdown 会等待它们结束。
func (h *Hub) goBackground(name string, fn func(ctx context.Context)) {
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Interface("panic", r).Msg("hub background task panic")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

// Disconnect 按固定顺序执行断线清理：注册表与离线广播、通话、私密大厅、限流计数、订阅。
// 每一步独立兜底，前一步失败不影响后续步骤；重复调用是空操作。
func (h *Hub) Disconnect(ctx context.Context, s *Session) {
	if !s.markClosed() {
		return
	}
	metrics.WsConnections.WithLabelValues(s.ns.String()).Dec()

	var wasLive bool
	h.cleanupStep(s, "presence", func() { wasLive = h.leave(ctx, s) })
	h.cleanupStep(s, "call", func() {
		if wasLive {
			h.endCallsFor(s.userID, EvCallEnded, "disconnected")
		}
	})
	h.cleanupStep(s, "private", func() { h.leaveLobby(ctx, s) })
	h.cleanupStep(s, "rate", func() { h.budgets.Purge(s.peer.ID()) })
	h.cleanupStep(s, "subscriptions", func() { h.registry.Unsubscribe(s.peer) })
}

func (h *Hub) cleanupStep(s *Session, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("step", step).Str("user_id", s.userID).Str("conn_id", s.peer.ID()).Interface("panic", r).Msg("disconnect cleanup")
		}
	}()
	fn()
}

// Shutdown 停止全部通话计时器并等待后台任务结束。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.calls.StopTimers()
	done := make(chan struct{})
	go func() {
		h.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
