package hub

import (
	"encoding/json"
	"time"

	"chatbull/internal/models"
)

// Namespace 区分主通道（在线状态、聊天、通话）与私密模式通道。
type Namespace int

const (
	NamespaceMain Namespace = iota
	NamespacePrivate
)

func (n Namespace) String() string {
	if n == NamespacePrivate {
		return "private"
	}
	return "main"
}

// Kind 是入站事件的封闭枚举，线上的字符串名只在 ParseKind 处解析一次。
type Kind int

const (
	KindUnknown Kind = iota
	KindUserJoin
	KindUserSubscribeStatus
	KindUserStatusRequest
	KindMessageSend
	KindMessagesGet
	KindMessagesRead
	KindTypingStart
	KindTypingStop
	KindReactionAdd
	KindReactionRemove
	KindCallStart
	KindCallAccept
	KindCallSignal
	KindCallReject
	KindCallHangup
	KindCallEnd
	KindPrivateJoin
	KindPrivateSend
	KindPrivateBroadcast
	KindPrivateUsers
	KindPrivateExit
	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:             "",
	KindUserJoin:            "user:join",
	KindUserSubscribeStatus: "user:subscribe-status",
	KindUserStatusRequest:   "user:status-request",
	KindMessageSend:         "message:send",
	KindMessagesGet:         "messages:get",
	KindMessagesRead:        "messages:read",
	KindTypingStart:         "typing:start",
	KindTypingStop:          "typing:stop",
	KindReactionAdd:         "message:reaction:add",
	KindReactionRemove:      "message:reaction:remove",
	KindCallStart:           "call:start",
	KindCallAccept:          "call:accept",
	KindCallSignal:          "call:signal",
	KindCallReject:          "call:reject",
	KindCallHangup:          "call:hangup",
	KindCallEnd:             "call:end",
	KindPrivateJoin:         "private:join",
	KindPrivateSend:         "private:send",
	KindPrivateBroadcast:    "private:broadcast",
	KindPrivateUsers:        "private:users",
	KindPrivateExit:         "private:exit",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := KindUnknown + 1; k < kindCount; k++ {
		m[kindNames[k]] = k
	}
	return m
}()

func ParseKind(name string) Kind { return kindByName[name] }

func (k Kind) String() string {
	if k <= KindUnknown || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

func (k Kind) Namespace() Namespace {
	if k >= KindPrivateJoin {
		return NamespacePrivate
	}
	return NamespaceMain
}

// Inbound 是客户端发来的一帧；RequestID 会原样带回到对应的应答里。
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Frame 是发往客户端的一帧。
type Frame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// 出站事件名。
const (
	EvError = "error"

	EvUserJoined       = "user:joined"
	EvUserOnline       = "user:online"
	EvUserOffline      = "user:offline"
	EvStatusUpdate     = "user:status-update"
	EvStatusResponse   = "user:status-response"
	EvMessageReceive   = "message:receive"
	EvMessageSent      = "message:sent"
	EvMessagesHistory  = "messages:history"
	EvMessagesRead     = "messages:read"
	EvCallStarted      = "call:started"
	EvCallIncoming     = "call:incoming"
	EvCallAccepted     = "call:accepted"
	EvCallSignal       = "call:signal"
	EvCallConnected    = "call:connected"
	EvCallRejected     = "call:rejected"
	EvCallEnded        = "call:ended"
	EvCallBusy         = "call:busy"
	EvCallUnavailable  = "call:unavailable"
	EvPrivateJoined    = "private:joined"
	EvPrivateUserJoin  = "private:user-joined"
	EvPrivateUserLeft  = "private:user-left"
	EvPrivateReceive   = "private:receive"
	EvPrivateSent      = "private:sent"
	EvPrivateBroadcast = "private:broadcast"
	EvPrivateUsers     = "private:users"
	EvPrivateExited    = "private:exited"
)

type ErrorPayload struct {
	Event     string `json:"event,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// 主通道入站载荷。

type joinPayload struct {
	UserID string `json:"userId"`
}

type targetPayload struct {
	TargetID string `json:"targetId"`
}

type sendPayload struct {
	SenderID    string             `json:"senderId"`
	ReceiverID  string             `json:"receiverId,omitempty"`
	GroupID     string             `json:"groupId,omitempty"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"messageType"`
	IsPrivate   bool               `json:"isPrivate,omitempty"`
}

type historyPayload struct {
	UserID      string `json:"userId"`
	OtherUserID string `json:"otherUserId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

type readPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type typingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type reactionPayload struct {
	MessageID  string `json:"messageId"`
	Emoji      string `json:"emoji"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type callStartPayload struct {
	ReceiverID string   `json:"receiverId"`
	Type       CallType `json:"type"`
}

type callRefPayload struct {
	CallID string `json:"callId,omitempty"`
}

type callSignalPayload struct {
	CallID   string          `json:"callId,omitempty"`
	TargetID string          `json:"targetId"`
	Signal   json.RawMessage `json:"signal"`
}

// 主通道出站载荷。

type PresencePayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type JoinedPayload struct {
	UserID      string   `json:"userId"`
	OnlineUsers []string `json:"onlineUsers"`
}

type MessagePayload struct {
	Message models.Message `json:"message"`
}

type HistoryPayload struct {
	Messages []models.Message `json:"messages"`
}

type ReadReceiptPayload struct {
	SenderID string    `json:"senderId"`
	ReaderID string    `json:"readerId"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"readAt"`
}

type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type ReactionPayload struct {
	MessageID  string `json:"messageId"`
	Emoji      string `json:"emoji"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type CallPayload struct {
	CallID     string   `json:"callId"`
	CallerID   string   `json:"callerId,omitempty"`
	ReceiverID string   `json:"receiverId,omitempty"`
	Type       CallType `json:"type,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

type SignalPayload struct {
	CallID string          `json:"callId"`
	FromID string          `json:"fromId"`
	Signal json.RawMessage `json:"signal"`
}

// 私密通道载荷。

type privateJoinPayload struct {
	PublicKey string `json:"publicKey,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type privateSendPayload struct {
	SessionID     string `json:"sessionId"`
	ReceiverAlias string `json:"receiverAlias"`
	Content       string `json:"content"`
}

type privateSessionPayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content,omitempty"`
}

type PrivateJoinedPayload struct {
	SessionID string `json:"sessionId"`
	Alias     string `json:"alias"`
	Message   string `json:"message"`
}

type LobbyUser struct {
	Alias     string `json:"alias"`
	PublicKey string `json:"publicKey,omitempty"`
}

type PrivateUsersPayload struct {
	Users []LobbyUser `json:"users"`
}

type PrivateMessagePayload struct {
	ID            string    `json:"id"`
	SenderAlias   string    `json:"senderAlias"`
	ReceiverAlias string    `json:"receiverAlias,omitempty"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	IsSelf        bool      `json:"isSelf"`
}

type PrivateSentPayload struct {
	ID            string    `json:"id"`
	ReceiverAlias string    `json:"receiverAlias"`
	Delivered     bool      `json:"delivered"`
	CreatedAt     time.Time `json:"createdAt"`
}

type PrivateExitedPayload struct {
	SessionID          string `json:"sessionId"`
	WipedMessagesCount int64  `json:"wipedMessagesCount"`
	Reason             string `json:"reason,omitempty"`
}
