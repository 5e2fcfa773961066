package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType 是消息内容的类别。
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
)

// Valid 判断是否为受支持的消息类型。
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageVideo, MessageDocument:
		return true
	}
	return false
}

// User 即用户的持久化资料；IsOnline/LastSeen 只是在线状态的滞后镜像，供 REST 读取。
type User struct {
	ID           string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string `gorm:"size:128"`
	DeviceToken  string `gorm:"size:512"`
	IsOnline     bool   `gorm:"not null;default:false"`
	LastSeen     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type Group struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128;not null"`
	OwnerID   string `gorm:"size:36;index;not null"`
	CreatedAt time.Time
}

func (g *Group) BeforeCreate(*gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

type GroupMember struct {
	GroupID   string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

// Message 恰好设置 ReceiverID 与 GroupID 之一；创建后只允许翻转 IsRead。
type Message struct {
	ID         string      `gorm:"primaryKey;size:36" json:"id"`
	SenderID   string      `gorm:"size:36;index:idx_msg_pair;not null" json:"senderId"`
	ReceiverID *string     `gorm:"size:36;index:idx_msg_pair" json:"receiverId,omitempty"`
	GroupID    *string     `gorm:"size:36;index" json:"groupId,omitempty"`
	Content    string      `gorm:"type:text;not null" json:"content"`
	Type       MessageType `gorm:"size:16;not null;default:text" json:"messageType"`
	IsRead     bool        `gorm:"not null;default:false" json:"isRead"`
	IsPrivate  bool        `gorm:"not null;default:false" json:"isPrivate"`
	CreatedAt  time.Time   `gorm:"index" json:"createdAt"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// EphemeralSession 是私密模式会话；ExpiresAt 建索引，由 TTL 清扫兜底删除。
type EphemeralSession struct {
	SessionID       string    `gorm:"primaryKey;size:36" json:"sessionId"`
	EphemeralUserID string    `gorm:"size:64;not null" json:"ephemeralUserId"`
	OwnerID         string    `gorm:"size:36;index;not null" json:"-"`
	ExpiresAt       time.Time `gorm:"index;not null" json:"expiresAt"`
	EncryptionKey   string    `gorm:"size:128" json:"-"`
	IsActive        bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

// PrivateMessage 随所属会话结束被整体删除，ExpiresAt 为独立的 TTL 兜底。
type PrivateMessage struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID     string    `gorm:"size:36;index;not null" json:"sessionId"`
	SenderAlias   string    `gorm:"size:64;not null" json:"senderAlias"`
	ReceiverAlias string    `gorm:"size:64;not null" json:"receiverAlias"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `gorm:"index;not null" json:"expiresAt"`
}

// DefaultPrivateMessageTTL 是未显式指定过期时间时私密消息的存活期。
const DefaultPrivateMessageTTL = 24 * time.Hour

func (m *PrivateMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ExpiresAt.IsZero() {
		m.ExpiresAt = m.CreatedAt.Add(DefaultPrivateMessageTTL)
	}
	return nil
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:36;index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
