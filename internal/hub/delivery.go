package hub

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"chatbull/internal/apperr"
	"chatbull/internal/metrics"
	"chatbull/internal/models"
	"chatbull/internal/push"
	"chatbull/internal/store"

	"github.com/rs/zerolog/log"
)

const maxContentRunes = 10000

func errMissing(field string) error { return apperr.Validation(field + " is required") }

// target 表示单聊或群聊目标，二者恰好其一。
type target struct {
	receiverID string
	groupID    string
}

func newTarget(receiverID, groupID string) (target, error) {
	switch {
	case receiverID != "" && groupID != "":
		return target{}, apperr.Validation("exactly one of receiverId or groupId must be set")
	case receiverID == "" && groupID == "":
		return target{}, apperr.Validation("receiverId or groupId is required")
	}
	return target{receiverID: receiverID, groupID: groupID}, nil
}

// groupMembers 返回群成员，并要求 userID 是其中之一。
func (h *Hub) groupMembers(ctx context.Context, groupID, userID string) ([]string, error) {
	ids, err := h.store.GroupMemberIDs(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("group not found")
		}
		return nil, apperr.Transient("load group members", err)
	}
	for _, id := range ids {
		if id == userID {
			return ids, nil
		}
	}
	return nil, apperr.Forbidden("not a member of this group")
}

// recipients 解析除发送者外的目标用户。
func (h *Hub) recipients(ctx context.Context, t target, senderID string) ([]string, error) {
	if t.receiverID != "" {
		return []string{t.receiverID}, nil
	}
	members, err := h.groupMembers(ctx, t.groupID, senderID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (h *Hub) handleMessageSend(ctx context.Context, s *Session, in Inbound) error {
	var p sendPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	senderID, err := authorize(s, p.SenderID)
	if err != nil {
		return err
	}
	t, err := newTarget(p.ReceiverID, p.GroupID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Content) == "" {
		return errMissing("content")
	}
	if utf8.RuneCountInString(p.Content) > maxContentRunes {
		return apperr.Validation("content too long")
	}
	if p.MessageType == "" {
		p.MessageType = models.MessageText
	}
	if !p.MessageType.Valid() {
		return apperr.Validation("unsupported messageType")
	}
	if t.receiverID != "" {
		ok, err := h.store.UserExists(ctx, t.receiverID)
		if err != nil {
			return apperr.Transient("lookup receiver", err)
		}
		if !ok {
			return apperr.NotFound("receiver not found")
		}
	} else if _, err := h.groupMembers(ctx, t.groupID, senderID); err != nil {
		return err
	}

	msg := models.Message{
		SenderID:  senderID,
		Content:   p.Content,
		Type:      p.MessageType,
		IsPrivate: p.IsPrivate,
		CreatedAt: h.opts.Now(),
	}
	if t.receiverID != "" {
		msg.ReceiverID = &t.receiverID
	} else {
		msg.GroupID = &t.groupID
	}
	// 持久化是可靠性边界：失败时只通知发送者，不扇出。
	if err := h.store.CreateMessage(ctx, &msg); err != nil {
		return apperr.Transient("failed to save message", err)
	}
	metrics.WsMessagesTotal.Inc()

	// 扇出目标在持久化之后重新解析，以当时在线的连接为准。
	to, err := h.recipients(ctx, t, senderID)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("resolve recipients after persist")
		to = nil
	}
	var offline []string
	for _, id := range to {
		if !h.sendToUser(id, EvMessageReceive, MessagePayload{Message: msg}) {
			offline = append(offline, id)
		}
	}
	reply(s, in, EvMessageSent, MessagePayload{Message: msg})

	if len(offline) > 0 && !msg.IsPrivate {
		h.notifyOffline(senderID, offline, msg)
	}
	return nil
}

// notifyOffline 为离线接收者发推送，结果只记日志。
func (h *Hub) notifyOffline(senderID string, userIDs []string, msg models.Message) {
	h.goBackground("push", func(ctx context.Context) {
		title := "New message"
		if sender, err := h.store.FindUserByID(ctx, senderID); err == nil {
			title = sender.DisplayName
			if title == "" {
				title = sender.Username
			}
		}
		body := push.Preview(msg.Content, 80)
		if msg.Type != models.MessageText {
			body = "Sent you a " + string(msg.Type)
		}
		for _, id := range userIDs {
			u, err := h.store.FindUserByID(ctx, id)
			if err != nil || u.DeviceToken == "" {
				continue
			}
			res, err := h.notifier.Send(ctx, u.DeviceToken, title, body)
			if err != nil || !res.Success {
				log.Warn().Err(err).Str("user_id", id).Str("push_error", res.Error).Msg("push notification")
				continue
			}
			log.Debug().Str("user_id", id).Str("push_id", res.ID).Msg("push notification sent")
		}
	})
}

func (h *Hub) handleMessagesGet(ctx context.Context, s *Session, in Inbound) error {
	var p historyPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	userID, err := authorize(s, p.UserID)
	if err != nil {
		return err
	}
	if _, err := newTarget(p.OtherUserID, p.GroupID); err != nil {
		return err
	}
	if p.GroupID != "" {
		if _, err := h.groupMembers(ctx, p.GroupID, userID); err != nil {
			return err
		}
	}
	msgs, err := h.store.ListMessages(ctx, store.HistoryQuery{
		UserID: userID, OtherUserID: p.OtherUserID, GroupID: p.GroupID, Limit: store.HistoryLimit,
	})
	if err != nil {
		return apperr.Transient("failed to load messages", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	reply(s, in, EvMessagesHistory, HistoryPayload{Messages: msgs})
	return nil
}

// handleMessagesRead 由接收者调用：批量置已读，若原发送者在线则推送回执（尽力而为）。
func (h *Hub) handleMessagesRead(ctx context.Context, s *Session, in Inbound) error {
	var p readPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	if p.SenderID == "" {
		return errMissing("senderId")
	}
	readerID, err := authorize(s, p.ReceiverID)
	if err != nil {
		return err
	}
	n, err := h.store.MarkRead(ctx, p.SenderID, readerID)
	if err != nil {
		return apperr.Transient("failed to mark messages read", err)
	}
	h.sendToUser(p.SenderID, EvMessagesRead, ReadReceiptPayload{
		SenderID: p.SenderID, ReaderID: readerID, Count: n, ReadAt: h.opts.Now(),
	})
	return nil
}

// relay 把事件转发给单个接收者或群内其他在线成员，不做持久化也不排队。
func (h *Hub) relay(ctx context.Context, senderID string, t target, typ string, payload any) error {
	to, err := h.recipients(ctx, t, senderID)
	if err != nil {
		return err
	}
	for _, id := range to {
		h.sendToUser(id, typ, payload)
	}
	return nil
}

func (h *Hub) handleTyping(ctx context.Context, s *Session, kind Kind, in Inbound) error {
	var p typingPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	senderID, err := authorize(s, p.SenderID)
	if err != nil {
		return err
	}
	t, err := newTarget(p.ReceiverID, p.GroupID)
	if err != nil {
		return err
	}
	return h.relay(ctx, senderID, t, kind.String(), TypingPayload{
		SenderID: senderID, ReceiverID: p.ReceiverID, GroupID: p.GroupID,
	})
}

func (h *Hub) handleReaction(ctx context.Context, s *Session, kind Kind, in Inbound) error {
	var p reactionPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	senderID, err := authorize(s, p.SenderID)
	if err != nil {
		return err
	}
	if p.MessageID == "" {
		return errMissing("messageId")
	}
	if p.Emoji == "" {
		return errMissing("emoji")
	}
	t, err := newTarget(p.ReceiverID, p.GroupID)
	if err != nil {
		return err
	}
	return h.relay(ctx, senderID, t, kind.String(), ReactionPayload{
		MessageID: p.MessageID, Emoji: p.Emoji, SenderID: senderID, ReceiverID: p.ReceiverID, GroupID: p.GroupID,
	})
}
