package service

import (
	"context"
	"errors"

	"chatbull/internal/apperr"
	"chatbull/internal/models"
	"chatbull/internal/store"
)

// MessageService 提供 REST 侧的历史消息查询，与 messages:get 的语义一致。
type MessageService struct {
	store store.Store
}

func NewMessageService(s store.Store) *MessageService {
	return &MessageService{store: s}
}

// History 返回单聊或群聊的最近消息，按时间升序（最新的在最后）。
func (s *MessageService) History(ctx context.Context, userID, otherUserID, groupID string, limit int) ([]models.Message, error) {
	if (otherUserID == "") == (groupID == "") {
		return nil, apperr.Validation("exactly one of otherUserId or groupId must be set")
	}
	if groupID != "" {
		if _, err := memberIDs(ctx, s.store, groupID, userID); err != nil {
			return nil, err
		}
	}
	msgs, err := s.store.ListMessages(ctx, store.HistoryQuery{
		UserID: userID, OtherUserID: otherUserID, GroupID: groupID, Limit: limit,
	})
	if err != nil {
		return nil, apperr.Transient("list messages", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
