package hub

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chatbull/internal/apperr"
	"chatbull/internal/metrics"
	"chatbull/internal/models"
	"chatbull/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	broadcastAlias   = "*"
	joinedMessage    = "You are now anonymous. Messages are wiped when you leave."
	wipeRetries      = 3
	wipeRetryBackoff = 100 * time.Millisecond
)

// lobbyEntry 返回连接在大厅中的条目，并校验载荷中的 sessionId 属于该连接。
func (h *Hub) lobbyEntry(s *Session, sessionID string) (*LobbyEntry, error) {
	e, ok := h.lobby.ByConn(s.peer.ID())
	if !ok {
		return nil, apperr.Validation("private:join required")
	}
	if sessionID != "" && sessionID != e.SessionID {
		return nil, apperr.Forbidden("session does not belong to this connection")
	}
	return e, nil
}

func validPrivateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errMissing("content")
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return apperr.Validation("content too long")
	}
	return nil
}

func (h *Hub) handlePrivateJoin(ctx context.Context, s *Session, in Inbound) error {
	if e, ok := h.lobby.ByConn(s.peer.ID()); ok {
		reply(s, in, EvPrivateJoined, PrivateJoinedPayload{SessionID: e.SessionID, Alias: e.Alias, Message: joinedMessage})
		return nil
	}
	var p privateJoinPayload
	if len(in.Payload) > 0 {
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
	}

	ok, err := h.store.UserExists(ctx, s.userID)
	if err != nil {
		return apperr.Transient("lookup profile", err)
	}
	if !ok {
		return apperr.NotFound("profile not found")
	}

	now := h.opts.Now()
	entry := &LobbyEntry{OwnerID: s.userID, PublicKey: p.PublicKey, Peer: s.peer, JoinedAt: now}
	if p.SessionID != "" {
		sess, err := h.store.FindSession(ctx, p.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("session not found")
			}
			return apperr.Transient("lookup session", err)
		}
		if sess.OwnerID != s.userID {
			return apperr.Forbidden("session owned by another user")
		}
		if !sess.IsActive || !sess.ExpiresAt.After(now) {
			return apperr.NotFound("session expired")
		}
		entry.SessionID = sess.SessionID
		entry.Durable = true
	} else {
		entry.SessionID = uuid.NewString()
	}

	// 等待存储期间连接可能已经断开。
	if s.isClosed() {
		return nil
	}
	if !h.lobby.Add(entry) {
		return apperr.Validation("session already joined from another connection")
	}
	log.Info().Str("session_id", entry.SessionID).Bool("durable", entry.Durable).Msg("private session joined")

	reply(s, in, EvPrivateJoined, PrivateJoinedPayload{SessionID: entry.SessionID, Alias: entry.Alias, Message: joinedMessage})
	for _, other := range h.lobby.Others(s.peer.ID()) {
		send(other.Peer, EvPrivateUserJoin, LobbyUser{Alias: entry.Alias, PublicKey: entry.PublicKey})
	}
	return nil
}

// persistPrivate 写入私密消息；写入期间会话若已结束，立即删除刚写入的行。
func (h *Hub) persistPrivate(ctx context.Context, s *Session, e *LobbyEntry, receiverAlias, content string) (*models.PrivateMessage, error) {
	now := h.opts.Now()
	pm := &models.PrivateMessage{
		SessionID:     e.SessionID,
		SenderAlias:   e.Alias,
		ReceiverAlias: receiverAlias,
		Content:       content,
		CreatedAt:     now,
		ExpiresAt:     now.Add(h.opts.PrivateMessageTTL),
	}
	if err := h.store.CreatePrivateMessage(ctx, pm); err != nil {
		return nil, apperr.Transient("failed to save private message", err)
	}
	if cur, ok := h.lobby.ByConn(s.peer.ID()); !ok || cur != e {
		if _, err := h.wipe(ctx, e, "late-write"); err != nil {
			log.Error().Err(err).Str("session_id", e.SessionID).Msg("wipe late private write")
		}
		return nil, apperr.NotFound("private session ended")
	}
	return pm, nil
}

func (h *Hub) handlePrivateSend(ctx context.Context, s *Session, in Inbound) error {
	var p privateSendPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	e, err := h.lobbyEntry(s, p.SessionID)
	if err != nil {
		return err
	}
	if p.ReceiverAlias == "" {
		return errMissing("receiverAlias")
	}
	if err := validPrivateContent(p.Content); err != nil {
		return err
	}
	pm, err := h.persistPrivate(ctx, s, e, p.ReceiverAlias, p.Content)
	if err != nil {
		return err
	}

	// 找不到在线昵称时只保留持久化的消息，不推送。
	delivered := false
	if dst, ok := h.lobby.ByAlias(p.ReceiverAlias); ok && dst != e {
		delivered = send(dst.Peer, EvPrivateReceive, PrivateMessagePayload{
			ID: pm.ID, SenderAlias: e.Alias, ReceiverAlias: p.ReceiverAlias, Content: pm.Content, CreatedAt: pm.CreatedAt,
		})
	}
	reply(s, in, EvPrivateSent, PrivateSentPayload{ID: pm.ID, ReceiverAlias: p.ReceiverAlias, Delivered: delivered, CreatedAt: pm.CreatedAt})
	return nil
}

func (h *Hub) handlePrivateBroadcast(ctx context.Context, s *Session, in Inbound) error {
	var p privateSessionPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	e, err := h.lobbyEntry(s, p.SessionID)
	if err != nil {
		return err
	}
	if err := validPrivateContent(p.Content); err != nil {
		return err
	}
	pm, err := h.persistPrivate(ctx, s, e, broadcastAlias, p.Content)
	if err != nil {
		return err
	}
	out := PrivateMessagePayload{ID: pm.ID, SenderAlias: e.Alias, Content: pm.Content, CreatedAt: pm.CreatedAt}
	for _, other := range h.lobby.Others(s.peer.ID()) {
		send(other.Peer, EvPrivateBroadcast, out)
	}
	out.IsSelf = true
	reply(s, in, EvPrivateBroadcast, out)
	return nil
}

func (h *Hub) handlePrivateUsers(s *Session, in Inbound) error {
	var p privateSessionPayload
	if len(in.Payload) > 0 {
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
	}
	if _, err := h.lobbyEntry(s, p.SessionID); err != nil {
		return err
	}
	others := h.lobby.Others(s.peer.ID())
	users := make([]LobbyUser, 0, len(others))
	for _, e := range others {
		users = append(users, LobbyUser{Alias: e.Alias, PublicKey: e.PublicKey})
	}
	reply(s, in, EvPrivateUsers, PrivateUsersPayload{Users: users})
	return nil
}

func (h *Hub) handlePrivateExit(ctx context.Context, s *Session, in Inbound) error {
	var p privateSessionPayload
	if len(in.Payload) > 0 {
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
	}
	e, err := h.lobbyEntry(s, p.SessionID)
	if err != nil {
		return err
	}
	// 先擦除再确认；擦除失败时条目保留，客户端可重试。
	wiped, err := h.wipe(ctx, e, "exit")
	if err != nil {
		return err
	}
	h.removeFromLobby(e)
	reply(s, in, EvPrivateExited, PrivateExitedPayload{SessionID: e.SessionID, WipedMessagesCount: wiped})
	return nil
}

// leaveLobby 是断线路径：擦除失败时有限次重试，仍失败则交给 TTL 清扫兜底。
func (h *Hub) leaveLobby(ctx context.Context, s *Session) {
	e, ok := h.lobby.ByConn(s.peer.ID())
	if !ok {
		return
	}
	var err error
	for attempt := 1; attempt <= wipeRetries; attempt++ {
		if _, err = h.wipe(ctx, e, "disconnect"); err == nil {
			break
		}
		time.Sleep(time.Duration(attempt) * wipeRetryBackoff)
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", e.SessionID).Msg("private wipe failed on disconnect, ttl sweep will remove rows")
	}
	h.removeFromLobby(e)
}

func (h *Hub) removeFromLobby(e *LobbyEntry) {
	if !h.lobby.Remove(e) {
		return
	}
	for _, other := range h.lobby.Others(e.Peer.ID()) {
		send(other.Peer, EvPrivateUserLeft, LobbyUser{Alias: e.Alias})
	}
}

// wipe 删除会话的全部私密消息（持久会话连同会话记录），审计日志只记录数量。
func (h *Hub) wipe(ctx context.Context, e *LobbyEntry, reason string) (int64, error) {
	var (
		n   int64
		err error
	)
	if e.Durable {
		n, err = h.store.EndSession(ctx, e.SessionID, e.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			n, err = h.store.DeletePrivateMessages(ctx, e.SessionID)
		}
	} else {
		n, err = h.store.DeletePrivateMessages(ctx, e.SessionID)
	}
	if err != nil {
		return 0, apperr.Transient("failed to wipe private messages", err)
	}
	metrics.PrivateWipedTotal.Add(float64(n))
	log.Info().Str("session_id", e.SessionID).Int64("wiped", n).Str("reason", reason).Msg("private session wiped")
	return n, nil
}

// EvictSession 在会话经 REST 结束后把对应连接移出大厅，并再次擦除期间可能写入的消息。
func (h *Hub) EvictSession(ctx context.Context, sessionID string) int64 {
	e, ok := h.lobby.BySession(sessionID)
	if !ok {
		return 0
	}
	if !h.lobby.Remove(e) {
		return 0
	}
	n, err := h.store.DeletePrivateMessages(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("wipe evicted private session")
	} else if n > 0 {
		metrics.PrivateWipedTotal.Add(float64(n))
		log.Info().Str("session_id", sessionID).Int64("wiped", n).Str("reason", "evict").Msg("private session wiped")
	}
	send(e.Peer, EvPrivateExited, PrivateExitedPayload{SessionID: sessionID, WipedMessagesCount: n, Reason: "ended"})
	for _, other := range h.lobby.Others(e.Peer.ID()) {
		send(other.Peer, EvPrivateUserLeft, LobbyUser{Alias: e.Alias})
	}
	return n
}
