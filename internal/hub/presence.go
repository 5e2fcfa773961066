package hub

import (
	"context"

	"github.com/rs/zerolog/log"
)

func (h *Hub) handleJoin(ctx context.Context, s *Session, in Inbound) error {
	var p joinPayload
	if len(in.Payload) > 0 {
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
	}
	userID, err := authorize(s, p.UserID)
	if err != nil {
		return err
	}

	if prev := h.registry.Join(userID, s.peer); prev != nil {
		log.Info().Str("user_id", userID).Str("replaced_conn", prev.ID()).Str("conn_id", s.peer.ID()).Msg("presence handle replaced")
	}
	s.setJoined()

	// 持久化只是给 REST 读取的镜像，失败不影响内存状态与广播。
	if err := h.store.SetPresence(ctx, userID, true, h.opts.Now()); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("persist presence online")
	}

	h.broadcastPresence(s.peer, PresencePayload{UserID: userID, IsOnline: true})
	reply(s, in, EvUserJoined, JoinedPayload{UserID: userID, OnlineUsers: h.registry.Online()})
	return nil
}

// leave 在连接是该用户当前句柄时移除它并广播离线；返回是否真的移除。
func (h *Hub) leave(ctx context.Context, s *Session) bool {
	userID, ok := h.registry.Remove(s.peer)
	if !ok {
		return false
	}
	// 同一用户已有新连接时不广播离线。
	if h.registry.IsOnline(userID) {
		return false
	}
	now := h.opts.Now()
	if err := h.store.SetPresence(ctx, userID, false, now); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("persist presence offline")
	}
	h.broadcastPresence(s.peer, PresencePayload{UserID: userID, IsOnline: false, LastSeen: &now})
	return true
}

func (h *Hub) broadcastPresence(origin Peer, p PresencePayload) {
	typ := EvUserOffline
	if p.IsOnline {
		typ = EvUserOnline
	}
	for _, peer := range h.registry.Peers() {
		if peer.ID() == origin.ID() {
			continue
		}
		send(peer, typ, p)
	}
	for _, sub := range h.registry.Subscribers(p.UserID) {
		if sub.ID() == origin.ID() {
			continue
		}
		send(sub, EvStatusUpdate, p)
	}
}

func (h *Hub) statusOf(targetID string) PresencePayload {
	return PresencePayload{UserID: targetID, IsOnline: h.registry.IsOnline(targetID)}
}

func (h *Hub) handleSubscribeStatus(s *Session, in Inbound) error {
	var p targetPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	if p.TargetID == "" {
		return errMissing("targetId")
	}
	h.registry.Subscribe(p.TargetID, s.peer)
	reply(s, in, EvStatusUpdate, h.statusOf(p.TargetID))
	return nil
}

func (h *Hub) handleStatusRequest(s *Session, in Inbound) error {
	var p targetPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	if p.TargetID == "" {
		return errMissing("targetId")
	}
	reply(s, in, EvStatusResponse, h.statusOf(p.TargetID))
	return nil
}
