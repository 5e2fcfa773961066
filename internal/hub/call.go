package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chatbull/internal/apperr"
	"chatbull/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool { return t == CallAudio || t == CallVideo }

// CallState 是单个用户视角下的通话状态。
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallIncoming
	CallConnecting
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallCalling:
		return "calling"
	case CallIncoming:
		return "incoming"
	case CallConnecting:
		return "connecting"
	case CallActive:
		return "active"
	}
	return "idle"
}

type callPhase int

const (
	phaseRinging callPhase = iota
	phaseConnecting
	phaseActive
)

// Call 是一次通话尝试，只存在于内存。
type Call struct {
	ID         string
	CallerID   string
	ReceiverID string
	Type       CallType
	StartedAt  time.Time

	phase callPhase
	timer *time.Timer
	gen   int
}

func (c *Call) peerOf(userID string) string {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

func (c *Call) payload(reason string) CallPayload {
	return CallPayload{CallID: c.ID, CallerID: c.CallerID, ReceiverID: c.ReceiverID, Type: c.Type, Reason: reason}
}

var (
	errCallerBusy   = errors.New("caller already in a call")
	errReceiverBusy = errors.New("receiver already in a call")
)

// Calls 保存进行中的通话，每个用户同一时刻最多参与一个。
type Calls struct {
	mu      sync.Mutex
	byID    map[string]*Call
	byUser  map[string]*Call
	stopped bool
}

func NewCalls() *Calls {
	return &Calls{byID: make(map[string]*Call), byUser: make(map[string]*Call)}
}

func (c *Calls) StateOf(userID string) CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byUser[userID]
	if !ok {
		return CallIdle
	}
	switch call.phase {
	case phaseRinging:
		if userID == call.CallerID {
			return CallCalling
		}
		return CallIncoming
	case phaseConnecting:
		return CallConnecting
	}
	return CallActive
}

func (c *Calls) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *Calls) begin(call *Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byUser[call.CallerID]; ok {
		return errCallerBusy
	}
	if _, ok := c.byUser[call.ReceiverID]; ok {
		return errReceiverBusy
	}
	c.byID[call.ID] = call
	c.byUser[call.CallerID] = call
	c.byUser[call.ReceiverID] = call
	return nil
}

// ofUser 返回用户当前的通话快照；callID 非空时必须匹配。
func (c *Calls) ofUser(userID, callID string) (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byUser[userID]
	if !ok || (callID != "" && call.ID != callID) {
		return Call{}, false
	}
	return *call, true
}

func (c *Calls) accept(userID, callID string) (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byUser[userID]
	if !ok || call.ReceiverID != userID || call.phase != phaseRinging {
		return Call{}, false
	}
	if callID != "" && call.ID != callID {
		return Call{}, false
	}
	call.phase = phaseConnecting
	return *call, true
}

// promote 把 connecting 的通话置为 active，只有第一次调用返回 true。
func (c *Calls) promote(callID string) (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byID[callID]
	if !ok || call.phase != phaseConnecting {
		return Call{}, false
	}
	call.phase = phaseActive
	call.gen++
	if call.timer != nil {
		call.timer.Stop()
		call.timer = nil
	}
	return *call, true
}

// arm 为通话设置新的超时，替换之前的计时器。
func (c *Calls) arm(callID string, d time.Duration, fire func(callID string, gen int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byID[callID]
	if !ok || c.stopped {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.gen++
	gen := call.gen
	call.timer = time.AfterFunc(d, func() { fire(callID, gen) })
}

// finish 删除通话；gen 不小于 0 时只有计时器代数一致才删除。
func (c *Calls) finish(callID string, gen int) (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.byID[callID]
	if !ok || (gen >= 0 && call.gen != gen) {
		return Call{}, false
	}
	if call.timer != nil {
		call.timer.Stop()
		call.timer = nil
	}
	delete(c.byID, callID)
	if c.byUser[call.CallerID] == call {
		delete(c.byUser, call.CallerID)
	}
	if c.byUser[call.ReceiverID] == call {
		delete(c.byUser, call.ReceiverID)
	}
	return *call, true
}

// StopTimers 停止所有计时器，之后不再设置新的计时器。
func (c *Calls) StopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for _, call := range c.byID {
		if call.timer != nil {
			call.timer.Stop()
			call.timer = nil
		}
	}
}

func (h *Hub) armCall(callID string, d time.Duration) {
	h.calls.arm(callID, d, h.expireCall)
}

func (h *Hub) expireCall(callID string, gen int) {
	call, ok := h.calls.finish(callID, gen)
	if !ok {
		return
	}
	metrics.CallsTotal.WithLabelValues("timeout").Inc()
	log.Info().Str("call_id", call.ID).Str("phase", call.stateName()).Msg("call timed out")
	p := call.payload("timeout")
	h.sendToUser(call.CallerID, EvCallEnded, p)
	h.sendToUser(call.ReceiverID, EvCallEnded, p)
}

func (c *Call) stateName() string {
	switch c.phase {
	case phaseRinging:
		return "ringing"
	case phaseConnecting:
		return "connecting"
	}
	return "active"
}

func (h *Hub) handleCallStart(ctx context.Context, s *Session, in Inbound) error {
	var p callStartPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	if p.ReceiverID == "" {
		return errMissing("receiverId")
	}
	if p.Type == "" {
		p.Type = CallAudio
	}
	if !p.Type.Valid() {
		return apperr.Validation("type must be audio or video")
	}
	if p.ReceiverID == s.userID {
		return apperr.Validation("cannot call yourself")
	}
	if h.calls.StateOf(s.userID) != CallIdle {
		return apperr.Validation("already in a call")
	}

	dst, ok := h.registry.Lookup(p.ReceiverID)
	if !ok {
		// 不排队来电邀请，只给主叫回执并补发一条未接来电推送。
		metrics.CallsTotal.WithLabelValues("unavailable").Inc()
		reply(s, in, EvCallUnavailable, CallPayload{CallerID: s.userID, ReceiverID: p.ReceiverID, Type: p.Type, Reason: "offline"})
		h.notifyMissedCall(s.userID, p.ReceiverID, p.Type)
		return nil
	}

	call := &Call{ID: uuid.NewString(), CallerID: s.userID, ReceiverID: p.ReceiverID, Type: p.Type, StartedAt: h.opts.Now()}
	switch err := h.calls.begin(call); {
	case errors.Is(err, errCallerBusy):
		return apperr.Validation("already in a call")
	case errors.Is(err, errReceiverBusy):
		metrics.CallsTotal.WithLabelValues("busy").Inc()
		reply(s, in, EvCallBusy, CallPayload{CallerID: s.userID, ReceiverID: p.ReceiverID, Type: p.Type, Reason: "busy"})
		return nil
	}
	h.armCall(call.ID, h.opts.CallRingTimeout)

	reply(s, in, EvCallStarted, call.payload(""))
	if !send(dst, EvCallIncoming, call.payload("")) {
		if ended, ok := h.calls.finish(call.ID, -1); ok {
			metrics.CallsTotal.WithLabelValues("unavailable").Inc()
			send(s.peer, EvCallEnded, ended.payload("unavailable"))
		}
	}
	log.Debug().Str("call_id", call.ID).Str("caller_id", call.CallerID).Str("receiver_id", call.ReceiverID).Msg("call started")
	return nil
}

func (h *Hub) notifyMissedCall(callerID, receiverID string, t CallType) {
	h.goBackground("push", func(ctx context.Context) {
		u, err := h.store.FindUserByID(ctx, receiverID)
		if err != nil || u.DeviceToken == "" {
			return
		}
		title := "Missed call"
		if caller, err := h.store.FindUserByID(ctx, callerID); err == nil {
			title = "Missed " + string(t) + " call from " + caller.Username
		}
		if _, err := h.notifier.Send(ctx, u.DeviceToken, title, ""); err != nil {
			log.Warn().Err(err).Str("user_id", receiverID).Msg("missed call push")
		}
	})
}

func (h *Hub) handleCallAccept(s *Session, in Inbound) error {
	var p callRefPayload
	if len(in.Payload) > 0 {
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
	}
	call, ok := h.calls.accept(s.userID, p.CallID)
	if !ok {
		return apperr.Validation("no incoming call to accept")
	}
	h.armCall(call.ID, h.opts.CallConnectTimeout)
	h.sendToUser(call.CallerID, EvCallAccepted, call.payload(""))
	reply(s, in, EvCallAccepted, call.payload(""))
	return nil
}

// signalKind 只读取信令的 type 字段，其余内容原样转发。
func signalKind(raw json.RawMessage) string {
	var v struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Type
}

func (h *Hub) handleCallSignal(s *Session, in Inbound) error {
	var p callSignalPayload
	if err := decode(in.Payload, &p); err != nil {
		return err
	}
	if p.TargetID == "" {
		return errMissing("targetId")
	}
	if len(p.Signal) == 0 {
		return errMissing("signal")
	}
	call, ok := h.calls.ofUser(s.userID, p.CallID)
	if !ok || call.peerOf(s.userID) != p.TargetID {
		return apperr.Validation("no call with target")
	}
	if call.phase == phaseRinging {
		return apperr.Validation("call not accepted")
	}
	if !h.sendToUser(p.TargetID, EvCallSignal, SignalPayload{CallID: call.ID, FromID: s.userID, Signal: p.Signal}) {
		return nil
	}
	if signalKind(p.Signal) != "answer" {
		return nil
	}
	if active, ok := h.calls.promote(call.ID); ok {
		h.sendToUser(active.CallerID, EvCallConnected, active.payload(""))
		h.sendToUser(active.ReceiverID, EvCallConnected, active.payload(""))
	}
	return nil
}

// handleCallFinish 处理拒接、挂断与结束；当前没有通话时是空操作。
func (h *Hub) handleCallFinish(s *Session, kind Kind, in Inbound) error {
	var p callRefPayload
	if len(in.Payload) > 0 {
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
	}
	cur, ok := h.calls.ofUser(s.userID, p.CallID)
	if !ok {
		return nil
	}
	call, ok := h.calls.finish(cur.ID, -1)
	if !ok {
		return nil
	}

	ev, reason, outcome := EvCallEnded, "ended", "completed"
	switch {
	case call.phase == phaseRinging && s.userID == call.ReceiverID:
		ev, reason, outcome = EvCallRejected, "rejected", "rejected"
	case call.phase == phaseRinging:
		reason, outcome = "cancelled", "cancelled"
	case kind == KindCallHangup:
		reason = "hangup"
	}
	metrics.CallsTotal.WithLabelValues(outcome).Inc()
	h.sendToUser(call.peerOf(s.userID), ev, call.payload(reason))
	reply(s, in, EvCallEnded, call.payload(reason))
	return nil
}

// endCallsFor 结束用户参与的通话并通知对方，用于断线清理。
func (h *Hub) endCallsFor(userID, ev, reason string) {
	cur, ok := h.calls.ofUser(userID, "")
	if !ok {
		return
	}
	call, ok := h.calls.finish(cur.ID, -1)
	if !ok {
		return
	}
	metrics.CallsTotal.WithLabelValues(reason).Inc()
	h.sendToUser(call.peerOf(userID), ev, call.payload(reason))
}
