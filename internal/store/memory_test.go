package store

import (
	"context"
	"testing"
	"time"

	"chatbull/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestMemory_EndSessionWipesEveryMessage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	require.NoError(t, m.CreateSession(ctx, &models.EphemeralSession{SessionID: "s1", OwnerID: "owner", ExpiresAt: now.Add(time.Hour), IsActive: true}))
	for i := 0; i < 7; i++ {
		require.NoError(t, m.CreatePrivateMessage(ctx, &models.PrivateMessage{SessionID: "s1", SenderAlias: "a", ReceiverAlias: "b", Content: "x"}))
	}
	require.NoError(t, m.CreatePrivateMessage(ctx, &models.PrivateMessage{SessionID: "other", SenderAlias: "a", ReceiverAlias: "b", Content: "x"}))

	_, err := m.EndSession(ctx, "s1", "intruder")
	assert.ErrorIs(t, err, ErrNotOwner)
	n, _ := m.CountPrivateMessages(ctx, "s1")
	assert.EqualValues(t, 7, n, "a rejected end must not mutate anything")

	wiped, err := m.EndSession(ctx, "s1", "owner")
	require.NoError(t, err)
	assert.EqualValues(t, 7, wiped)

	n, _ = m.CountPrivateMessages(ctx, "s1")
	assert.Zero(t, n)
	n, _ = m.CountPrivateMessages(ctx, "other")
	assert.EqualValues(t, 1, n)

	_, err = m.EndSession(ctx, "s1", "owner")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListMessagesMostRecentLast(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	for i := 0; i < HistoryLimit+20; i++ {
		msg := &models.Message{SenderID: "a", ReceiverID: ptr("b"), Content: "m", Type: models.MessageText}
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, m.CreateMessage(ctx, msg))
	}
	require.NoError(t, m.CreateMessage(ctx, &models.Message{SenderID: "a", ReceiverID: ptr("c"), Content: "elsewhere"}))

	msgs, err := m.ListMessages(ctx, HistoryQuery{UserID: "b", OtherUserID: "a"})
	require.NoError(t, err)
	require.Len(t, msgs, HistoryLimit)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[len(msgs)-1].CreatedAt))
	assert.Equal(t, base.Add(time.Duration(HistoryLimit+19)*time.Second), msgs[len(msgs)-1].CreatedAt)
}

func TestMemory_MarkRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateMessage(ctx, &models.Message{SenderID: "a", ReceiverID: ptr("b"), Content: "1"}))
	require.NoError(t, m.CreateMessage(ctx, &models.Message{SenderID: "a", ReceiverID: ptr("b"), Content: "2"}))
	require.NoError(t, m.CreateMessage(ctx, &models.Message{SenderID: "b", ReceiverID: ptr("a"), Content: "3"}))

	n, err := m.MarkRead(ctx, "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = m.MarkRead(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_RemovesExpiredSessionsAndMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	require.NoError(t, m.CreateSession(ctx, &models.EphemeralSession{SessionID: "old", OwnerID: "o", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, m.CreateSession(ctx, &models.EphemeralSession{SessionID: "live", OwnerID: "o", ExpiresAt: now.Add(time.Hour)}))
	// 会话已过期但消息自身尚未过期，也必须随会话一起删除。
	require.NoError(t, m.CreatePrivateMessage(ctx, &models.PrivateMessage{SessionID: "old", Content: "x", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, m.CreatePrivateMessage(ctx, &models.PrivateMessage{SessionID: "live", Content: "stale", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, m.CreatePrivateMessage(ctx, &models.PrivateMessage{SessionID: "live", Content: "fresh"}))

	var seen SweepResult
	sw := NewSweeper(m, time.Minute, func(r SweepResult) { seen = r })
	res := sw.SweepOnce(ctx)

	assert.Equal(t, SweepResult{Sessions: 1, Messages: 2}, res)
	assert.Equal(t, res, seen)
	assert.Equal(t, []string{"live"}, m.SessionIDs())
	n, _ := m.CountPrivateMessages(ctx, "live")
	assert.EqualValues(t, 1, n)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(NewMemory(), time.Millisecond, nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
