package store

import (
	"context"
	"strings"
	"time"

	"chatbull/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm 是基于 Postgres 的持久层实现。
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Gorm) CreateUser(ctx context.Context, u *models.User) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", u.Username).Count(&count).Error; err != nil {
		return errors.Wrap(err, "store.CreateUser.Count")
	}
	if count > 0 {
		return ErrConflict
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrConflict
		}
		return errors.Wrap(err, "store.CreateUser.Insert")
	}
	return nil
}

func (s *Gorm) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, errors.Wrap(notFound(err), "store.FindUserByID")
	}
	return &u, nil
}

func (s *Gorm) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, errors.Wrap(notFound(err), "store.FindUserByUsername")
	}
	return &u, nil
}

func (s *Gorm) UserExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "store.UserExists")
	}
	return count > 0, nil
}

func (s *Gorm) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	updates := map[string]any{"is_online": online}
	if !online {
		updates["last_seen"] = at
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
	return errors.Wrap(err, "store.SetPresence")
}

func (s *Gorm) SetDeviceToken(ctx context.Context, id, token string) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("device_token", token).Error
	return errors.Wrap(err, "store.SetDeviceToken")
}

func (s *Gorm) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	rt := models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return errors.Wrap(s.db.WithContext(ctx).Create(&rt).Error, "store.SaveRefreshToken")
}

// RotateRefreshToken 在同一事务中校验、吊销旧 token 并写入新 token。
func (s *Gorm) RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (string, error) {
	var userID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.RefreshToken
		now := time.Now()
		if err := tx.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", oldToken, now).First(&rec).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&models.RefreshToken{}).Where("id = ?", rec.ID).Update("revoked_at", &now).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.RefreshToken{UserID: rec.UserID, Token: newToken, ExpiresAt: expiresAt}).Error; err != nil {
			return err
		}
		userID = rec.UserID
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "store.RotateRefreshToken")
	}
	return userID, nil
}

func (s *Gorm) CreateGroup(ctx context.Context, g *models.Group, memberIDs []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		if len(memberIDs) == 0 {
			return nil
		}
		members := make([]models.GroupMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, models.GroupMember{GroupID: g.ID, UserID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	return errors.Wrap(err, "store.CreateGroup")
}

func (s *Gorm) GroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).Count(&exists).Error; err != nil {
		return nil, errors.Wrap(err, "store.GroupMemberIDs.Count")
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.GroupMember{}).Where("group_id = ?", groupID).Pluck("user_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "store.GroupMemberIDs.Pluck")
	}
	return ids, nil
}

func (s *Gorm) CreateMessage(ctx context.Context, m *models.Message) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(m).Error, "store.CreateMessage")
}

func (s *Gorm) ListMessages(ctx context.Context, q HistoryQuery) ([]models.Message, error) {
	tx := s.db.WithContext(ctx).Model(&models.Message{})
	if q.GroupID != "" {
		tx = tx.Where("group_id = ?", q.GroupID)
	} else {
		tx = tx.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			q.UserID, q.OtherUserID, q.OtherUserID, q.UserID)
	}
	var msgs []models.Message
	if err := tx.Order("created_at desc").Limit(q.limit()).Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "store.ListMessages")
	}
	reverse(msgs)
	return msgs, nil
}

func (s *Gorm) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "store.MarkRead")
	}
	return res.RowsAffected, nil
}

func (s *Gorm) CreateSession(ctx context.Context, sess *models.EphemeralSession) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(sess).Error, "store.CreateSession")
}

func (s *Gorm) FindSession(ctx context.Context, sessionID string) (*models.EphemeralSession, error) {
	var sess models.EphemeralSession
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
		return nil, errors.Wrap(notFound(err), "store.FindSession")
	}
	return &sess, nil
}

// EndSession 锁定会话行后再校验归属，随后在同一事务里删除会话及其全部私密消息。
func (s *Gorm) EndSession(ctx context.Context, sessionID, ownerID string) (int64, error) {
	var wiped int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.EphemeralSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
			return notFound(err)
		}
		if sess.OwnerID != ownerID {
			return ErrNotOwner
		}
		res := tx.Where("session_id = ?", sessionID).Delete(&models.PrivateMessage{})
		if res.Error != nil {
			return res.Error
		}
		wiped = res.RowsAffected
		return tx.Where("session_id = ?", sessionID).Delete(&models.EphemeralSession{}).Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "store.EndSession")
	}
	return wiped, nil
}

func (s *Gorm) CreatePrivateMessage(ctx context.Context, m *models.PrivateMessage) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(m).Error, "store.CreatePrivateMessage")
}

func (s *Gorm) CountPrivateMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.PrivateMessage{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, errors.Wrap(err, "store.CountPrivateMessages")
}

func (s *Gorm) DeletePrivateMessages(ctx context.Context, sessionID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.PrivateMessage{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "store.DeletePrivateMessages")
	}
	return res.RowsAffected, nil
}

// SweepExpired 删除过期的私密消息、过期会话以及这些会话名下尚未过期的消息。
func (s *Gorm) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var out SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.EphemeralSession{}).Select("session_id").Where("expires_at <= ?", now)
		res := tx.Where("expires_at <= ? OR session_id IN (?)", now, expired).Delete(&models.PrivateMessage{})
		if res.Error != nil {
			return res.Error
		}
		out.Messages = res.RowsAffected
		res = tx.Where("expires_at <= ?", now).Delete(&models.EphemeralSession{})
		if res.Error != nil {
			return res.Error
		}
		out.Sessions = res.RowsAffected
		return nil
	})
	if err != nil {
		return SweepResult{}, errors.Wrap(err, "store.SweepExpired")
	}
	return out, nil
}
