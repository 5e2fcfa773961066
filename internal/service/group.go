package service

import (
	"context"
	"strings"

	"chatbull/internal/apperr"
	"chatbull/internal/models"
	"chatbull/internal/store"
)

// Presence 报告用户当前是否有活动连接。
type Presence interface {
	IsOnline(userID string) bool
}

// GroupService 封装群组相关的业务逻辑。
type GroupService struct {
	store    store.Store
	presence Presence
}

func NewGroupService(s store.Store, presence Presence) *GroupService {
	return &GroupService{store: s, presence: presence}
}

type MemberDTO struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// GroupDTO 是对外输出的群组数据。
type GroupDTO struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Members []MemberDTO `json:"members"`
}

// Create 创建群组，创建者自动成为成员。
func (s *GroupService) Create(ctx context.Context, ownerID, name string, memberIDs []string) (*GroupDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("invalid payload")
	}
	if len(name) > 128 {
		return nil, apperr.Validation("invalid group name")
	}
	ids := []string{ownerID}
	seen := map[string]bool{ownerID: true}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		ok, err := s.store.UserExists(ctx, id)
		if err != nil {
			return nil, apperr.Transient("lookup member", err)
		}
		if !ok {
			return nil, apperr.NotFound("member " + id + " not found")
		}
		seen[id] = true
		ids = append(ids, id)
	}
	g := models.Group{Name: name, OwnerID: ownerID}
	if err := s.store.CreateGroup(ctx, &g, ids); err != nil {
		return nil, apperr.Transient("create group", err)
	}
	return &GroupDTO{ID: g.ID, Name: g.Name, Members: s.members(ids)}, nil
}

// Members 返回群成员及其在线状态，调用者必须是成员。
func (s *GroupService) Members(ctx context.Context, userID, groupID string) ([]MemberDTO, error) {
	ids, err := memberIDs(ctx, s.store, groupID, userID)
	if err != nil {
		return nil, err
	}
	return s.members(ids), nil
}

func (s *GroupService) members(ids []string) []MemberDTO {
	out := make([]MemberDTO, 0, len(ids))
	for _, id := range ids {
		out = append(out, MemberDTO{UserID: id, Online: s.presence.IsOnline(id)})
	}
	return out
}

func memberIDs(ctx context.Context, s store.Store, groupID, userID string) ([]string, error) {
	ids, err := s.GroupMemberIDs(ctx, groupID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, apperr.Transient("load group members", err)
	}
	for _, id := range ids {
		if id == userID {
			return ids, nil
		}
	}
	return nil, ErrNotGroupMember
}
