package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatrelay/internal/model"

	"gorm.io/gorm"
)

// messageStore 私聊服务依赖的存储能力，由 repository.MessageRepository 实现
type messageStore interface {
	Create(ctx context.Context, message *model.DirectMessage) error
	GetThread(ctx context.Context, userA, userB string) ([]*model.DirectMessage, error)
	DeleteOwned(ctx context.Context, id uint, requesterID string) (*model.DirectMessage, error)
}

// userFinder 昵称解析能力，由 repository.UserRepository 实现
type userFinder interface {
	GetByID(ctx context.Context, userID string) (*model.User, error)
	GetByNickname(ctx context.Context, nickname string) (*model.User, error)
}

// DMService 私聊消息服务
// 消息持久化后由会话层负责投递（发送方必达，接收方在线才推送；
// 不在线则仅落库，等对方下次拉取会话时可见）
type DMService struct {
	messages messageStore
	users    userFinder
}

// NewDMService 创建DMService实例
func NewDMService(messages messageStore, users userFinder) *DMService {
	return &DMService{messages: messages, users: users}
}

// ThreadMessage 对外输出的私聊消息，昵称已解析
type ThreadMessage struct {
	ID               uint      `json:"id"`
	SenderID         string    `json:"sender_id"`
	SenderNickname   string    `json:"sender_nickname"`
	ReceiverID       string    `json:"receiver_id"`
	ReceiverNickname string    `json:"receiver_nickname"`
	Body             string    `json:"body"`
	Kind             string    `json:"kind"`
	SentAt           time.Time `json:"sent_at"`
}

// Send 发送私聊消息
// 接收者按昵称解析，解析失败返回 ErrRecipientNotFound；成功后返回带持久化ID的消息
func (s *DMService) Send(ctx context.Context, senderID, receiverNickname, body, kind string) (*model.DirectMessage, error) {
	receiverNickname = strings.TrimSpace(receiverNickname)
	if senderID == "" || receiverNickname == "" || body == "" {
		return nil, ErrInvalidInput
	}

	receiver, err := s.users.GetByNickname(ctx, receiverNickname)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	message := &model.DirectMessage{
		SenderID:   senderID,
		ReceiverID: receiver.UserID,
		Body:       body,
		Kind:       model.ValidKind(kind),
		SentAt:     time.Now(),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// LoadThreadWith 按对方昵称拉取完整会话（双向、sent_at 升序）
// 返回的消息已解析双方昵称
func (s *DMService) LoadThreadWith(ctx context.Context, userID, partnerNickname string) ([]ThreadMessage, *model.User, error) {
	partner, err := s.users.GetByNickname(ctx, strings.TrimSpace(partnerNickname))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRecipientNotFound
		}
		return nil, nil, err
	}

	self, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.messages.GetThread(ctx, userID, partner.UserID)
	if err != nil {
		return nil, nil, err
	}

	nicknames := map[string]string{
		self.UserID:    self.Nickname,
		partner.UserID: partner.Nickname,
	}

	out := make([]ThreadMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, ThreadMessage{
			ID:               m.ID,
			SenderID:         m.SenderID,
			SenderNickname:   nicknames[m.SenderID],
			ReceiverID:       m.ReceiverID,
			ReceiverNickname: nicknames[m.ReceiverID],
			Body:             m.Body,
			Kind:             m.Kind,
			SentAt:           m.SentAt,
		})
	}
	return out, partner, nil
}

// DeleteOwned 删除单条私聊消息
// 仅发送方或接收方可删除；非当事人与消息不存在同样返回 ErrNotFound
func (s *DMService) DeleteOwned(ctx context.Context, id uint, requesterID string) (*model.DirectMessage, error) {
	message, err := s.messages.DeleteOwned(ctx, id, requesterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return message, nil
}
