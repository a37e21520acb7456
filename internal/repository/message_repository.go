package repository

import (
	"context"

	"chatrelay/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 私聊消息数据仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 写入消息
func (r *MessageRepository) Create(ctx context.Context, message *model.DirectMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// GetByID 根据ID获取消息
func (r *MessageRepository) GetByID(ctx context.Context, id uint) (*model.DirectMessage, error) {
	var message model.DirectMessage
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// GetThread 获取两个用户之间的全部私聊消息（双向）
// 单条查询、sent_at 升序，id 作第二排序键保证时间戳相同时顺序稳定
func (r *MessageRepository) GetThread(ctx context.Context, userA, userB string) ([]*model.DirectMessage, error) {
	var messages []*model.DirectMessage

	err := r.db.WithContext(ctx).Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userA, userB, userB, userA,
	).
		Order("sent_at ASC, id ASC").
		Find(&messages).Error

	return messages, err
}

// DeleteOwned 删除消息，要求请求者是发送方或接收方之一
// 查不到（包括无权限的情况）统一返回 gorm.ErrRecordNotFound
func (r *MessageRepository) DeleteOwned(ctx context.Context, id uint, requesterID string) (*model.DirectMessage, error) {
	var message model.DirectMessage
	err := r.db.WithContext(ctx).
		Where("id = ? AND (sender_id = ? OR receiver_id = ?)", id, requesterID, requesterID).
		First(&message).Error
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Delete(&model.DirectMessage{}, message.ID).Error; err != nil {
		return nil, err
	}
	return &message, nil
}
