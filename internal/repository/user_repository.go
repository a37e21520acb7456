package repository

import (
	"context"
	"time"

	"chatrelay/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户数据仓储
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建UserRepository实例
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID 根据用户ID获取用户
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).First(&u, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByNickname 根据昵称获取用户（昵称列为 utf8mb4_bin，区分大小写）
func (r *UserRepository) GetByNickname(ctx context.Context, nickname string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).First(&u, "nickname = ?", nickname).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateNickname 更新昵称
// 唯一索引冲突由调用方翻译为业务错误
func (r *UserRepository) UpdateNickname(ctx context.Context, userID, nickname string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Update("nickname", nickname).Error
}

// TouchLastSeen 刷新最近连接时间
func (r *UserRepository) TouchLastSeen(ctx context.Context, userID string, t time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("user_id = ?", userID).
		Update("last_seen", t).Error
}

// AppendNicknameChange 追加一条昵称修改流水
func (r *UserRepository) AppendNicknameChange(ctx context.Context, userID string, t time.Time) error {
	return r.db.WithContext(ctx).Create(&model.NicknameChange{
		UserID:    userID,
		ChangedAt: t,
	}).Error
}

// CountNicknameChangesSince 统计某用户在cutoff之后（不含）的昵称修改次数
func (r *UserRepository) CountNicknameChangesSince(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.NicknameChange{}).
		Where("user_id = ? AND changed_at > ?", userID, cutoff).
		Count(&count).Error
	return count, err
}

// ListDMPartnerNicknames 列出与该用户有过私聊往来（任一方向）的所有用户昵称（去重）
func (r *UserRepository) ListDMPartnerNicknames(ctx context.Context, userID string) ([]string, error) {
	var nicknames []string
	err := r.db.WithContext(ctx).
		Table("user").
		Distinct("user.nickname").
		Joins("JOIN direct_message m ON (m.sender_id = user.user_id AND m.receiver_id = ?) OR (m.receiver_id = user.user_id AND m.sender_id = ?)",
			userID, userID).
		Pluck("user.nickname", &nicknames).Error
	return nicknames, err
}
