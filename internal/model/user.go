package model

import (
	"time"
)

// User 用户模型
// UserID 由客户端自带（稳定的不透明标识），作为主键
// Nickname 全局唯一且区分大小写，唯一索引是昵称冲突的最终防线
// （预检查只是建议性的，并发下仍可能在写入时撞唯一约束）
// LastSeen 每次成功连接时刷新

type User struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64);comment:客户端自带的稳定标识"`
	Nickname  string    `gorm:"type:varchar(64) COLLATE utf8mb4_bin;not null;uniqueIndex;comment:昵称(区分大小写,全局唯一)"`
	LastSeen  time.Time `gorm:"comment:最近连接时间"`
	CreatedAt time.Time `gorm:"comment:创建时间"`
	UpdatedAt time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名（全局配置使用单数表名）
func (User) TableName() string { return "user" }

// NicknameChange 昵称修改流水
// 每次改名成功追加一条，仅用作滑动窗口限频的依据，永不清理

type NicknameChange struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"type:varchar(64);not null;index;comment:用户ID"`
	ChangedAt time.Time `gorm:"not null;index;comment:修改时间"`

	User User `gorm:"foreignKey:UserID;references:UserID;constraint:OnDelete:CASCADE"`
}

func (NicknameChange) TableName() string { return "nickname_change" }
