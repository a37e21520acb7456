package model

import (
	"time"
)

// 消息类型
const (
	KindText  = "text"
	KindImage = "image"
	KindLink  = "link"
)

// ValidKind 校验消息类型，未知类型按 text 处理
func ValidKind(kind string) string {
	switch kind {
	case KindText, KindImage, KindLink:
		return kind
	default:
		return KindText
	}
}

// DirectMessage 私聊消息模型
// 追加写入，从不更新；双方任意一方可单条删除（硬删除）
// 外键级联：用户被删除时其私聊消息一并删除

type DirectMessage struct {
	ID         uint      `gorm:"primaryKey"`
	SenderID   string    `gorm:"type:varchar(64);not null;index;comment:发送者ID"`
	ReceiverID string    `gorm:"type:varchar(64);not null;index;comment:接收者ID"`
	Body       string    `gorm:"type:text;not null;comment:消息内容"`
	Kind       string    `gorm:"type:varchar(16);not null;default:'text';comment:消息类型(text/image/link)"`
	SentAt     time.Time `gorm:"not null;index;comment:发送时间"`

	Sender   User `gorm:"foreignKey:SenderID;references:UserID;constraint:OnDelete:CASCADE"`
	Receiver User `gorm:"foreignKey:ReceiverID;references:UserID;constraint:OnDelete:CASCADE"`
}

func (DirectMessage) TableName() string { return "direct_message" }
