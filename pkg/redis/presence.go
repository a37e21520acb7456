package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// PresenceData 在线状态镜像数据
// 真正的在线名册由进程内的 Presence Registry 持有，这里只是对外的只读副本
type PresenceData struct {
	UserID   string    `json:"user_id"`
	Nickname string    `json:"nickname"`
	Status   string    `json:"status"` // online/offline
	LastSeen time.Time `json:"last_seen"`
}

const (
	presenceKeyPrefix = "chatrelay:presence:user:" // 用户在线状态key前缀
	onlineUsersKey    = "chatrelay:online:users"   // 在线用户集合key
	presenceTTL       = 2 * time.Minute            // 在线状态TTL（2倍心跳周期）
)

// SetUserPresence 镜像用户在线状态（未启用Redis时为空操作）
func SetUserPresence(userID, nickname, status string) error {
	if client == nil {
		return nil
	}

	key := presenceKeyPrefix + userID

	presence := PresenceData{
		UserID:   userID,
		Nickname: nickname,
		Status:   status,
		LastSeen: time.Now(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("序列化在线状态失败: %w", err)
	}

	if err := client.Set(ctx, key, data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("设置用户在线状态失败: %w", err)
	}

	// 更新在线用户集合
	if status == "online" {
		err = client.SAdd(ctx, onlineUsersKey, userID).Err()
	} else {
		err = client.SRem(ctx, onlineUsersKey, userID).Err()
	}
	if err != nil {
		return fmt.Errorf("更新在线用户集合失败: %w", err)
	}

	return nil
}

// RefreshUserPresence 刷新用户在线状态（延长TTL）
func RefreshUserPresence(userID string) error {
	if client == nil {
		return nil
	}

	key := presenceKeyPrefix + userID

	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("检查用户状态失败: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("用户不在线")
	}

	if err := client.Expire(ctx, key, presenceTTL).Err(); err != nil {
		return fmt.Errorf("刷新用户在线状态失败: %w", err)
	}
	return nil
}

// GetOnlineUsers 获取镜像中的在线用户ID列表
func GetOnlineUsers() ([]string, error) {
	if client == nil {
		return nil, nil
	}

	members, err := client.SMembers(ctx, onlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取在线用户列表失败: %w", err)
	}
	return members, nil
}
