package redis

import (
	"context"
	"fmt"
	"time"

	"chatrelay/config"

	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// InitRedis 初始化Redis连接
// Redis 仅用于向运维侧镜像在线状态，未启用时所有写入都是空操作
func InitRedis(cfg config.RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		// 连接池配置
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis连接失败: %w", err)
	}
	return nil
}

// Enabled 是否启用了Redis镜像
func Enabled() bool {
	return client != nil
}

// Close 关闭Redis连接
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// HealthCheck 检查Redis健康状态
func HealthCheck() error {
	if client == nil {
		return fmt.Errorf("redis未启用")
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redis连接异常: %w", err)
	}
	return nil
}
