package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/config"
	"chatrelay/internal/handler"
	"chatrelay/internal/model"
	"chatrelay/internal/repository"
	"chatrelay/internal/service"
	dbPkg "chatrelay/pkg/db"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/metrics"
	redisPkg "chatrelay/pkg/redis"
	"chatrelay/pkg/response"
	"chatrelay/pkg/upload"
	wsPkg "chatrelay/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== 聊天中继服务启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database),
		zap.Int("feed_capacity", cfg.Chat.FeedCapacity),
		zap.Duration("rename_window", cfg.Chat.RenameWindow),
		zap.Int("rename_limit", cfg.Chat.RenameLimit),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	db, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(&model.User{}, &model.NicknameChange{}, &model.DirectMessage{}); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 初始化Redis在线状态镜像（可选）
	if err := redisPkg.InitRedis(cfg.Redis); err != nil {
		// 镜像不可用不影响核心功能
		log.Warn("Redis初始化失败，在线状态镜像关闭", zap.Error(err))
	}
	defer func() {
		_ = redisPkg.Close()
	}()

	// 3.3 初始化业务服务
	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	directorySvc := service.NewDirectoryService(userRepo, cfg.Chat.RenameWindow, cfg.Chat.RenameLimit)
	dmSvc := service.NewDMService(messageRepo, userRepo)

	// 3.4 进程级共享状态：在线名册与全局消息缓冲区
	// 启动时为空，随进程终止丢弃，所有变更只经由各自的操作入口
	presence := wsPkg.NewManager()
	feed := wsPkg.NewFeed(cfg.Chat.FeedCapacity, presence)

	wsHandler := wsPkg.NewHandler(presence, feed, directorySvc, dmSvc, cfg.WebSocket, cfg.Database.QueryTimeout)
	uploadHandler := handler.NewUploadHandler(upload.NewSigner(cfg.Upload))

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := gin.New()
	router.Use(logger.LoggerMiddleware())      // 自定义日志中间件
	router.Use(logger.ErrorLoggerMiddleware()) // 错误日志中间件
	router.Use(metrics.GinMiddleware())        // 请求指标中间件

	// 6. 基础路由
	setupBasicRoutes(router, presence, feed)

	// 6.1 上传签名接口
	v1 := router.Group("/api/v1")
	{
		v1.GET("/uploads/sign", uploadHandler.Sign)
	}

	// 6.2 客户端静态文件（可选）
	if cfg.Static.Dir != "" {
		router.Static("/app", cfg.Static.Dir)
	}

	// WebSocket路由
	router.GET("/ws", wsHandler.Serve)

	// Prometheus指标
	router.GET("/metrics", metrics.Handler())

	// 7. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 设置基础路由
func setupBasicRoutes(router *gin.Engine, presence *wsPkg.Manager, feed *wsPkg.Feed) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := dbPkg.HealthCheck(); err != nil {
			status = "db-down"
		}
		redisStatus := "disabled"
		if redisPkg.Enabled() {
			redisStatus = "ok"
			if err := redisPkg.HealthCheck(); err != nil {
				redisStatus = "down"
			}
		}
		response.Success(c, gin.H{
			"status":       status,
			"redis":        redisStatus,
			"online_count": presence.Online(),
			"feed_length":  feed.Len(),
			"time":         time.Now().Format(time.RFC3339),
		})
	})

	// 根路径
	router.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "聊天中继服务",
			"version": "1.0.0",
		})
	})
}
