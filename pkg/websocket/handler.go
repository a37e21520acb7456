package websocket

import (
	"net/http"
	"time"

	"chatrelay/config"
	"chatrelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// Handler WebSocket接入层
// 每条连接一个读协程（当前协程）+ 一个写协程（含心跳ping）
type Handler struct {
	manager   *Manager
	feed      *Feed
	directory Directory
	dms       DirectMessages
	wsCfg     config.WebSocketConfig
	dbTimeout time.Duration
}

// NewHandler 创建Handler实例
func NewHandler(manager *Manager, feed *Feed, directory Directory, dms DirectMessages, wsCfg config.WebSocketConfig, dbTimeout time.Duration) *Handler {
	return &Handler{
		manager:   manager,
		feed:      feed,
		directory: directory,
		dms:       dms,
		wsCfg:     wsCfg,
		dbTimeout: dbTimeout,
	}
}

// Serve Gin路由处理函数
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := NewClient(conn)
	sess := NewSession(client, h.manager, h.feed, h.directory, h.dms, h.dbTimeout)

	defer func() {
		sess.Close()
		client.Close()
		_ = conn.Close()
	}()

	// 写协程 + 定时发送ping心跳
	go func() {
		ticker := time.NewTicker(h.wsCfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-client.SendChan():
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// 读循环：超时未收到任何读事件则断开
	_ = conn.SetReadDeadline(time.Now().Add(h.wsCfg.ReadTimeout))
	conn.SetPongHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(h.wsCfg.ReadTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.wsCfg.ReadTimeout))
		sess.HandleFrame(payload)
	}
}
