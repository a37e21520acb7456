package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client 代表一个WebSocket连接
// 连接建立时是匿名的，identify 成功后才绑定 UserID
// 发送通道关闭后 TrySend 变成空操作，避免向已关闭通道写入

type Client struct {
	UserID string
	Conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// NewClient 创建Client实例
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		Conn: conn,
		send: make(chan []byte, 256),
	}
}

// TrySend 非阻塞投递一条出站消息
// 通道已满或已关闭则丢弃，返回是否投递成功
func (c *Client) TrySend(message []byte) bool {
	if message == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		// 发送失败，可能连接已断开或积压
		return false
	}
}

// Close 关闭发送通道（幂等）
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// SendChan 供写协程消费的出站通道
func (c *Client) SendChan() <-chan []byte {
	return c.send
}
