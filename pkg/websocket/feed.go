package websocket

import (
	"sync"
	"time"

	"chatrelay/pkg/metrics"
)

// broadcaster 广播能力，由 Manager 实现
type broadcaster interface {
	Broadcast(message []byte)
}

// GlobalMessage 全局广播消息（仅存内存，进程重启即丢失）
// SenderNickname 是发送时刻的快照，发送者之后改名也不回填，
// 保留历史署名是刻意设计
type GlobalMessage struct {
	ID             int64     `json:"id"`
	SenderID       string    `json:"sender_id"`
	SenderNickname string    `json:"sender_nickname"`
	Body           string    `json:"body"`
	Kind           string    `json:"kind"`
	SentAt         time.Time `json:"sent_at"`
}

// Feed 全局消息缓冲区（Global Feed）
// 有界FIFO：超出容量时先进的消息先被淘汰
// 追加与删除都在持锁期间完成广播，保证观察顺序与变更顺序一致

type Feed struct {
	mu       sync.Mutex
	capacity int
	lastID   int64
	messages []GlobalMessage
	hub      broadcaster
}

// NewFeed 创建Feed实例
func NewFeed(capacity int, hub broadcaster) *Feed {
	if capacity <= 0 {
		capacity = 100
	}
	return &Feed{
		capacity: capacity,
		messages: make([]GlobalMessage, 0, capacity),
		hub:      hub,
	}
}

// Append 追加一条全局消息并广播
// ID 取纳秒时间戳并保证单调递增
func (f *Feed) Append(senderID, senderNickname, body, kind string) GlobalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := time.Now().UnixNano()
	if id <= f.lastID {
		id = f.lastID + 1
	}
	f.lastID = id

	message := GlobalMessage{
		ID:             id,
		SenderID:       senderID,
		SenderNickname: senderNickname,
		Body:           body,
		Kind:           kind,
		SentAt:         time.Now(),
	}

	f.messages = append(f.messages, message)
	if len(f.messages) > f.capacity {
		// FIFO淘汰最老的一条
		copy(f.messages, f.messages[1:])
		f.messages = f.messages[:f.capacity]
	}

	f.hub.Broadcast(encodeEvent(EventNewGlobalMessage, message))
	metrics.GlobalMessagesTotal.Inc()
	return message
}

// DeleteIfOwned 删除指定消息，仅发送者本人可删
// 删除成功才广播删除事件，返回是否发生了删除
func (f *Feed) DeleteIfOwned(messageID int64, requesterID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, m := range f.messages {
		if m.ID != messageID {
			continue
		}
		if m.SenderID != requesterID {
			return false
		}
		f.messages = append(f.messages[:i], f.messages[i+1:]...)
		f.hub.Broadcast(encodeEvent(EventGlobalMessageDeleted, globalMessageDeletedPayload{MessageID: messageID}))
		return true
	}
	return false
}

// Snapshot 当前缓冲区的有序副本，作为新连接的一次性回放
func (f *Feed) Snapshot() []GlobalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]GlobalMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

// Len 当前缓冲区长度
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
