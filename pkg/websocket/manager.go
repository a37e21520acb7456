package websocket

import (
	"sync"
)

// presenceEntry 一个已认证身份的在线记录
// nickname 是目录中昵称的冗余副本，改名时同步更新
type presenceEntry struct {
	nickname string
	client   *Client
}

// Manager 在线名册（Presence Registry）
// key 集合等于当前已认证的在线身份集合，每个身份恰好一个活跃连接
// 所有变更操作在持锁期间完成名册广播，观察者不会看到已被覆盖的状态

type Manager struct {
	mu      sync.RWMutex
	clients map[string]*presenceEntry
}

// NewManager 创建Manager实例
func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*presenceEntry),
	}
}

// Join 身份上线
// 同一身份重复上线时新连接顶替旧连接（旧连接的发送通道被关闭）
func (m *Manager) Join(userID, nickname string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.clients[userID]; ok && old.client != client {
		old.client.Close()
	}
	m.clients[userID] = &presenceEntry{nickname: nickname, client: client}
	m.broadcastRosterLocked()
}

// UpdateNickname 同步改名后的昵称副本
func (m *Manager) UpdateNickname(userID, nickname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.clients[userID]
	if !ok {
		return
	}
	entry.nickname = nickname
	m.broadcastRosterLocked()
}

// Leave 身份下线
// 仅当名册中登记的还是该连接时移除（被顶替的旧连接下线不影响新条目）
func (m *Manager) Leave(userID string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.clients[userID]
	if !ok || entry.client != client {
		return
	}
	delete(m.clients, userID)
	m.broadcastRosterLocked()
}

// ListIDs 当前在线的身份ID列表
func (m *Manager) ListIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rosterLocked()
}

// FindByID 按身份查找在线连接，不在线返回nil
func (m *Manager) FindByID(userID string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.clients[userID]; ok {
		return entry.client
	}
	return nil
}

// FindByNickname 按昵称查找在线连接，不在线返回nil
// 线性扫描：名册大小受并发连接数约束，规模可控
func (m *Manager) FindByNickname(nickname string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.clients {
		if entry.nickname == nickname {
			return entry.client
		}
	}
	return nil
}

// Online 在线连接数
func (m *Manager) Online() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast 向所有在线连接投递一条消息
func (m *Manager) Broadcast(message []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.broadcastLocked(message)
}

func (m *Manager) broadcastLocked(message []byte) {
	if message == nil {
		return
	}
	for _, entry := range m.clients {
		entry.client.TrySend(message)
	}
}

func (m *Manager) rosterLocked() []string {
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// broadcastRosterLocked 变更后立刻广播完整在线ID列表
func (m *Manager) broadcastRosterLocked() {
	m.broadcastLocked(encodeEvent(EventOnlineUsersUpdate, rosterPayload{UserIDs: m.rosterLocked()}))
}
