package server

import (
	"encoding/json"
	"sync"

	"bdsinspector/monitor"
)

// Hub 管理订阅玩家快照的 WebSocket 客户端
type Hub struct {
	mu      sync.RWMutex
	clients map[*ClientConn]struct{}
	last    []byte
}

// NewHub 创建空的订阅中心
func NewHub() *Hub {
	return &Hub{clients: make(map[*ClientConn]struct{})}
}

// snapshotMessage 推送给客户端的快照消息
type snapshotMessage struct {
	Type string `json:"type"`
	monitor.Snapshot
}

// Publish 将快照广播给所有客户端（满则丢弃），并记住最近一次用于新连接
func (h *Hub) Publish(s monitor.Snapshot) {
	b, err := json.Marshal(snapshotMessage{Type: "players", Snapshot: s})
	if err != nil {
		Log.Errorf("marshal snapshot: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = b
	for c := range h.clients {
		c.Enqueue(b)
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) join(c *ClientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.Enqueue(h.last)
	}
}

// leave 在持有写锁时移除并关闭发送队列，避免与 Publish 并发写入已关闭的通道
func (h *Hub) leave(c *ClientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.closeSend()
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.closeSend()
	}
}
