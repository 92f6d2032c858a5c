package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	hubBuffer    = 64
	writeTimeout = 5 * time.Second
	minInterval  = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 将进度快照广播给所有 websocket 客户端。
// OnProgress 不阻塞模拟循环，广播队列满时丢弃新消息。
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	lastPush  time.Time
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ backtest.Observer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, hubBuffer),
		done:      make(chan struct{}),
	}
}

// Run 推送循环，直到 Close。
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

// send 只在 Run 协程中调用；写入在锁外进行，慢客户端不会卡住 OnProgress。
func (h *Hub) send(msg []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debugf("websocket 客户端断开: %v", err)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		_ = c.Close()
	}
}

// OnProgress 实现 backtest.Observer。成交、拒绝、决策与结束总是推送，
// 普通进度按 minInterval 节流。
func (h *Hub) OnProgress(p backtest.Progress) {
	if h == nil || !h.due(p) {
		return
	}
	msg, err := json.Marshal(p)
	if err != nil {
		logger.Warnf("进度序列化失败: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		// 客户端跟不上，丢弃本条
	}
}

func (h *Hub) due(p backtest.Progress) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return false
	}
	now := time.Now()
	important := len(p.Trades) > 0 || p.Rejection != "" || p.Decision != nil || p.Done
	if !important && now.Sub(h.lastPush) < minInterval {
		return false
	}
	h.lastPush = now
	return true
}

// Clients 当前连接数。
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS 升级连接并注册客户端；读循环只用于感知断开。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket 升级失败: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Close 停止推送并断开全部客户端。
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			_ = c.Close()
			delete(h.clients, c)
		}
		h.mu.Unlock()
	})
}
