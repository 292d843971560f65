package ws

import (
	"sync"
)

type Conn interface {
	Send(msg Message) error
	Close() error
	UserID() string
}

// Hub — реестр живых соединений; нужен для graceful shutdown
// и подсчёта подключённых клиентов.
type Hub struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll рвёт все соединения; у каждого сработают его
// disconnect-операции в store.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close() // best-effort
	}
}
