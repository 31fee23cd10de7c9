package simulator

import (
	"sync"
	"sync/atomic"
)

// Subscriber - очередь исходящих кадров одного клиента
type Subscriber struct {
	send chan []byte
}

// Hub рассылает кадры всем подключенным клиентам. Доставка best-effort:
// если очередь клиента заполнена, кадр для него отбрасывается.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Subscriber]struct{}
	queueSize int
	dropped   atomic.Uint64
}

// NewHub создает хаб с заданной длиной очереди на клиента
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Hub{
		clients:   make(map[*Subscriber]struct{}),
		queueSize: queueSize,
	}
}

// Register добавляет клиента. initial кладутся в очередь раньше любых рассылок.
func (h *Hub) Register(initial ...[]byte) *Subscriber {
	size := h.queueSize
	if len(initial) > size {
		size = len(initial)
	}
	sub := &Subscriber{send: make(chan []byte, size)}
	for _, frame := range initial {
		sub.send <- frame
	}

	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unregister удаляет клиента и закрывает его очередь. Повторный вызов безопасен.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
}

// Broadcast ставит кадр в очередь каждому клиенту и возвращает число получателей
func (h *Hub) Broadcast(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.clients {
		select {
		case sub.send <- frame:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// CloseAll отключает всех клиентов
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
	}
}

// Count возвращает число подключенных клиентов
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped возвращает число отброшенных кадров
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
