package events

import (
	"sync"
	"sync/atomic"

	"nestoracle/internal/models"
)

// Hub fans committed events out to live subscribers. A slow subscriber loses
// events instead of blocking the writer; the database stays the source of truth.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan models.OracleEvent
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]chan models.OracleEvent{}}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe(buf int) (<-chan models.OracleEvent, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan models.OracleEvent, buf)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev models.OracleEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
