package rtls

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wareline-data/tagfind/internal/monitoring"
)

// Broadcast topics. Subscribers receive every topic and filter client-side.
const (
	TopicPositions      = "positions"
	TopicFinding        = "finding"
	TopicFindingStarted = "finding-started"
	TopicAlerts         = "alerts"
	TopicTagLost        = "tag-lost"
	TopicReaderStatus   = "reader-status"
)

// BroadcastMessage is one frame delivered to hub subscribers.
type BroadcastMessage struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// subscriberBufferSize bounds each subscriber's channel; a slow consumer
// drops frames rather than stalling the hub.
const subscriberBufferSize = 32

// statsLogInterval spaces the hub's periodic throughput log lines.
const statsLogInterval = 5 * time.Second

// Hub fans broadcast messages out to subscribed clients. Publishing never
// blocks: a subscriber whose buffer is full misses the frame, and the drop
// is counted. Used by the orchestrator's broadcast cycle and consumed by
// the SSE streaming endpoint.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan BroadcastMessage

	published atomic.Uint64
	dropped   atomic.Uint64

	statsMu       sync.Mutex
	lastStatsTime time.Time
	lastPublished uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan BroadcastMessage)}
}

// Subscribe registers a new client and returns its id and receive channel.
// The channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan BroadcastMessage) {
	id := uuid.NewString()
	ch := make(chan BroadcastMessage, subscriberBufferSize)
	h.mu.Lock()
	h.subscribers[id] = ch
	count := len(h.subscribers)
	h.mu.Unlock()
	monitoring.Logf("broadcast: client %s connected (total: %d)", id, count)
	return id, ch
}

// Unsubscribe removes a client and closes its channel. Safe to call for an
// unknown id.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	if ok {
		close(ch)
		monitoring.Logf("broadcast: client %s disconnected (remaining: %d)", id, count)
	}
}

// Publish delivers the message to every subscriber without blocking.
func (h *Hub) Publish(msg BroadcastMessage) {
	h.mu.RLock()
	for _, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.RUnlock()

	count := h.published.Add(1)
	h.logPeriodicStats(count)
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// DroppedCount returns the total frames dropped to slow subscribers.
func (h *Hub) DroppedCount() uint64 {
	return h.dropped.Load()
}

func (h *Hub) logPeriodicStats(published uint64) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	now := time.Now()
	if h.lastStatsTime.IsZero() {
		h.lastStatsTime = now
		h.lastPublished = published
		return
	}
	elapsed := now.Sub(h.lastStatsTime)
	if elapsed < statsLogInterval {
		return
	}
	interval := published - h.lastPublished
	rate := float64(interval) / elapsed.Seconds()
	monitoring.Logf("broadcast: stats rate=%.1f/s published=%d dropped=%d clients=%d",
		rate, interval, h.dropped.Load(), h.SubscriberCount())
	h.lastStatsTime = now
	h.lastPublished = published
}
