package relay

import (
	"sync"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind starts dropping entries rather than stalling the
// relay.
const subscriberBuffer = 64

// Hub fans stream entries out to the subscribers of each job. Subscribers
// join a job's room and receive every entry relayed after they joined.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan progress.StreamEntry]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[chan progress.StreamEntry]struct{})}
}

// Join subscribes to a job's entries. The returned channel is closed on
// Leave.
func (h *Hub) Join(jobID string) chan progress.StreamEntry {
	ch := make(chan progress.StreamEntry, subscriberBuffer)

	h.mu.Lock()
	room, ok := h.rooms[jobID]
	if !ok {
		room = make(map[chan progress.StreamEntry]struct{})
		h.rooms[jobID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *Hub) Leave(jobID string, ch chan progress.StreamEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[jobID]
	if !ok {
		return
	}
	if _, member := room[ch]; !member {
		return
	}
	delete(room, ch)
	close(ch)
	if len(room) == 0 {
		delete(h.rooms, jobID)
	}
}

// Broadcast delivers one entry to every current subscriber of the job.
// Sends never block; a full subscriber drops the entry.
func (h *Hub) Broadcast(jobID string, entry progress.StreamEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.rooms[jobID] {
		select {
		case ch <- entry:
		default:
			log.Warn("Dropping stream entry %d for slow subscriber of job %s", entry.ID, jobID)
		}
	}
}

// Subscribers reports the current subscriber count for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[jobID])
}
