package puzzle

import (
	"sync"

	"github.com/park285/cheese-puzzle/internal/obslog"
	"go.uber.org/zap"
)

// Update is one committed change of a session plus the feedback it produced.
type Update struct {
	Session  *Session
	Feedback []Feedback
	// Async marks updates driven by an analysis result rather than a caller.
	Async bool
}

// Hub fans session updates out to per-session subscribers and global hooks.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Update
	hooks  []func(Update)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Update)}
}

// Subscribe returns a channel of updates for one session and a cancel func.
// Slow readers lose updates rather than block publishers.
func (h *Hub) Subscribe(sessionID string, buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Update, buffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan Update)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if m := h.subs[sessionID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, sessionID)
				}
			}
			close(ch)
		})
	}
}

// OnUpdate registers fn for every published update.
func (h *Hub) OnUpdate(fn func(Update)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

func (h *Hub) Publish(u Update) {
	if u.Session == nil {
		return
	}
	h.mu.RLock()
	hooks := append([]func(Update){}, h.hooks...)
	for _, ch := range h.subs[u.Session.ID] {
		select {
		case ch <- u:
		default:
			obslog.L().Warn("puzzle_update_dropped", zap.String("session_id", u.Session.ID))
		}
	}
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(u)
	}
}
