package backend

import (
	"log/slog"
	"sync"

	"github.com/soamn/slicePDF/internal/logging"
)

const eventBuffer = 4

type subscriber struct {
	names map[string]bool
	ch    chan Event
}

// hub routes engine notifications to the invocations waiting for them.
type hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &hub{subs: make(map[int]*subscriber), logger: logger}
}

func (h *hub) subscribe(names ...string) (<-chan Event, func()) {
	sub := &subscriber{names: make(map[string]bool, len(names)), ch: make(chan Event, eventBuffer)}
	for _, name := range names {
		sub.names[name] = true
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// publish hands ev to the oldest live subscriber for its name. A signal
// completes one invocation, never several.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	target := -1
	for id, sub := range h.subs {
		if sub.names[ev.Name] && (target < 0 || id < target) {
			target = id
		}
	}
	if target < 0 {
		h.logger.Debug("backend.event_unclaimed", "event", ev.Name)
		return
	}
	select {
	case h.subs[target].ch <- ev:
	default:
		h.logger.Warn("backend.event_dropped", "event", ev.Name)
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
