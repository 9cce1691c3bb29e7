package parking

import "sync"

// History is a bounded ring of closed events, safe for concurrent use.
type History struct {
	mu     sync.Mutex
	events []ParkingEvent
	next   int
	full   bool
	total  int
}

// NewHistory returns a ring holding at most capacity events.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{events: make([]ParkingEvent, capacity)}
}

// Add archives ev, overwriting the oldest entry when full.
func (h *History) Add(ev ParkingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = ev
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
	h.total++
}

// Events returns the retained events, oldest first.
func (h *History) Events() []ParkingEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]ParkingEvent, h.next)
		copy(out, h.events[:h.next])
		return out
	}
	out := make([]ParkingEvent, 0, len(h.events))
	out = append(out, h.events[h.next:]...)
	return append(out, h.events[:h.next]...)
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.events)
	}
	return h.next
}

// Total returns how many events were ever added.
func (h *History) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.events)
}
