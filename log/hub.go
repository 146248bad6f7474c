package log

import "sync"

// DefaultHubSize is the default number of recent lines retained.
const DefaultHubSize = 1000

// subscriberBuffer is the per-viewer queue depth. A viewer that falls
// further behind misses lines.
const subscriberBuffer = 256

// Hub retains the most recent log lines and fans new lines out to live
// viewers. Delivery is best effort: slow subscribers drop lines rather than
// block logging.
//
// A Hub is owned by one process-lifetime object (the HTTP server); there is
// no package-level instance.
type Hub struct {
	mu     sync.Mutex
	lines  [][]byte // ring storage
	next   int      // index of the next write
	full   bool
	subs   map[int]chan []byte
	nextID int
}

// NewHub creates a hub retaining up to size lines (DefaultHubSize if <= 0).
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultHubSize
	}
	return &Hub{
		lines: make([][]byte, size),
		subs:  make(map[int]chan []byte),
	}
}

// Write records one encoded entry. Implements io.Writer for zapcore.
func (h *Hub) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lines[h.next] = line
	h.next = (h.next + 1) % len(h.lines)
	if h.next == 0 {
		h.full = true
	}

	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (h *Hub) Sync() error { return nil }

// History returns the retained lines, oldest first.
func (h *Hub) History() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		out := make([][]byte, h.next)
		copy(out, h.lines[:h.next])
		return out
	}
	out := make([][]byte, 0, len(h.lines))
	out = append(out, h.lines[h.next:]...)
	out = append(out, h.lines[:h.next]...)
	return out
}

// Subscribe registers a viewer. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of connected viewers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
